package mapproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxBodySize caps how much of an upstream response is read.
const maxBodySize = 8 << 20

// Client talks to the upstream text-storage service (a rentry.co compatible
// API). It never retries.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	encoding  string
	logURLs   bool
	observer  Observer
}

// NewClient creates an upstream client. httpClient may be nil, in which case
// one is built from cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(cfg.UpstreamURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("error parsing upstream URL: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: time.Second * time.Duration(cfg.Timeout),
		}
	}

	return &Client{
		baseURL:   u,
		http:      httpClient,
		userAgent: cfg.UserAgent,
		encoding:  cfg.EditEncoding,
		logURLs:   cfg.LogURLs,
		observer:  nopObserver{},
	}, nil
}

// Home fetches the service's landing page. Only its cookies and markup are of
// interest, for CSRF token extraction.
func (c *Client) Home(ctx context.Context) (http.Header, []byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(), nil)
	if err != nil {
		return nil, nil, err
	}
	return c.do(req, "home")
}

// Raw fetches the raw document for id. With a nil token the request is a plain
// GET; otherwise it is a POST carrying the CSRF cookie and form token, plus the
// access secret when one is given.
func (c *Client) Raw(ctx context.Context, id string, tok *Token, secret string) ([]byte, error) {
	endpoint := c.endpoint("api", "raw", id)

	var (
		req *http.Request
		err error
	)
	if tok == nil {
		req, err = c.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
	} else {
		form := url.Values{"csrfmiddlewaretoken": {tok.Field}}
		req, err = c.newRequest(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Cookie", tok.cookieHeader())
		if secret != "" {
			req.Header.Set("rentry-auth", secret)
		}
	}

	_, body, err := c.do(req, "raw")
	return body, err
}

// Edit replaces the content of id with text.
func (c *Client) Edit(ctx context.Context, id, key, text string, tok Token) error {
	fields := url.Values{
		"csrfmiddlewaretoken": {tok.Field},
		"edit_code":           {key},
		"text":                {text},
	}

	body, contentType, err := c.encodeForm(fields)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("api", "edit", id), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cookie", tok.cookieHeader())

	_, reply, err := c.do(req, "edit")
	if err != nil {
		return err
	}
	return checkEditReply(reply)
}

func (c *Client) encodeForm(fields url.Values) (io.Reader, string, error) {
	if c.encoding != EncodingMultipart {
		return strings.NewReader(fields.Encode()), "application/x-www-form-urlencoded", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	// Fixed field order keeps the payload stable.
	for _, name := range []string{"csrfmiddlewaretoken", "edit_code", "text"} {
		if err := w.WriteField(name, fields.Get(name)); err != nil {
			return nil, "", fmt.Errorf("error encoding multipart field %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("error closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) endpoint(elem ...string) string {
	u := *c.baseURL
	if len(elem) == 0 {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/"
		return u.String()
	}
	return u.JoinPath(elem...).String()
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("error building upstream request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.baseURL.String())
	return req, nil
}

// do executes req and returns the response headers and body. Any status
// outside 2xx is an error.
func (c *Client) do(req *http.Request, call string) (_ http.Header, _ []byte, err error) {
	if c.logURLs {
		log.Printf("INFO: %s %s", req.Method, req.URL.String())
	}

	start := time.Now()
	defer func() {
		c.observer.ObserveUpstream(call, err, time.Since(start))
	}()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("error calling upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("error reading upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.Header, body, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return resp.Header, body, nil
}

// checkEditReply inspects the JSON reply of an edit. The service answers with
// HTTP 200 even on failure and reports the real outcome in a "status" field.
// Replies that are not JSON objects are taken as success.
func checkEditReply(reply []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(reply, &payload); err != nil {
		return nil
	}

	status, ok := payload["status"]
	if !ok || fmt.Sprint(status) == "200" {
		return nil
	}

	msg := fmt.Sprint(status)
	for _, field := range []string{"errors", "content"} {
		if v, ok := payload[field]; ok && v != nil {
			msg = fmt.Sprintf("%v: %v", status, v)
			break
		}
	}
	return fmt.Errorf("upstream rejected edit (%s)", msg)
}
