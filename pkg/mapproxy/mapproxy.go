// Package mapproxy lets a browser client read and write map data stored on a
// rentry.co style pastebin. It fetches the CSRF token the service demands,
// forwards one upstream call per request and enforces a CORS origin
// allow-list. It is transport agnostic; see the handlers and worker packages
// for the HTTP server and serverless front ends.
package mapproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"
)

// #############################################################################
// # Types
// #############################################################################

// Request is an inbound request, independent of the hosting transport.
type Request struct {
	Method string
	Query  url.Values
	Origin string
	Body   []byte
}

// Response is what the transport should write back.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       string
}

var ErrNoData = errors.New("no data")

// Error carries the HTTP status an operation failed with.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%v)", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Observer is notified about every handled request and upstream call.
type Observer interface {
	ObserveRequest(operation string, status int, elapsed time.Duration)
	ObserveUpstream(call string, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int, time.Duration)    {}
func (nopObserver) ObserveUpstream(string, error, time.Duration) {}

// #############################################################################
// # Proxy
// #############################################################################

type Proxy struct {
	client   *Client
	tokens   TokenSource
	origins  *AllowList
	observer Observer

	readOnly      bool
	requireSecret bool
	secret        string
}

type options struct {
	httpClient *http.Client
	tokens     TokenSource
	observer   Observer
}

type Option func(*options)

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTokenSource replaces the configured CSRF token source.
func WithTokenSource(ts TokenSource) Option {
	return func(o *options) { o.tokens = ts }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// New validates cfg and creates a Proxy.
func New(cfg Config, opts ...Option) (*Proxy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}

	client, err := NewClient(cfg, o.httpClient)
	if err != nil {
		return nil, err
	}
	client.observer = o.observer

	if o.tokens == nil {
		o.tokens, err = NewTokenSource(cfg, client)
		if err != nil {
			return nil, err
		}
	}

	origins := cfg.Origins()
	log.Printf("INFO: Allowing %d origins, upstream %s", len(origins), cfg.UpstreamURL)

	return &Proxy{
		client:        client,
		tokens:        o.tokens,
		origins:       NewAllowList(origins, cfg.ReadOnly),
		observer:      o.observer,
		readOnly:      cfg.ReadOnly,
		requireSecret: cfg.RequireAccessSecret,
		secret:        cfg.AccessSecret,
	}, nil
}

// Handle serves one request. Requests from origins outside the allow-list are
// answered with 403 and no CORS headers, whatever the method.
func (p *Proxy) Handle(ctx context.Context, req Request) (resp Response) {
	start := time.Now()
	op := operation(req.Method, p.readOnly)
	defer func() {
		p.observer.ObserveRequest(op, resp.StatusCode, time.Since(start))
	}()

	cors, err := p.origins.Headers(req.Origin)
	if err != nil {
		log.Printf("WARN: Rejected %s request from origin %q", req.Method, req.Origin)
		return textResponse(http.StatusForbidden, "Unknown origin", nil)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Unexpected error handling %s request: %v", req.Method, r)
			resp = textResponse(http.StatusInternalServerError, fmt.Sprintf("Unexpected error (%v)", r), cors)
		}
	}()

	switch op {
	case "load":
		content, err := p.Load(ctx, req.Query.Get("map"))
		if err != nil {
			return errorResponse(err, cors)
		}
		resp = textResponse(http.StatusOK, content, cors)
		resp.Header.Set("Content-Type", "text/plain")
		return resp

	case "save":
		err := p.Save(ctx, req.Query.Get("map"), req.Query.Get("key"), string(req.Body))
		if err != nil {
			return errorResponse(err, cors)
		}
		return textResponse(http.StatusOK, "", cors)

	case "preflight":
		return textResponse(http.StatusOK, "", cors)
	}

	return textResponse(http.StatusBadRequest, "Bad request", cors)
}

// Load returns the content of map id.
func (p *Proxy) Load(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", &Error{Status: http.StatusBadRequest, Message: "Missing map parameter"}
	}

	var (
		tok    *Token
		secret string
	)
	if p.requireSecret {
		if p.secret == "" {
			return "", &Error{Status: http.StatusUnauthorized, Message: "Missing auth code for Rentry API"}
		}
		t, err := p.fetchToken(ctx)
		if err != nil {
			return "", err
		}
		tok, secret = &t, p.secret
	}

	raw, err := p.client.Raw(ctx, id, tok, secret)
	if err != nil {
		log.Printf("ERROR: Failed to load map %s: %v", id, err)
		return "", &Error{Status: http.StatusInternalServerError, Message: "Failed to load map data", Err: err}
	}

	content, err := decodeContent(raw)
	if errors.Is(err, ErrNoData) {
		return "", &Error{Status: http.StatusInternalServerError, Message: "No data", Err: nil}
	}
	if err != nil {
		log.Printf("ERROR: Failed to decode map %s: %v", id, err)
		return "", &Error{Status: http.StatusInternalServerError, Message: "Failed to load map data", Err: err}
	}
	return content, nil
}

// Save replaces the content of map id, authorised by the edit key.
func (p *Proxy) Save(ctx context.Context, id, key, text string) error {
	if id == "" || key == "" {
		return &Error{Status: http.StatusBadRequest, Message: "Missing map or key parameter"}
	}

	tok, err := p.fetchToken(ctx)
	if err != nil {
		return err
	}

	if err := p.client.Edit(ctx, id, key, text, tok); err != nil {
		log.Printf("ERROR: Failed to save map %s: %v", id, err)
		return &Error{Status: http.StatusInternalServerError, Message: "Failed to save map data", Err: err}
	}
	return nil
}

func (p *Proxy) fetchToken(ctx context.Context) (Token, error) {
	tok, err := p.tokens.FetchSessionToken(ctx)
	if errors.Is(err, ErrNoToken) {
		log.Printf("ERROR: Upstream did not set a CSRF cookie")
		return Token{}, &Error{Status: http.StatusInternalServerError, Message: ErrNoToken.Error()}
	}
	if err != nil {
		log.Printf("ERROR: Could not fetch CSRF token: %v", err)
		return Token{}, &Error{Status: http.StatusInternalServerError, Message: ErrNoToken.Error(), Err: err}
	}
	return tok, nil
}

// #############################################################################
// # Helper Functions
// #############################################################################

func operation(method string, readOnly bool) string {
	switch method {
	case http.MethodGet:
		return "load"
	case http.MethodPut:
		if !readOnly {
			return "save"
		}
	case http.MethodOptions:
		return "preflight"
	}
	return "unsupported"
}

// decodeContent extracts the "content" string from a raw upstream payload. The
// payload may be a JSON object or a JSON string holding one.
func decodeContent(raw []byte) (string, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("error decoding raw response: %w", err)
	}
	if s, ok := payload.(string); ok {
		if err := json.Unmarshal([]byte(s), &payload); err != nil {
			return "", fmt.Errorf("error decoding raw response string: %w", err)
		}
	}

	obj, _ := payload.(map[string]any)
	content, ok := obj["content"].(string)
	if !ok {
		return "", ErrNoData
	}
	return content, nil
}

func textResponse(status int, body string, cors http.Header) Response {
	header := make(http.Header, len(cors)+1)
	for k, v := range cors {
		header[k] = append([]string(nil), v...)
	}
	return Response{StatusCode: status, Header: header, Body: body}
}

func errorResponse(err error, cors http.Header) Response {
	var e *Error
	if errors.As(err, &e) {
		return textResponse(e.Status, e.Error(), cors)
	}
	log.Printf("ERROR: %v", err)
	return textResponse(http.StatusInternalServerError, fmt.Sprintf("Unexpected error (%v)", err), cors)
}
