package mapproxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var ErrNoToken = errors.New("failed to extract token")

// Token is a CSRF token pair. Cookie goes back in the Cookie header, Field in
// the csrfmiddlewaretoken form value.
type Token struct {
	Name   string
	Cookie string
	Field  string
}

func (t Token) cookieHeader() string {
	return t.Name + "=" + t.Cookie + ";"
}

// TokenSource obtains a fresh CSRF token from the upstream service.
// Implementations return an error wrapping ErrNoToken when the service did not
// hand one out.
type TokenSource interface {
	FetchSessionToken(ctx context.Context) (Token, error)
}

// NewTokenSource returns the TokenSource named by cfg.TokenSource.
func NewTokenSource(cfg Config, client *Client) (TokenSource, error) {
	switch cfg.TokenSource {
	case TokenSourceCookie, "":
		return &CookieTokenSource{Client: client, CookieName: cfg.CookieName}, nil
	case TokenSourceDocument:
		return &DocumentTokenSource{Client: client, CookieName: cfg.CookieName}, nil
	}
	return nil, fmt.Errorf("unknown csrf source %q", cfg.TokenSource)
}

// CookieTokenSource reads the token from the session cookie the home page
// sets. The same value is used for the cookie and the form field.
type CookieTokenSource struct {
	Client     *Client
	CookieName string
}

func (s *CookieTokenSource) FetchSessionToken(ctx context.Context) (Token, error) {
	header, _, err := s.Client.Home(ctx)
	if err != nil {
		return Token{}, err
	}

	value, ok := sessionCookie(header, s.CookieName)
	if !ok {
		return Token{}, ErrNoToken
	}
	return Token{Name: s.CookieName, Cookie: value, Field: value}, nil
}

// DocumentTokenSource also reads the session cookie, but takes the form token
// from the csrfmiddlewaretoken input of the home page when there is one.
type DocumentTokenSource struct {
	Client     *Client
	CookieName string
}

func (s *DocumentTokenSource) FetchSessionToken(ctx context.Context) (Token, error) {
	header, body, err := s.Client.Home(ctx)
	if err != nil {
		return Token{}, err
	}

	value, ok := sessionCookie(header, s.CookieName)
	if !ok {
		return Token{}, ErrNoToken
	}
	tok := Token{Name: s.CookieName, Cookie: value, Field: value}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return tok, nil
	}
	if field, ok := doc.Find(`input[name="csrfmiddlewaretoken"]`).First().Attr("value"); ok && field != "" {
		tok.Field = field
	}
	return tok, nil
}

// sessionCookie finds the cookie called name among the Set-Cookie headers. Each
// header is cut at the first ";" and the pair at the first "=".
func sessionCookie(header http.Header, name string) (string, bool) {
	for _, line := range header.Values("Set-Cookie") {
		pair, _, _ := strings.Cut(line, ";")
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) != name {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			return value, true
		}
	}
	return "", false
}
