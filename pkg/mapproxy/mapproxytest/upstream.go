// Package mapproxytest provides an in-memory stand-in for the upstream
// text-storage service, for use in tests.
package mapproxytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Upstream mimics the parts of the rentry.co API the proxy uses: the home page
// that hands out the csrftoken cookie, /api/raw/<id> and /api/edit/<id>.
type Upstream struct {
	*httptest.Server

	mu sync.Mutex

	token     string
	formToken string
	noCookie  bool
	raw       map[string]string
	rawStatus int

	docs map[string]string
	keys map[string]string

	requests            []string
	lastAuth            string
	lastEditContentType string
}

// Token is the CSRF cookie value the fake hands out.
const Token = "tok123"

// NewUpstream starts a fake upstream. Callers must Close it.
func NewUpstream() *Upstream {
	u := &Upstream{
		token: Token,
		raw:   map[string]string{},
		docs:  map[string]string{},
		keys:  map[string]string{},
	}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	return u
}

// SetFormToken renders token as the csrfmiddlewaretoken input of the home
// page. It then becomes the only form value the fake accepts.
func (u *Upstream) SetFormToken(token string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.formToken = token
}

// SetNoCookie stops the home page from setting the csrftoken cookie.
func (u *Upstream) SetNoCookie(noCookie bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.noCookie = noCookie
}

// SetRaw overrides the body returned by /api/raw/<id>.
func (u *Upstream) SetRaw(id, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.raw[id] = body
}

// SetRawStatus overrides the HTTP status of /api/raw/<id>.
func (u *Upstream) SetRawStatus(status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rawStatus = status
}

// LastAuth is the rentry-auth header of the last privileged raw request.
func (u *Upstream) LastAuth() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastAuth
}

// LastEditContentType is the Content-Type of the last edit request.
func (u *Upstream) LastEditContentType() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastEditContentType
}

// Put stores a document with its edit key.
func (u *Upstream) Put(id, key, content string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.docs[id] = content
	u.keys[id] = key
}

// Doc returns the stored content of id.
func (u *Upstream) Doc(id string) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	content, ok := u.docs[id]
	return content, ok
}

// Calls returns "METHOD path" for every request received so far.
func (u *Upstream) Calls() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.requests...)
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.requests = append(u.requests, r.Method+" "+r.URL.Path)

	switch {
	case r.URL.Path == "/":
		u.serveHome(w)
	case strings.HasPrefix(r.URL.Path, "/api/raw/"):
		u.serveRaw(w, r, strings.TrimPrefix(r.URL.Path, "/api/raw/"))
	case strings.HasPrefix(r.URL.Path, "/api/edit/"):
		u.serveEdit(w, r, strings.TrimPrefix(r.URL.Path, "/api/edit/"))
	default:
		http.NotFound(w, r)
	}
}

func (u *Upstream) serveHome(w http.ResponseWriter) {
	if !u.noCookie {
		w.Header().Add("Set-Cookie", "sessionid=abc; Path=/")
		w.Header().Add("Set-Cookie", fmt.Sprintf("csrftoken=%s; expires=Thu, 01 Jan 2099 00:00:00 GMT; Max-Age=31449600; Path=/; SameSite=Lax", u.token))
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `<html><body><form method="post">`)
	if u.formToken != "" {
		fmt.Fprintf(w, `<input type="hidden" name="csrfmiddlewaretoken" value="%s">`, u.formToken)
	}
	fmt.Fprint(w, `<textarea name="text"></textarea></form></body></html>`)
}

func (u *Upstream) serveRaw(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method == http.MethodPost {
		u.lastAuth = r.Header.Get("rentry-auth")
		if !u.validCSRF(r) {
			http.Error(w, "CSRF verification failed", http.StatusForbidden)
			return
		}
	}

	if u.rawStatus != 0 {
		w.WriteHeader(u.rawStatus)
	}
	if body, ok := u.raw[id]; ok {
		fmt.Fprint(w, body)
		return
	}

	content, ok := u.docs[id]
	if !ok {
		writeJSON(w, map[string]any{"status": "404", "content": nil})
		return
	}
	writeJSON(w, map[string]any{"status": "200", "content": content})
}

func (u *Upstream) serveEdit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	u.lastEditContentType = r.Header.Get("Content-Type")

	if !u.validCSRF(r) {
		http.Error(w, "CSRF verification failed", http.StatusForbidden)
		return
	}

	key, ok := u.keys[id]
	if !ok {
		writeJSON(w, map[string]any{"status": "404", "content": "Entry not found"})
		return
	}
	if r.PostFormValue("edit_code") != key {
		writeJSON(w, map[string]any{"status": "400", "content": "Invalid edit code"})
		return
	}

	u.docs[id] = r.PostFormValue("text")
	writeJSON(w, map[string]any{"status": "200", "content": "OK"})
}

func (u *Upstream) validCSRF(r *http.Request) bool {
	cookie, err := r.Cookie("csrftoken")
	if err != nil || cookie.Value != u.token {
		return false
	}
	want := u.token
	if u.formToken != "" {
		want = u.formToken
	}
	return r.PostFormValue("csrfmiddlewaretoken") == want
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
