package mapproxy

import (
	"errors"
	"net/http"
)

var ErrUnknownOrigin = errors.New("unknown origin")

// AllowList is the set of browser origins that receive CORS headers. Matching
// is exact string equality against the request's Origin header.
type AllowList struct {
	origins map[string]struct{}
	methods string
}

// NewAllowList builds an allow-list. readOnly controls the advertised methods.
func NewAllowList(origins []string, readOnly bool) *AllowList {
	a := &AllowList{
		origins: make(map[string]struct{}, len(origins)),
		methods: "GET, PUT, OPTIONS",
	}
	if readOnly {
		a.methods = "GET, OPTIONS"
	}
	for _, origin := range origins {
		a.origins[origin] = struct{}{}
	}
	return a
}

func (a *AllowList) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	_, ok := a.origins[origin]
	return ok
}

// Headers returns the CORS response headers for origin, or ErrUnknownOrigin.
func (a *AllowList) Headers(origin string) (http.Header, error) {
	if !a.Allowed(origin) {
		return nil, ErrUnknownOrigin
	}
	h := make(http.Header, 3)
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Allow-Methods", a.methods)
	return h, nil
}
