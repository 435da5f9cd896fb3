package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yosuzuk/mapproxy/pkg/mapproxy"
	"github.com/yosuzuk/mapproxy/pkg/mapproxy/mapproxytest"
)

func newTestHandler(t *testing.T, upstream *mapproxytest.Upstream) handlerFunc {
	t.Helper()
	cfg := mapproxy.DefaultConfig()
	cfg.UpstreamURL = upstream.URL
	p, err := mapproxy.New(cfg)
	require.NoError(t, err)
	return newHandler(p)
}

func TestHandlerLoad(t *testing.T) {
	upstream := mapproxytest.NewUpstream()
	defer upstream.Close()
	upstream.SetRaw("abc", `{"content":"hello"}`)
	handler := newTestHandler(t, upstream)

	resp, err := handler(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:            "GET",
		Headers:               map[string]string{"origin": "https://yosuzuk.github.io"},
		QueryStringParameters: map[string]string{"map": "abc"},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", resp.Body)
	assert.Equal(t, "text/plain", resp.Headers["Content-Type"])
	assert.Equal(t, "https://yosuzuk.github.io", resp.Headers["Access-Control-Allow-Origin"])
}

func TestHandlerSaveBase64Body(t *testing.T) {
	upstream := mapproxytest.NewUpstream()
	defer upstream.Close()
	upstream.Put("abc", "key", "old")
	handler := newTestHandler(t, upstream)

	resp, err := handler(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:            "PUT",
		Headers:               map[string]string{"Origin": "https://lagrange-data.netlify.app"},
		QueryStringParameters: map[string]string{"map": "abc", "key": "key"},
		Body:                  base64.StdEncoding.EncodeToString([]byte("new map")),
		IsBase64Encoded:       true,
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	doc, _ := upstream.Doc("abc")
	assert.Equal(t, "new map", doc)
}

func TestHandlerBadBase64(t *testing.T) {
	upstream := mapproxytest.NewUpstream()
	defer upstream.Close()
	handler := newTestHandler(t, upstream)

	resp, err := handler(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:      "PUT",
		Body:            "!!!",
		IsBase64Encoded: true,
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerUnknownOrigin(t *testing.T) {
	upstream := mapproxytest.NewUpstream()
	defer upstream.Close()
	handler := newTestHandler(t, upstream)

	resp, err := handler(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: "OPTIONS",
		Headers:    map[string]string{"origin": "https://evil.example"},
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotContains(t, resp.Headers, "Access-Control-Allow-Origin")
}

func TestExtractRequest(t *testing.T) {
	req, err := extractRequest(events.APIGatewayProxyRequest{
		HTTPMethod:                      "get",
		MultiValueHeaders:               map[string][]string{"ORIGIN": {"https://yosuzuk.github.io"}},
		QueryStringParameters:           map[string]string{"map": "ignored", "key": "k"},
		MultiValueQueryStringParameters: map[string][]string{"map": {"abc", "def"}},
		Body:                            "text",
	})

	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "https://yosuzuk.github.io", req.Origin)
	assert.Equal(t, "abc", req.Query.Get("map"))
	assert.Equal(t, "k", req.Query.Get("key"))
	assert.Equal(t, []byte("text"), req.Body)
}
