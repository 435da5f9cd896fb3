package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/yosuzuk/mapproxy/pkg/mapproxy"
)

// initProxy builds the proxy from the function's environment. Serverless
// deployments have no config file flag, but CONFIG is honoured.
func initProxy() (*mapproxy.Proxy, error) {
	cfg, err := mapproxy.LoadConfig(getEnvVar("CONFIG", ""))
	if err != nil {
		return nil, err
	}
	return mapproxy.New(cfg)
}

type handlerFunc func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// newHandler adapts the proxy to API Gateway / Netlify Functions events.
func newHandler(p *mapproxy.Proxy) handlerFunc {
	return func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		req, err := extractRequest(event)
		if err != nil {
			log.Printf("ERROR: In request extraction: %v", err)
			return createErrorResponse(http.StatusBadRequest, err.Error()), nil
		}

		resp := p.Handle(ctx, req)

		headers := make(map[string]string, len(resp.Header))
		for key, values := range resp.Header {
			headers[key] = strings.Join(values, ", ")
		}

		return events.APIGatewayProxyResponse{
			StatusCode: resp.StatusCode,
			Headers:    headers,
			Body:       resp.Body,
		}, nil
	}
}

func extractRequest(event events.APIGatewayProxyRequest) (mapproxy.Request, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return mapproxy.Request{}, fmt.Errorf("error decoding base64 body: %w", err)
		}
		body = decoded
	}

	query := url.Values{}
	for key, values := range event.MultiValueQueryStringParameters {
		query[key] = append(query[key], values...)
	}
	for key, value := range event.QueryStringParameters {
		if _, ok := query[key]; !ok {
			query.Set(key, value)
		}
	}

	return mapproxy.Request{
		Method: strings.ToUpper(event.HTTPMethod),
		Query:  query,
		Origin: headerValue(event, "Origin"),
		Body:   body,
	}, nil
}

// headerValue looks name up case-insensitively; Netlify lowercases header
// names, API Gateway keeps them as sent.
func headerValue(event events.APIGatewayProxyRequest, name string) string {
	for key, value := range event.Headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	for key, values := range event.MultiValueHeaders {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

func createErrorResponse(status int, message string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       message,
	}
}

func getEnvVar(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
