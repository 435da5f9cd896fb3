package handlers

import (
	"log"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/yosuzuk/mapproxy/pkg/mapproxy"
)

// MapProxy is a Fiber handler that serves map loads, saves and CORS preflights
// through the given proxy.
func MapProxy(p *mapproxy.Proxy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resp := p.Handle(c.UserContext(), extractRequest(c))

		for key, values := range resp.Header {
			for _, value := range values {
				c.Set(key, value)
			}
		}

		c.Status(resp.StatusCode)
		return c.SendString(resp.Body)
	}
}

// extractRequest copies what the proxy needs out of the Fiber context. The
// body is copied because fasthttp reuses its buffers after the handler returns.
func extractRequest(c *fiber.Ctx) mapproxy.Request {
	rawQuery := string(c.Request().URI().QueryString())
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		// ParseQuery keeps every pair it could decode.
		log.Printf("WARN: Malformed query string %q: %v", rawQuery, err)
	}

	return mapproxy.Request{
		Method: c.Method(),
		Query:  query,
		Origin: c.Get(fiber.HeaderOrigin),
		Body:   append([]byte(nil), c.Body()...),
	}
}
