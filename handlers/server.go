package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yosuzuk/mapproxy/pkg/mapproxy"
)

type AppOptions struct {
	Prefork bool
	// MetricsPath is where Gatherer is exposed. Empty disables the route.
	MetricsPath string
	Gatherer    prometheus.Gatherer
	// AccessLog enables the request logger middleware.
	AccessLog bool
}

// NewApp wires the proxy into a Fiber app. Every method on "/" goes to the
// proxy, which answers unsupported ones itself.
func NewApp(p *mapproxy.Proxy, opts AppOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               opts.Prefork,
		DisableStartupMessage: !opts.AccessLog,
	})

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "${time} | ${status} | ${latency} | ${method} ${url} | ${reqHeader:Origin}\n",
		}))
	}

	if opts.MetricsPath != "" && opts.Gatherer != nil {
		app.Get(opts.MetricsPath, Metrics(opts.Gatherer))
	}
	app.All("/", MapProxy(p))

	return app
}
