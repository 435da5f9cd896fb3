package main

import (
	"fmt"
	"log"
	"os"

	"github.com/akamensky/argparse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/yosuzuk/mapproxy/handlers"
	"github.com/yosuzuk/mapproxy/pkg/mapproxy"
	"github.com/yosuzuk/mapproxy/pkg/metrics"
)

func main() {
	parser := argparse.NewParser("mapproxy", "Loads and saves map data on rentry.co for browser clients")

	portEnv := os.Getenv("PORT")
	if portEnv == "" {
		portEnv = "8080"
	}
	port := parser.String("p", "port", &argparse.Options{
		Required: false,
		Default:  portEnv,
		Help:     "Port the webserver will listen on",
	})

	configPath := parser.String("c", "config", &argparse.Options{
		Required: false,
		Default:  os.Getenv("CONFIG"),
		Help:     "Path to a YAML config file. Environment variables override its values",
	})

	prefork := parser.Flag("", "prefork", &argparse.Options{
		Required: false,
		Help:     "This will spawn multiple processes listening",
	})

	metricsPath := parser.String("", "metrics", &argparse.Options{
		Required: false,
		Default:  "/metrics",
		Help:     "Path serving Prometheus metrics, empty to disable",
	})

	quiet := parser.Flag("q", "quiet", &argparse.Options{
		Required: false,
		Help:     "Disable the access log",
	})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := mapproxy.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		log.Fatalf("ERROR: Failed to register metrics: %v", err)
	}

	p, err := mapproxy.New(cfg, mapproxy.WithObserver(m))
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	app := handlers.NewApp(p, handlers.AppOptions{
		Prefork:     *prefork,
		MetricsPath: *metricsPath,
		Gatherer:    reg,
		AccessLog:   !*quiet,
	})

	log.Fatal(app.Listen(":" + *port))
}
