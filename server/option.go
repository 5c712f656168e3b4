package server

import (
	"fmt"
	"strings"
)

const defaultRoute = "/best20"

type config struct {
	route       string
	logRequests bool
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		route: defaultRoute,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithRoute sets the path that serves the top stories. Default is "/best20".
func WithRoute(route string) Option {
	return func(cfg *config) error {
		if !strings.HasPrefix(route, "/") {
			return fmt.Errorf("route must start with /: %q", route)
		}
		switch route {
		case "/", healthPath, snapshotsPath, metricsPath:
			return fmt.Errorf("route conflicts with built-in path: %s", route)
		}
		cfg.route = route
		return nil
	}
}

// WithRequestLogging logs every request.
func WithRequestLogging(enable bool) Option {
	return func(cfg *config) error {
		cfg.logRequests = enable
		return nil
	}
}
