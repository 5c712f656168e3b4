package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/beststories/go-beststories/scache"
	"github.com/beststories/go-beststories/source"
	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/yaml.v3"
)

var log = logging.Logger("config")

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "BESTSTORIES_"

// Default values applied when fields are absent from the config file.
const (
	DefaultListen      = ":8080"
	DefaultRoute       = "/best20"
	DefaultLogLevel    = "info"
	DefaultValidity    = 60 * time.Second
	DefaultTopN        = 20
	DefaultTrigger     = "read"
	DefaultItemTimeout = 5 * time.Second
	DefaultListTimeout = 10 * time.Second
	DefaultWorkers     = 8
	DefaultHistory     = 2
)

// Config is the service configuration.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string `yaml:"listen" env:"LISTEN"`
	// Route is the path that serves the top stories.
	Route    string `yaml:"route" env:"ROUTE"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	// OtelEndpoint is the OTLP/HTTP collector endpoint. Tracing is disabled
	// when empty.
	OtelEndpoint string `yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`

	Stories Stories `yaml:"stories" envPrefix:"STORIES_"`
}

// Stories configures the upstream API and the story cache.
type Stories struct {
	BestStoriesURI string `yaml:"best_stories_uri" env:"BEST_STORIES_URI"`
	BaseItemURI    string `yaml:"base_item_uri" env:"BASE_ITEM_URI"`

	// Validity is how long a snapshot may be served.
	Validity time.Duration `yaml:"validity" env:"VALIDITY"`
	// ValidityMs is Validity in milliseconds. It is used only when Validity
	// is not set.
	ValidityMs int64 `yaml:"validity_ms" env:"VALIDITY_MS"`

	TopN int `yaml:"top_n" env:"TOP_N"`
	// Trigger is "read" or "timer".
	Trigger     string        `yaml:"trigger" env:"TRIGGER"`
	ItemTimeout time.Duration `yaml:"item_timeout" env:"ITEM_TIMEOUT"`
	ListTimeout time.Duration `yaml:"list_timeout" env:"LIST_TIMEOUT"`
	Workers     int           `yaml:"workers" env:"WORKERS"`
	History     int           `yaml:"history" env:"HISTORY"`
	// HTTPRetryMax is how many times a failed upstream request is retried.
	// Zero disables retries.
	HTTPRetryMax int  `yaml:"http_retry_max" env:"HTTP_RETRY_MAX"`
	Preload      bool `yaml:"preload" env:"PRELOAD"`
}

// Load reads the config file at path, applies defaults and environment
// overrides, and validates the result. An empty path loads only defaults and
// environment.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file: %w", err)
		}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("cannot parse environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Route == "" {
		c.Route = DefaultRoute
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	s := &c.Stories
	if s.Validity == 0 {
		if s.ValidityMs != 0 {
			s.Validity = time.Duration(s.ValidityMs) * time.Millisecond
		} else {
			s.Validity = DefaultValidity
		}
	}
	if s.TopN == 0 {
		s.TopN = DefaultTopN
	}
	if s.Trigger == "" {
		s.Trigger = DefaultTrigger
	}
	if s.ItemTimeout == 0 {
		s.ItemTimeout = DefaultItemTimeout
	}
	if s.ListTimeout == 0 {
		s.ListTimeout = DefaultListTimeout
	}
	if s.Workers == 0 {
		s.Workers = DefaultWorkers
	}
	if s.History == 0 {
		s.History = DefaultHistory
	}
}

// Validate checks required fields and value ranges. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if _, err := logging.LevelFromString(c.LogLevel); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("log_level: %w", err))
	}
	if !strings.HasPrefix(c.Route, "/") {
		errs = multierror.Append(errs, fmt.Errorf("route must start with /: %q", c.Route))
	}

	s := c.Stories
	for _, field := range []struct{ name, val string }{
		{"stories.best_stories_uri", s.BestStoriesURI},
		{"stories.base_item_uri", s.BaseItemURI},
	} {
		name, val := field.name, field.val
		if val == "" {
			errs = multierror.Append(errs, fmt.Errorf("%s is required", name))
			continue
		}
		u, err := url.Parse(val)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = multierror.Append(errs, fmt.Errorf("%s must be an http or https url: %q", name, val))
		}
	}
	if s.Validity < 0 || s.ValidityMs < 0 {
		errs = multierror.Append(errs, errors.New("stories.validity must be positive"))
	}
	if s.TopN < 1 {
		errs = multierror.Append(errs, fmt.Errorf("stories.top_n must be at least 1: %d", s.TopN))
	}
	if _, err := parseTrigger(s.Trigger); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.ItemTimeout < 0 {
		errs = multierror.Append(errs, errors.New("stories.item_timeout must be positive"))
	}
	if s.ListTimeout < 0 {
		errs = multierror.Append(errs, errors.New("stories.list_timeout must be positive"))
	}
	if s.Workers < 1 {
		errs = multierror.Append(errs, fmt.Errorf("stories.workers must be at least 1: %d", s.Workers))
	}
	if s.History < 1 {
		errs = multierror.Append(errs, fmt.Errorf("stories.history must be at least 1: %d", s.History))
	}
	if s.HTTPRetryMax < 0 {
		errs = multierror.Append(errs, fmt.Errorf("stories.http_retry_max must not be negative: %d", s.HTTPRetryMax))
	}
	return errs.ErrorOrNil()
}

// CacheOptions returns the story cache options for this config. The source
// option is not included.
func (c *Config) CacheOptions() []scache.Option {
	trigger, _ := parseTrigger(c.Stories.Trigger)
	return []scache.Option{
		scache.WithValidity(c.Stories.Validity),
		scache.WithTopN(c.Stories.TopN),
		scache.WithTrigger(trigger),
		scache.WithItemTimeout(c.Stories.ItemTimeout),
		scache.WithListTimeout(c.Stories.ListTimeout),
		scache.WithWorkers(c.Stories.Workers),
		scache.WithHistory(c.Stories.History),
		scache.WithPreload(c.Stories.Preload),
	}
}

// SourceOptions returns the upstream source options for this config.
func (c *Config) SourceOptions() []source.Option {
	var opts []source.Option
	if c.Stories.HTTPRetryMax != 0 {
		opts = append(opts, source.WithRetry(c.Stories.HTTPRetryMax, 100*time.Millisecond, 2*time.Second))
	}
	return opts
}

func parseTrigger(s string) (scache.Trigger, error) {
	switch strings.ToLower(s) {
	case "read":
		return scache.TriggerOnRead, nil
	case "timer":
		return scache.TriggerTimer, nil
	}
	return 0, fmt.Errorf("stories.trigger must be read or timer: %q", s)
}
