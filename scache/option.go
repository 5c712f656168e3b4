package scache

import (
	"errors"
	"fmt"
	"time"

	"github.com/beststories/go-beststories/source"
)

const (
	defaultValidity    = time.Minute
	defaultTopN        = 20
	defaultItemTimeout = 5 * time.Second
	defaultListTimeout = 10 * time.Second
	defaultWorkers     = 8
	defaultHistory     = 2
)

// Trigger selects who starts a refresh.
type Trigger int

const (
	// TriggerOnRead refreshes from the read path when the cached stories
	// are stale.
	TriggerOnRead Trigger = iota
	// TriggerTimer refreshes from Run on a fixed interval. Reads never
	// refresh.
	TriggerTimer
)

func (t Trigger) String() string {
	switch t {
	case TriggerOnRead:
		return "read"
	case TriggerTimer:
		return "timer"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}

type config struct {
	clock       func() time.Time
	history     int
	itemTimeout time.Duration
	listTimeout time.Duration
	preload     bool
	src         source.Source
	topN        int
	trigger     Trigger
	validity    time.Duration
	workers     int
}

// Option is a function that sets a value in a config.
type Option func(*config) error

// getOpts creates a config and applies Options to it.
func getOpts(opts []Option) (config, error) {
	cfg := config{
		clock:       time.Now,
		history:     defaultHistory,
		itemTimeout: defaultItemTimeout,
		listTimeout: defaultListTimeout,
		topN:        defaultTopN,
		trigger:     TriggerOnRead,
		validity:    defaultValidity,
		workers:     defaultWorkers,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithSource sets where stories are fetched from. Required.
func WithSource(src source.Source) Option {
	return func(cfg *config) error {
		if src == nil {
			return errors.New("nil source")
		}
		cfg.src = src
		return nil
	}
}

// WithValidity sets how long a snapshot may be served after the refresh that
// produced it started. With TriggerTimer this is also the refresh interval.
//
// Default is 1 minute.
func WithValidity(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("validity must be positive: %s", d)
		}
		cfg.validity = d
		return nil
	}
}

// WithTopN sets the number of stories in each snapshot. A refresh that
// cannot fetch exactly this many stories publishes nothing.
//
// Default is 20.
func WithTopN(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return fmt.Errorf("top n must be at least 1: %d", n)
		}
		cfg.topN = n
		return nil
	}
}

// WithItemTimeout bounds each story detail fetch. A fetch that times out
// counts as a failed story.
//
// Default is 5 seconds.
func WithItemTimeout(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("item timeout must be positive: %s", d)
		}
		cfg.itemTimeout = d
		return nil
	}
}

// WithListTimeout bounds the story list fetch.
//
// Default is 10 seconds.
func WithListTimeout(d time.Duration) Option {
	return func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("list timeout must be positive: %s", d)
		}
		cfg.listTimeout = d
		return nil
	}
}

// WithWorkers sets how many story details are fetched at the same time.
//
// Default is 8.
func WithWorkers(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return fmt.Errorf("workers must be at least 1: %d", n)
		}
		cfg.workers = n
		return nil
	}
}

// WithHistory sets how many published snapshots are retained, including the
// current one. Older snapshots are dropped on publish.
//
// Default is 2.
func WithHistory(n int) Option {
	return func(cfg *config) error {
		if n < 1 {
			return fmt.Errorf("history must be at least 1: %d", n)
		}
		cfg.history = n
		return nil
	}
}

// WithTrigger selects whether reads or a timer start refreshes.
//
// Default is TriggerOnRead.
func WithTrigger(t Trigger) Option {
	return func(cfg *config) error {
		switch t {
		case TriggerOnRead, TriggerTimer:
		default:
			return fmt.Errorf("unknown trigger: %s", t)
		}
		cfg.trigger = t
		return nil
	}
}

// WithPreload runs one refresh in New, before the cache is returned. A failed
// preload is logged and does not fail New.
//
// Default is disabled.
func WithPreload(preload bool) Option {
	return func(cfg *config) error {
		cfg.preload = preload
		return nil
	}
}

// WithClock sets the time source used to stamp and age snapshots.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) error {
		if now == nil {
			return errors.New("nil clock")
		}
		cfg.clock = now
		return nil
	}
}
