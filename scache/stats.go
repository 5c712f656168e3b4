package scache

import (
	"sync/atomic"
	"time"
)

// Stats are counters describing refresh activity since the cache was created.
type Stats struct {
	RefreshesStarted   uint64
	RefreshesSucceeded uint64
	RefreshesFailed    uint64
	// ItemErrors counts failed story fetches, including timeouts.
	ItemErrors   uint64
	ItemTimeouts uint64
	// LastSuccess is when the most recent published snapshot was started.
	// Zero if nothing was ever published.
	LastSuccess time.Time
	// LastFailure is when the most recent failed refresh was started.
	LastFailure time.Time
	LastElapsed time.Duration
	// InFlight is true while a refresh is running.
	InFlight  bool
	Snapshots int
	Validity  time.Duration
}

type stats struct {
	started      atomic.Uint64
	succeeded    atomic.Uint64
	failed       atomic.Uint64
	itemErrors   atomic.Uint64
	itemTimeouts atomic.Uint64
	lastSuccess  atomic.Int64
	lastFailure  atomic.Int64
	inFlight     atomic.Bool
	lastElapsed  atomic.Int64
}

func (s *stats) load() Stats {
	st := Stats{
		RefreshesStarted:   s.started.Load(),
		RefreshesSucceeded: s.succeeded.Load(),
		RefreshesFailed:    s.failed.Load(),
		ItemErrors:         s.itemErrors.Load(),
		ItemTimeouts:       s.itemTimeouts.Load(),
		LastElapsed:        time.Duration(s.lastElapsed.Load()),
		InFlight:           s.inFlight.Load(),
	}
	if ns := s.lastSuccess.Load(); ns != 0 {
		st.LastSuccess = time.Unix(0, ns)
	}
	if ns := s.lastFailure.Load(); ns != 0 {
		st.LastFailure = time.Unix(0, ns)
	}
	return st
}
