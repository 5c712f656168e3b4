package scache

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/beststories/go-beststories/apierror"
	"github.com/beststories/go-beststories/model"
	"github.com/beststories/go-beststories/source"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("scache")

var (
	// ErrClosed is returned by refreshes attempted after Close.
	ErrClosed = errors.New("cache closed")
	// ErrIncomplete is returned by a refresh that fetched fewer stories than
	// required. Nothing is published.
	ErrIncomplete = errors.New("incomplete refresh")
	// ErrNoValidSnapshot is returned to readers when no snapshot is within
	// the validity window. It carries http.StatusNotFound.
	ErrNoValidSnapshot = apierror.New(errors.New("no valid stories available, try again later"), http.StatusNotFound)
)

// Cache serves the latest complete ranking of top stories and refreshes it
// from a Source. Reads are lock-free and never observe a partial ranking.
type Cache struct {
	read atomic.Pointer[readOnly]

	src         source.Source
	now         func() time.Time
	topN        int
	itemTimeout time.Duration
	listTimeout time.Duration
	workers     int
	history     int
	trigger     Trigger
	validity    atomic.Int64

	// writeLock admits one refresh at a time and guards publishing.
	writeLock chan struct{}
	closed    atomic.Bool
	closing   chan struct{}

	stats stats

	inEvents     chan RefreshEvent
	addEventChan chan chan<- RefreshEvent
	rmEventChan  chan chan<- RefreshEvent
}

// readOnly is the immutable view that readers load atomically. snapshots is
// ordered newest first.
type readOnly struct {
	snapshots []model.Snapshot
}

// New creates a new story cache.
func New(options ...Option) (*Cache, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	if opts.src == nil {
		return nil, errors.New("no story source")
	}

	c := &Cache{
		src:         opts.src,
		now:         opts.clock,
		topN:        opts.topN,
		itemTimeout: opts.itemTimeout,
		listTimeout: opts.listTimeout,
		workers:     opts.workers,
		history:     opts.history,
		trigger:     opts.trigger,

		writeLock: make(chan struct{}, 1),
		closing:   make(chan struct{}),

		inEvents:     make(chan RefreshEvent, 1),
		addEventChan: make(chan chan<- RefreshEvent),
		rmEventChan:  make(chan chan<- RefreshEvent),
	}
	c.validity.Store(int64(opts.validity))

	go c.distributeEvents()

	if opts.preload {
		if err = c.Refresh(context.Background()); err != nil {
			log.Warnw("Preload failed, cache starts empty", "err", err, "source", c.src)
		}
	}

	return c, nil
}

// EnsureFresh refreshes the cache if the latest snapshot is older than the
// validity window. If a refresh is already running, EnsureFresh waits for it
// instead of starting another.
//
// A refresh started here is not canceled when ctx is, because other readers
// may be waiting on it. ctx only bounds how long the caller waits.
func (c *Cache) EnsureFresh(ctx context.Context) error {
	if !c.stale() {
		return nil
	}
	return c.refresh(ctx, true)
}

// Refresh runs a refresh now, whether or not the cache is stale. If a refresh
// is already in progress, Refresh waits for it to finish and does not start
// another.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.refresh(ctx, false)
}

func (c *Cache) refresh(ctx context.Context, onlyIfStale bool) error {
	select {
	case c.writeLock <- struct{}{}:
	default:
		// Refresh already in progress, wait for it to finish.
		select {
		case c.writeLock <- struct{}{}:
			<-c.writeLock
		case <-ctx.Done():
		}
		return ctx.Err()
	}
	defer func() {
		<-c.writeLock
	}()

	if c.closed.Load() {
		return ErrClosed
	}
	// A refresh may have finished between the staleness check and taking
	// the lock.
	if onlyIfStale && !c.stale() {
		return nil
	}

	cycleCtx := ctx
	if onlyIfStale {
		cycleCtx = context.WithoutCancel(ctx)
	}
	return c.runCycle(cycleCtx)
}

// GetTopItems returns the stories of the newest snapshot that is still within
// the validity window, highest score first. It never refreshes. If there is no
// such snapshot, ErrNoValidSnapshot is returned.
func (c *Cache) GetTopItems() ([]model.Item, error) {
	read := c.loadReadOnly()
	for _, snap := range read.snapshots {
		if c.IsValid(snap) {
			return model.CloneItems(snap.Items), nil
		}
	}
	return nil, ErrNoValidSnapshot
}

// TopItems is the read path used by servers. With TriggerOnRead it first
// ensures the cache is fresh. Refresh errors are not returned: the reader gets
// whatever snapshot is still valid, or ErrNoValidSnapshot.
func (c *Cache) TopItems(ctx context.Context) ([]model.Item, error) {
	if c.trigger == TriggerOnRead {
		if err := c.EnsureFresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debugw("Serving without fresh stories", "err", err)
		}
	}
	return c.GetTopItems()
}

// Run refreshes the cache every validity interval until ctx is canceled. The
// first refresh happens immediately unless the cache is already fresh. Run
// returns at once unless the cache uses TriggerTimer.
func (c *Cache) Run(ctx context.Context) {
	if c.trigger != TriggerTimer {
		return
	}

	interval := c.Validity()
	t := time.NewTicker(interval)
	defer t.Stop()

	err := c.EnsureFresh(ctx)
	for {
		if err != nil && ctx.Err() == nil {
			log.Warnw("Scheduled refresh failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if v := c.Validity(); v != interval {
			interval = v
			t.Reset(interval)
		}
		err = c.Refresh(ctx)
	}
}

// Latest returns a copy of the newest published snapshot, valid or not.
func (c *Cache) Latest() (model.Snapshot, bool) {
	snap, ok := c.latest()
	if !ok {
		return model.Snapshot{}, false
	}
	return snap.Clone(), true
}

// Snapshots returns copies of the retained snapshots, newest first.
func (c *Cache) Snapshots() []model.Snapshot {
	read := c.loadReadOnly()
	out := make([]model.Snapshot, len(read.snapshots))
	for i := range read.snapshots {
		out[i] = read.snapshots[i].Clone()
	}
	return out
}

// IsValid reports whether snap is within the validity window by the cache's
// clock.
func (c *Cache) IsValid(snap model.Snapshot) bool {
	return snap.ValidAt(c.now(), c.Validity())
}

// Validity returns the current validity window.
func (c *Cache) Validity() time.Duration {
	return time.Duration(c.validity.Load())
}

// SetValidity changes the validity window. It applies to snapshots already
// published. Non-positive values are ignored.
func (c *Cache) SetValidity(d time.Duration) {
	if d <= 0 {
		log.Warnw("Ignoring non-positive validity", "validity", d)
		return
	}
	if old := time.Duration(c.validity.Swap(int64(d))); old != d {
		log.Infow("Validity changed", "old", old, "new", d)
	}
}

// Stats returns refresh counters.
func (c *Cache) Stats() Stats {
	st := c.stats.load()
	st.Snapshots = len(c.loadReadOnly().snapshots)
	st.Validity = c.Validity()
	return st
}

// Close stops the cache. It waits for an in-progress refresh, then closes all
// OnRefresh channels. Later refreshes return ErrClosed; reads keep working.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closing)

	c.writeLock <- struct{}{}
	close(c.inEvents)
	<-c.writeLock
	return nil
}

func (c *Cache) stale() bool {
	snap, ok := c.latest()
	return !ok || !c.IsValid(snap)
}

func (c *Cache) latest() (model.Snapshot, bool) {
	read := c.loadReadOnly()
	if len(read.snapshots) == 0 {
		return model.Snapshot{}, false
	}
	return read.snapshots[0], true
}

func (c *Cache) loadReadOnly() readOnly {
	if p := c.read.Load(); p != nil {
		return *p
	}
	return readOnly{}
}

// publish makes snap the current snapshot. Must be called with writeLock held.
func (c *Cache) publish(snap model.Snapshot) {
	read := c.loadReadOnly()
	keep := min(len(read.snapshots), c.history-1)
	snaps := make([]model.Snapshot, 0, keep+1)
	snaps = append(snaps, snap)
	snaps = append(snaps, read.snapshots[:keep]...)
	c.read.Store(&readOnly{snapshots: snaps})
}
