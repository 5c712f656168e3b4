package scache

import (
	"context"
	"time"

	"github.com/gammazero/channelqueue"
	"github.com/google/uuid"
)

// RefreshEvent describes one finished refresh, successful or not.
type RefreshEvent struct {
	// ID identifies the refresh in logs and traces.
	ID uuid.UUID
	// Started is when the refresh began. A published snapshot carries this
	// as its creation time.
	Started time.Time
	Elapsed time.Duration
	// Items is the number of stories published, zero on failure.
	Items int
	Err   error
}

// OnRefresh creates a channel that receives an event after every refresh. The
// channel is closed when the returned cancel function is called or the cache
// is closed.
func (c *Cache) OnRefresh() (<-chan RefreshEvent, context.CancelFunc) {
	// Queue so that distributeEvents never blocks on a slow reader.
	cq := channelqueue.New[RefreshEvent](-1)
	ch := cq.In()
	select {
	case c.addEventChan <- ch:
	case <-c.closing:
		close(ch)
		return cq.Out(), func() {}
	}

	cncl := func() {
		if ch == nil {
			return
		}
		select {
		case c.rmEventChan <- ch:
		case <-c.closing:
		}
		ch = nil
	}
	return cq.Out(), cncl
}

// distributeEvents fans each RefreshEvent out to the OnRefresh subscribers.
// It owns the subscriber set and closes every subscriber channel once
// inEvents is closed.
func (c *Cache) distributeEvents() {
	subs := make(map[chan<- RefreshEvent]struct{})
	for {
		select {
		case event, ok := <-c.inEvents:
			if !ok {
				for ch := range subs {
					close(ch)
				}
				return
			}
			for ch := range subs {
				ch <- event
			}
		case ch := <-c.addEventChan:
			subs[ch] = struct{}{}
		case ch := <-c.rmEventChan:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}
		}
	}
}
