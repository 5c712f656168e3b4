package scache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/beststories/go-beststories/model"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/beststories/go-beststories/scache")

// runCycle fetches the story list, fetches the details of the first topN
// stories, and publishes them as a new snapshot if every fetch succeeded.
// Must be called with writeLock held.
func (c *Cache) runCycle(ctx context.Context) (err error) {
	id := uuid.New()
	started := c.now()
	begin := time.Now()
	c.stats.started.Add(1)
	c.stats.inFlight.Store(true)

	ctx, span := tracer.Start(ctx, "scache.refresh", trace.WithAttributes(
		attribute.String("refresh.id", id.String()),
		attribute.Int("refresh.top_n", c.topN),
		attribute.String("refresh.source", c.src.String()),
	))
	log := log.With("cycle", id)

	var items []model.Item
	defer func() {
		elapsed := time.Since(begin)
		if err != nil {
			c.stats.failed.Add(1)
			c.stats.lastFailure.Store(started.UnixNano())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Errorw("Refresh failed", "err", err, "elapsed", elapsed)
		} else {
			c.stats.succeeded.Add(1)
			c.stats.lastSuccess.Store(started.UnixNano())
			span.SetStatus(codes.Ok, "")
			log.Infow("Published stories", "items", len(items), "created", started, "elapsed", elapsed)
		}
		span.End()
		c.stats.lastElapsed.Store(int64(elapsed))
		c.stats.inFlight.Store(false)

		c.inEvents <- RefreshEvent{
			ID:      id,
			Started: started,
			Elapsed: elapsed,
			Items:   len(items),
			Err:     err,
		}
	}()

	ids, err := c.fetchIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) > c.topN {
		ids = ids[:c.topN]
	}
	span.SetAttributes(attribute.Int("refresh.ids", len(ids)))
	log.Debugw("Fetching stories", "count", len(ids))

	ranked, err := c.fetchItems(ctx, ids)
	if len(ranked) != c.topN {
		log.Errorw("Not publishing incomplete stories", "want", c.topN, "got", len(ranked), "err", err)
		if err == nil {
			err = fmt.Errorf("%w: got %d of %d stories", ErrIncomplete, len(ranked), c.topN)
		} else {
			err = fmt.Errorf("%w: got %d of %d stories: %w", ErrIncomplete, len(ranked), c.topN, err)
		}
		return err
	}

	items = model.Rank(ranked)
	c.publish(model.Snapshot{
		Created: started,
		Items:   items,
	})
	return nil
}

func (c *Cache) fetchIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	ids, err := c.src.FetchIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch story list: %w", err)
	}
	return ids, nil
}

// fetchItems fetches each story concurrently. A failed story does not stop the
// others. The returned stories carry their position in ids, in arrival order.
func (c *Cache) fetchItems(ctx context.Context, ids []string) ([]model.Ranked, error) {
	results := make(chan model.Ranked, len(ids))
	errs := make(chan error, len(ids))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, id := range ids {
		rank, id := i, id
		g.Go(func() error {
			item, err := c.fetchItem(ctx, id)
			if err != nil {
				log.Warnw("Cannot fetch story", "id", id, "err", err)
				errs <- fmt.Errorf("story %s: %w", id, err)
				return nil
			}
			results <- model.Ranked{Rank: rank, Item: item}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	close(errs)

	ranked := make([]model.Ranked, 0, len(ids))
	for r := range results {
		ranked = append(ranked, r)
	}
	var merr *multierror.Error
	for err := range errs {
		merr = multierror.Append(merr, err)
	}
	return ranked, merr.ErrorOrNil()
}

// fetchItem fetches one story, giving up after itemTimeout even if the source
// ignores its context.
func (c *Cache) fetchItem(ctx context.Context, id string) (item model.Item, err error) {
	ctx, span := tracer.Start(ctx, "scache.fetchItem", trace.WithAttributes(
		attribute.String("item.id", id),
	))
	defer func() {
		if err != nil {
			c.stats.itemErrors.Add(1)
			if errors.Is(err, context.DeadlineExceeded) {
				c.stats.itemTimeouts.Add(1)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.itemTimeout)
	defer cancel()

	type result struct {
		item model.Item
		err  error
	}
	done := make(chan result, 1)
	go func() {
		item, err := c.src.FetchItem(ctx, id)
		done <- result{item, err}
	}()

	select {
	case r := <-done:
		return r.item, r.err
	case <-ctx.Done():
		return model.Item{}, ctx.Err()
	}
}
