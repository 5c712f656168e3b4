// Package scache provides a lock-free cache of the top ranked stories from an
// upstream story API, refreshed periodically as a whole.
//
// ## Snapshots
//
// Each refresh fetches the ranked story list, then fetches the details of the
// first N stories concurrently. If every story was fetched, the stories are
// sorted by score and published as a new snapshot stamped with the time the
// refresh started. If any story is missing, nothing is published and the
// previous snapshot stays current. A partial ranking is never visible.
//
// Readers load the current view atomically and never wait for a refresh. A
// snapshot is served only while it is younger than the validity window. After
// that, reads fail with ErrNoValidSnapshot until a refresh succeeds.
//
// ## Refresh
//
// At most one refresh runs at a time. With TriggerOnRead, a read that finds
// the cache stale starts a refresh, and concurrent stale reads wait for that
// same refresh instead of starting their own. With TriggerTimer, Run refreshes
// once per validity window and reads never refresh.
//
// Every story fetch is bounded by the item timeout. A story that times out
// counts as failed, so a hung upstream fails one refresh instead of stalling
// all future ones.
//
// ## History
//
// The cache retains a bounded number of published snapshots, newest first.
// Older snapshots are dropped when a new one is published.
package scache
