package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
)

// FetchFunc loads the current snapshot.
type FetchFunc func(ctx context.Context) (conversation.Snapshot, error)

// SnapshotCache is a read-through cache over FetchFunc. Entries older than
// the TTL, or explicitly invalidated, are refetched on the next Get.
type SnapshotCache struct {
	fetch FetchFunc
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	snap      conversation.Snapshot
	fetchedAt time.Time
	valid     bool
}

func NewSnapshotCache(fetch FetchFunc, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{fetch: fetch, ttl: ttl, now: time.Now}
}

func (c *SnapshotCache) Get(ctx context.Context) (conversation.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.snap, nil
	}

	snap, err := c.fetch(ctx)
	if err != nil {
		return conversation.Snapshot{}, err
	}
	c.snap = snap
	c.fetchedAt = c.now()
	c.valid = true
	return snap, nil
}

// Invalidate forces the next Get to refetch.
func (c *SnapshotCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Watch polls every interval and calls fn with the first snapshot and then
// with each snapshot whose Fingerprint differs from the previous one. Fetch
// errors are passed to onErr, if set, and polling continues. Watch returns
// when ctx is done.
func (c *SnapshotCache) Watch(ctx context.Context, interval time.Duration, fn func(conversation.Snapshot), onErr func(error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	first := true
	for {
		c.Invalidate()
		snap, err := c.Get(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if onErr != nil {
				onErr(err)
			}
		case first || Fingerprint(snap) != last:
			first = false
			last = Fingerprint(snap)
			fn(snap)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Fingerprint summarises the parts of a snapshot that change between turns.
func Fingerprint(s conversation.Snapshot) string {
	if s.Conversation == nil {
		return fmt.Sprintf("none|p%d", len(s.Personas))
	}
	c := s.Conversation
	return fmt.Sprintf("%d|%s|t%d|m%d|p%d", c.ID, c.Status, c.CurrentTurn, len(s.Messages), len(s.Personas))
}
