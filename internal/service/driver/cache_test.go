package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
)

type countingSource struct {
	mu    sync.Mutex
	calls int
	snaps []conversation.Snapshot
	err   error
}

func (s *countingSource) fetch(context.Context) (conversation.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return conversation.Snapshot{}, s.err
	}
	idx := s.calls - 1
	if idx >= len(s.snaps) {
		idx = len(s.snaps) - 1
	}
	return s.snaps[idx], nil
}

func snapshotAt(turn int) conversation.Snapshot {
	return conversation.Snapshot{Conversation: &conversation.Conversation{ID: 1, Status: conversation.StatusActive, CurrentTurn: turn}}
}

func TestSnapshotCacheTTLAndInvalidate(t *testing.T) {
	src := &countingSource{snaps: []conversation.Snapshot{snapshotAt(0), snapshotAt(1)}}
	cache := NewSnapshotCache(src.fetch, time.Minute)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }

	first, err := cache.Get(context.Background())
	require.NoError(t, err)
	again, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, first, again)

	cache.Invalidate()
	fresh, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, 1, fresh.Conversation.CurrentTurn)

	now = now.Add(2 * time.Minute)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestSnapshotCacheDoesNotStoreErrors(t *testing.T) {
	src := &countingSource{err: errors.New("db down")}
	cache := NewSnapshotCache(src.fetch, time.Minute)

	_, err := cache.Get(context.Background())
	assert.Error(t, err)
	_, err = cache.Get(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestSnapshotCacheWatchEmitsChanges(t *testing.T) {
	src := &countingSource{snaps: []conversation.Snapshot{snapshotAt(0), snapshotAt(0), snapshotAt(1), snapshotAt(1), snapshotAt(2)}}
	cache := NewSnapshotCache(src.fetch, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []int
	err := cache.Watch(ctx, time.Millisecond, func(s conversation.Snapshot) {
		seen = append(seen, s.Conversation.CurrentTurn)
		if len(seen) == 3 {
			cancel()
		}
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "none|p0", Fingerprint(conversation.Snapshot{}))
	a := snapshotAt(1)
	b := snapshotAt(1)
	b.Messages = []conversation.Message{{ID: 1}}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestRecorderKeepsMostRecent(t *testing.T) {
	r := NewRecorder(2)
	for _, title := range []string{"a", "b", "c"} {
		r.Notify(Notification{Title: title})
	}
	notes := r.List()
	require.Len(t, notes, 2)
	assert.Equal(t, "b", notes[0].Title)
	assert.Equal(t, "c", notes[1].Title)
}

func TestMultiSkipsNil(t *testing.T) {
	r1, r2 := NewRecorder(5), NewRecorder(5)
	Multi(r1, nil, r2).Notify(Notification{Title: "x"})
	assert.Len(t, r1.List(), 1)
	assert.Len(t, r2.List(), 1)
}
