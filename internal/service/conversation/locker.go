package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker serializes turns per conversation. Acquire fails fast with
// ErrTurnInProgress instead of waiting for the holder.
type Locker interface {
	Acquire(ctx context.Context, conversationID int64) (release func(), err error)
}

// MemoryLocker guards conversations within a single process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[int64]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, conversationID int64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[conversationID]; busy {
		return nil, ErrTurnInProgress
	}
	l.held[conversationID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, conversationID)
			l.mu.Unlock()
		})
	}, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker guards conversations across server instances sharing one Redis.
// The TTL bounds how long a crashed holder blocks the conversation; it must
// exceed the longest expected generation call.
type RedisLocker struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	logger    *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client:    client,
		ttl:       ttl,
		keyPrefix: "parley:turn-lock:",
		logger:    logger.With(zap.String("component", "redis_locker")),
	}
}

func (l *RedisLocker) key(conversationID int64) string {
	return fmt.Sprintf("%s%d", l.keyPrefix, conversationID)
}

func (l *RedisLocker) Acquire(ctx context.Context, conversationID int64) (func(), error) {
	key := l.key(conversationID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire turn lock: %w", err)
	}
	if !ok {
		return nil, ErrTurnInProgress
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("failed to release turn lock",
					zap.Int64("conversation_id", conversationID),
					zap.Error(err))
			}
		})
	}, nil
}
