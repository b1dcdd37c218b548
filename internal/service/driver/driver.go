// Package driver runs a bounded sequence of turns against the current
// conversation and reports progress through notifications.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-parley/backend/internal/metrics"
	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	convservice "github.com/zhouzirui/z-parley/backend/internal/service/conversation"
)

// ErrAlreadyRunning rejects a run while another is in progress.
var ErrAlreadyRunning = errors.New("a multi-turn run is already in progress")

const (
	DefaultTurnDelay = time.Second
	DefaultCacheTTL  = 2 * time.Second
)

// Advancer runs a single turn.
type Advancer interface {
	AdvanceTurn(ctx context.Context, conversationID int64) (conversation.Message, error)
}

// SnapshotSource provides the polled read model. Lookup resolves a
// conversation that may no longer be current.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (conversation.Snapshot, error)
	Lookup(ctx context.Context, conversationID int64) (conversation.Snapshot, error)
}

// StopReason explains why a run ended.
type StopReason string

const (
	StopLimitReached   StopReason = "limit_reached"
	StopNoConversation StopReason = "no_conversation"
	StopNotActive      StopReason = "not_active"
	StopCompleted      StopReason = "completed"
	StopFailed         StopReason = "failed"
	StopCanceled       StopReason = "canceled"
)

// Result summarises a run.
type Result struct {
	ConversationID int64      `json:"conversationId,omitempty"`
	Turns          int        `json:"turns"`
	Attempts       int        `json:"attempts"`
	Reason         StopReason `json:"reason"`
}

// Config tunes a Driver.
type Config struct {
	// TurnDelay separates consecutive turns to stay under provider rate limits.
	TurnDelay time.Duration
	// CacheTTL is how long a fetched snapshot is reused.
	CacheTTL time.Duration
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// Driver advances the current conversation up to n times per run. Only one
// run may be active at a time.
type Driver struct {
	advancer Advancer
	source   SnapshotSource
	cache    *SnapshotCache
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	running  atomic.Bool
}

func New(advancer Advancer, source SnapshotSource, notifier Notifier, cfg Config) *Driver {
	if cfg.TurnDelay <= 0 {
		cfg.TurnDelay = DefaultTurnDelay
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if notifier == nil {
		notifier = NotifierFunc(func(Notification) {})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		advancer: advancer,
		source:   source,
		cache:    NewSnapshotCache(source.Snapshot, cfg.CacheTTL),
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "driver")),
	}
}

// Running reports whether a run is in progress.
func (d *Driver) Running() bool {
	return d.running.Load()
}

// Cache exposes the driver's snapshot cache so readers share its freshness.
func (d *Driver) Cache() *SnapshotCache {
	return d.cache
}

// RunTurns advances the current conversation up to n times and blocks until
// the run ends. It never retries a failed turn.
func (d *Driver) RunTurns(ctx context.Context, n int) (Result, error) {
	if !d.acquire() {
		return Result{}, ErrAlreadyRunning
	}
	defer d.release()
	return d.run(ctx, n)
}

// Start launches RunTurns in the background. The returned channel receives
// the result once the run ends.
func (d *Driver) Start(ctx context.Context, n int) (<-chan Result, error) {
	if !d.acquire() {
		return nil, ErrAlreadyRunning
	}
	done := make(chan Result, 1)
	go func() {
		defer d.release()
		res, err := d.run(ctx, n)
		if err != nil {
			d.logger.Warn("background run ended with error",
				zap.String("reason", string(res.Reason)),
				zap.Int("turns", res.Turns),
				zap.Error(err))
		}
		done <- res
		close(done)
	}()
	return done, nil
}

func (d *Driver) acquire() bool {
	if !d.running.CompareAndSwap(false, true) {
		return false
	}
	d.cfg.Metrics.SetDriverRunning(true)
	return true
}

func (d *Driver) release() {
	d.running.Store(false)
	d.cfg.Metrics.SetDriverRunning(false)
}

func (d *Driver) run(ctx context.Context, n int) (Result, error) {
	var res Result
	d.logger.Info("run started", zap.Int("turns", n))
	d.cache.Invalidate()

	for i := 0; i < n; i++ {
		snap, err := d.cache.Get(ctx)
		if err != nil {
			d.notify(newNotification(LevelError, "Failed to load conversation", err.Error()))
			res.Reason = d.failureReason(ctx)
			return d.finish(res), fmt.Errorf("load snapshot: %w", err)
		}
		if snap.Empty() {
			res.Reason = StopNoConversation
			return d.finish(res), nil
		}

		conv := *snap.Conversation
		res.ConversationID = conv.ID
		if !conv.Active() {
			res.Reason = StopNotActive
			if conv.Status == conversation.StatusCompleted {
				d.notifyCompleted(conv)
				res.Reason = StopCompleted
			}
			return d.finish(res), nil
		}

		if i > 0 {
			if err := d.wait(ctx); err != nil {
				res.Reason = StopCanceled
				return d.finish(res), err
			}
		}

		turn := conv.CurrentTurn + 1
		res.Attempts++
		if _, err := d.advancer.AdvanceTurn(ctx, conv.ID); err != nil {
			d.notifyFailure(conv.ID, turn, err)
			res.Reason = d.failureReason(ctx)
			return d.finish(res), err
		}
		res.Turns++
		d.cache.Invalidate()

		after, err := d.cache.Get(ctx)
		if err != nil {
			d.notify(newNotification(LevelError, "Failed to load conversation", err.Error()))
			res.Reason = d.failureReason(ctx)
			return d.finish(res), fmt.Errorf("load snapshot: %w", err)
		}
		if after.Empty() || after.Conversation.ID != conv.ID || !after.Conversation.Active() {
			res.Reason = d.settle(ctx, conv.ID)
			return d.finish(res), nil
		}
	}

	res.Reason = StopLimitReached
	return d.finish(res), nil
}

// settle resolves the final status of a conversation that left the current
// slot during the run.
func (d *Driver) settle(ctx context.Context, conversationID int64) StopReason {
	final, err := d.source.Lookup(ctx, conversationID)
	if err != nil || final.Empty() {
		return StopNotActive
	}
	if final.Conversation.Status != conversation.StatusCompleted {
		return StopNotActive
	}
	d.notifyCompleted(*final.Conversation)
	return StopCompleted
}

func (d *Driver) wait(ctx context.Context) error {
	timer := time.NewTimer(d.cfg.TurnDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Driver) failureReason(ctx context.Context) StopReason {
	if ctx.Err() != nil {
		return StopCanceled
	}
	return StopFailed
}

func (d *Driver) finish(res Result) Result {
	d.logger.Info("run finished",
		zap.Int64("conversation_id", res.ConversationID),
		zap.Int("turns", res.Turns),
		zap.Int("attempts", res.Attempts),
		zap.String("reason", string(res.Reason)))
	return res
}

func (d *Driver) notifyCompleted(conv conversation.Conversation) {
	n := newNotification(LevelInfo, "Conversation complete", "Conversation completed successfully")
	n.ConversationID = conv.ID
	n.Turn = conv.CurrentTurn
	d.notify(n)
}

func (d *Driver) notifyFailure(conversationID int64, turn int, err error) {
	n := newNotification(LevelError, fmt.Sprintf("Failed at turn %d", turn), FailureMessage(err))
	n.ConversationID = conversationID
	n.Turn = turn
	d.notify(n)
}

func (d *Driver) notify(n Notification) {
	d.notifier.Notify(n)
}

// FailureMessage renders a turn failure for people watching the run.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, convservice.ErrInvalidTurnOrder):
		return "Waiting on the other participant to respond."
	case errors.Is(err, convservice.ErrInvalidState):
		return "The conversation has already ended."
	case errors.Is(err, convservice.ErrTurnInProgress):
		return "Another turn is already being generated."
	default:
		return "Failed to generate a response: " + err.Error()
	}
}
