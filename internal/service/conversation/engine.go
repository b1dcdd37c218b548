// Package conversation implements the turn engine and the conversation
// service built on top of it.
package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-parley/backend/internal/metrics"
	model "github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
	"github.com/zhouzirui/z-parley/backend/internal/service/ai"
	"github.com/zhouzirui/z-parley/backend/internal/store"
)

// Engine advances conversations one turn at a time.
type Engine struct {
	store     store.Store
	generator ai.Generator
	locker    Locker
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

func WithLocker(l Locker) EngineOption {
	return func(e *Engine) { e.locker = l }
}

func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(st store.Store, generator ai.Generator, opts ...EngineOption) *Engine {
	e := &Engine{store: st, generator: generator}
	for _, opt := range opts {
		opt(e)
	}
	if e.locker == nil {
		e.locker = NewMemoryLocker()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "turn_engine"))
	return e
}

// AdvanceTurn generates the current speaker's message and commits the turn.
// On any error the conversation is left exactly as it was.
func (e *Engine) AdvanceTurn(ctx context.Context, conversationID int64) (model.Message, error) {
	release, err := e.locker.Acquire(ctx, conversationID)
	if err != nil {
		e.metrics.RecordTurn(ErrorCode(err), false)
		return model.Message{}, err
	}
	defer release()

	msg, completed, err := e.advance(ctx, conversationID)
	e.metrics.RecordTurn(ErrorCode(err), completed)
	return msg, err
}

func (e *Engine) advance(ctx context.Context, conversationID int64) (model.Message, bool, error) {
	conv, err := e.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Message{}, false, &NotFoundError{Entity: EntityConversation, ID: conversationID}
		}
		return model.Message{}, false, fmt.Errorf("load conversation: %w", err)
	}
	if !conv.Active() {
		return model.Message{}, false, &InvalidStateError{Reason: ReasonNotActive, Status: conv.Status}
	}

	if conv.CurrentSpeakerID == nil {
		return model.Message{}, false, &NotFoundError{Entity: EntitySpeaker}
	}
	speaker, err := e.store.GetPersona(ctx, *conv.CurrentSpeakerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Message{}, false, &NotFoundError{Entity: EntitySpeaker, ID: *conv.CurrentSpeakerID}
		}
		return model.Message{}, false, fmt.Errorf("load speaker: %w", err)
	}

	history, err := e.store.GetMessagesByConversation(ctx, conv.ID)
	if err != nil {
		return model.Message{}, false, fmt.Errorf("load messages: %w", err)
	}
	if n := len(history); n > 0 && history[n-1].PersonaID == speaker.ID {
		return model.Message{}, false, ErrInvalidTurnOrder
	}

	personas, err := e.store.ListPersonas(ctx)
	if err != nil {
		return model.Message{}, false, fmt.Errorf("load personas: %w", err)
	}
	others := OtherParticipants(personas, speaker.ID)

	commit := store.TurnCommit{
		ConversationID: conv.ID,
		PersonaID:      speaker.ID,
		ExpectedTurn:   conv.CurrentTurn,
		Complete:       conv.CurrentTurn+1 >= conv.MaxTurns,
		SelectNext: func(personas []persona.Persona) (persona.Persona, bool) {
			return NextSpeaker(OtherParticipants(personas, speaker.ID))
		},
	}
	// Fail before generation when nobody could follow; the store picks the
	// actual next speaker again at commit time.
	if !commit.Complete {
		if _, ok := NextSpeaker(others); !ok {
			return model.Message{}, false, &NotFoundError{Entity: EntityPersona}
		}
	}

	text, err := e.generator.Generate(ctx, ai.Request{
		Speaker:      speaker,
		History:      history,
		Others:       others,
		SystemPrompt: conv.SystemPrompt,
	})
	if err != nil {
		e.logger.Warn("generation failed",
			zap.Int64("conversation_id", conv.ID),
			zap.Int64("speaker_id", speaker.ID),
			zap.Int("turn", conv.CurrentTurn+1),
			zap.Error(err))
		return model.Message{}, false, &GenerationError{Cause: err}
	}
	commit.Content = text

	msg, err := e.store.CommitTurn(ctx, commit)
	if err != nil {
		return model.Message{}, false, e.commitError(conv.ID, err)
	}

	e.logger.Info("turn committed",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("speaker_id", speaker.ID),
		zap.Int("turn", conv.CurrentTurn+1),
		zap.Int("max_turns", conv.MaxTurns),
		zap.Bool("completed", commit.Complete))
	return msg, commit.Complete, nil
}

func (e *Engine) commitError(conversationID int64, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Entity: EntityConversation, ID: conversationID}
	case errors.Is(err, store.ErrNotActive):
		return &InvalidStateError{Reason: ReasonNotActive, Status: model.StatusCompleted}
	case errors.Is(err, store.ErrStaleTurn):
		e.logger.Warn("turn committed elsewhere, discarding reply", zap.Int64("conversation_id", conversationID))
		return fmt.Errorf("%w: %w", ErrTurnInProgress, err)
	case errors.Is(err, store.ErrNoNextSpeaker):
		return &NotFoundError{Entity: EntityPersona}
	default:
		return fmt.Errorf("commit turn: %w", err)
	}
}

// OtherParticipants returns every persona except the speaker, keeping order.
func OtherParticipants(personas []persona.Persona, speakerID int64) []persona.Persona {
	others := make([]persona.Persona, 0, len(personas))
	for _, p := range personas {
		if p.ID != speakerID {
			others = append(others, p)
		}
	}
	return others
}

// NextSpeaker hands the turn to the lowest-id persona among others. With
// three or more personas this never reaches the higher ids; rotation is only
// fair for two participants.
func NextSpeaker(others []persona.Persona) (persona.Persona, bool) {
	if len(others) == 0 {
		return persona.Persona{}, false
	}
	next := others[0]
	for _, p := range others[1:] {
		if p.ID < next.ID {
			next = p
		}
	}
	return next, true
}
