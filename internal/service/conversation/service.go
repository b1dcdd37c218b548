package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	model "github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
	"github.com/zhouzirui/z-parley/backend/internal/store"
)

// Service is the request/response surface over conversations: creation,
// snapshots, single turns and clearing.
type Service struct {
	store  store.Store
	engine *Engine
	logger *zap.Logger
}

func NewService(st store.Store, engine *Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  st,
		engine: engine,
		logger: logger.With(zap.String("component", "conversation_service")),
	}
}

// Create validates the input and starts a conversation with the given speaker.
func (s *Service) Create(ctx context.Context, in model.CreateInput) (model.Conversation, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return model.Conversation{}, err
	}
	if _, err := s.store.GetPersona(ctx, *in.CurrentSpeakerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Conversation{}, &NotFoundError{Entity: EntitySpeaker, ID: *in.CurrentSpeakerID}
		}
		return model.Conversation{}, fmt.Errorf("load speaker: %w", err)
	}

	conv, err := s.store.CreateConversation(ctx, in)
	if err != nil {
		return model.Conversation{}, err
	}
	s.logger.Info("conversation created",
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("speaker_id", *conv.CurrentSpeakerID),
		zap.Int("max_turns", conv.MaxTurns))
	return conv, nil
}

// Snapshot returns the most recent active conversation with its messages and
// every persona. Conversation is nil when none is active.
func (s *Service) Snapshot(ctx context.Context) (model.Snapshot, error) {
	personas, err := s.listPersonas(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}

	conv, err := s.store.FindMostRecentActive(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return model.Snapshot{Messages: []model.Message{}, Personas: personas}, nil
	}
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("find current conversation: %w", err)
	}
	return s.assemble(ctx, conv, personas)
}

// Lookup returns the snapshot of a specific conversation regardless of status.
func (s *Service) Lookup(ctx context.Context, id int64) (model.Snapshot, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Snapshot{}, &NotFoundError{Entity: EntityConversation, ID: id}
		}
		return model.Snapshot{}, fmt.Errorf("load conversation: %w", err)
	}
	personas, err := s.listPersonas(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	return s.assemble(ctx, conv, personas)
}

// AdvanceTurn runs one turn of the conversation through the engine.
func (s *Service) AdvanceTurn(ctx context.Context, id int64) (model.Message, error) {
	return s.engine.AdvanceTurn(ctx, id)
}

// Clear removes every conversation and message. Personas are kept.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.store.ClearConversations(ctx); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	s.logger.Info("conversations cleared")
	return nil
}

func (s *Service) assemble(ctx context.Context, conv model.Conversation, personas []persona.Persona) (model.Snapshot, error) {
	messages, err := s.store.GetMessagesByConversation(ctx, conv.ID)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("load messages: %w", err)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return model.Snapshot{Conversation: &conv, Messages: messages, Personas: personas}, nil
}

func (s *Service) listPersonas(ctx context.Context) ([]persona.Persona, error) {
	personas, err := s.store.ListPersonas(ctx)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	if personas == nil {
		personas = []persona.Persona{}
	}
	return personas, nil
}
