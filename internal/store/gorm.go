package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
)

// GormStore implements Store on a relational database through gorm.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore migrates the schema and returns a store bound to db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&persona.Persona{}, &conversation.Conversation{}, &conversation.Message{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) withTx(tx *gorm.DB) *GormStore {
	return &GormStore{db: tx, now: s.now}
}

func (s *GormStore) GetPersona(ctx context.Context, id int64) (persona.Persona, error) {
	var p persona.Persona
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return persona.Persona{}, translate(err)
	}
	return p, nil
}

func (s *GormStore) ListPersonas(ctx context.Context) ([]persona.Persona, error) {
	var items []persona.Persona
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	return items, nil
}

func (s *GormStore) CreatePersona(ctx context.Context, in persona.Input) (persona.Persona, error) {
	p := in.Normalize().Apply(persona.Persona{})
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return persona.Persona{}, fmt.Errorf("create persona: %w", err)
	}
	return p, nil
}

func (s *GormStore) UpdatePersona(ctx context.Context, id int64, in persona.Input) (persona.Persona, error) {
	var updated persona.Persona
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p persona.Persona
		if err := tx.First(&p, id).Error; err != nil {
			return translate(err)
		}
		updated = in.Normalize().Apply(p)
		return tx.Model(&p).Select("name", "background", "goal", "model_type").Updates(&updated).Error
	})
	if err != nil {
		return persona.Persona{}, err
	}
	return updated, nil
}

func (s *GormStore) DeletePersona(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&persona.Persona{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete persona: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ClearPersonas(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&persona.Persona{}).Error; err != nil {
		return fmt.Errorf("clear personas: %w", err)
	}
	return nil
}

func (s *GormStore) CreateConversation(ctx context.Context, in conversation.CreateInput) (conversation.Conversation, error) {
	in = in.Normalize()
	conv := conversation.Conversation{
		Status:           conversation.StatusActive,
		CurrentSpeakerID: in.CurrentSpeakerID,
		MaxTurns:         in.MaxTurns,
		CurrentTurn:      0,
		SystemPrompt:     *in.SystemPrompt,
		CreatedAt:        s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return conversation.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *GormStore) GetConversation(ctx context.Context, id int64) (conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := s.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		return conversation.Conversation{}, translate(err)
	}
	return conv, nil
}

func (s *GormStore) ListConversations(ctx context.Context) ([]conversation.Conversation, error) {
	var items []conversation.Conversation
	if err := s.db.WithContext(ctx).Order("id asc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return items, nil
}

func (s *GormStore) FindMostRecentActive(ctx context.Context) (conversation.Conversation, error) {
	var conv conversation.Conversation
	err := s.db.WithContext(ctx).
		Where("status = ?", conversation.StatusActive).
		Order("created_at desc").
		Order("id desc").
		First(&conv).Error
	if err != nil {
		return conversation.Conversation{}, translate(err)
	}
	return conv, nil
}

func (s *GormStore) UpdateConversationStatus(ctx context.Context, id int64, status conversation.Status) error {
	return s.updateConversation(ctx, id, "status", status)
}

func (s *GormStore) UpdateCurrentSpeaker(ctx context.Context, id int64, personaID int64) error {
	return s.updateConversation(ctx, id, "current_speaker_id", personaID)
}

func (s *GormStore) IncrementTurn(ctx context.Context, id int64) error {
	return s.updateConversation(ctx, id, "current_turn", gorm.Expr("current_turn + 1"))
}

func (s *GormStore) updateConversation(ctx context.Context, id int64, column string, value any) error {
	res := s.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", id).
		Update(column, value)
	if res.Error != nil {
		return fmt.Errorf("update conversation %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ClearConversations(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&conversation.Message{}).Error; err != nil {
			return fmt.Errorf("clear messages: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&conversation.Conversation{}).Error; err != nil {
			return fmt.Errorf("clear conversations: %w", err)
		}
		return nil
	})
}

func (s *GormStore) CreateMessage(ctx context.Context, conversationID, personaID int64, content string) (conversation.Message, error) {
	msg := conversation.Message{
		ConversationID: conversationID,
		PersonaID:      personaID,
		Content:        content,
		Timestamp:      s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return conversation.Message{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

func (s *GormStore) GetMessagesByConversation(ctx context.Context, conversationID int64) ([]conversation.Message, error) {
	var items []conversation.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return items, nil
}

func (s *GormStore) CommitTurn(ctx context.Context, commit TurnCommit) (conversation.Message, error) {
	var msg conversation.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv conversation.Conversation
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).First(&conv, commit.ConversationID).Error; err != nil {
			return translate(err)
		}
		if !conv.Active() {
			return ErrNotActive
		}
		if conv.CurrentTurn != commit.ExpectedTurn {
			return ErrStaleTurn
		}

		updates := map[string]any{"current_turn": gorm.Expr("current_turn + 1")}
		if commit.Complete {
			updates["status"] = conversation.StatusCompleted
		} else {
			// Share locks keep the chosen persona from being deleted before commit.
			var personas []persona.Persona
			if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthShare}).Order("id asc").Find(&personas).Error; err != nil {
				return fmt.Errorf("list personas: %w", err)
			}
			next, ok := selectNext(commit, personas)
			if !ok {
				return ErrNoNextSpeaker
			}
			updates["current_speaker_id"] = next.ID
		}

		res := tx.Model(&conversation.Conversation{}).
			Where("id = ? AND status = ? AND current_turn = ?", commit.ConversationID, conversation.StatusActive, commit.ExpectedTurn).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("advance conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleTurn
		}

		var err error
		msg, err = s.withTx(tx).CreateMessage(ctx, commit.ConversationID, commit.PersonaID, commit.Content)
		return err
	})
	if err != nil {
		return conversation.Message{}, err
	}
	return msg, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
