// Package store persists personas, conversations and messages.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNotActive rejects a turn commit on a conversation that is no longer active.
	ErrNotActive = errors.New("conversation is not active")
	// ErrStaleTurn rejects a turn commit when another writer advanced the
	// conversation since it was read.
	ErrStaleTurn = errors.New("conversation advanced concurrently")
	// ErrNoNextSpeaker rejects a turn commit when no persona can take the next turn.
	ErrNoNextSpeaker = errors.New("no persona can take the next turn")
)

// PersonaStore covers persona CRUD.
type PersonaStore interface {
	GetPersona(ctx context.Context, id int64) (persona.Persona, error)
	ListPersonas(ctx context.Context) ([]persona.Persona, error)
	CreatePersona(ctx context.Context, in persona.Input) (persona.Persona, error)
	UpdatePersona(ctx context.Context, id int64, in persona.Input) (persona.Persona, error)
	DeletePersona(ctx context.Context, id int64) error
	ClearPersonas(ctx context.Context) error
}

// ConversationStore covers conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, in conversation.CreateInput) (conversation.Conversation, error)
	GetConversation(ctx context.Context, id int64) (conversation.Conversation, error)
	ListConversations(ctx context.Context) ([]conversation.Conversation, error)
	// FindMostRecentActive returns the newest active conversation, ties broken
	// by highest id. ErrNotFound when none is active.
	FindMostRecentActive(ctx context.Context) (conversation.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id int64, status conversation.Status) error
	UpdateCurrentSpeaker(ctx context.Context, id int64, personaID int64) error
	IncrementTurn(ctx context.Context, id int64) error
	ClearConversations(ctx context.Context) error

	CreateMessage(ctx context.Context, conversationID, personaID int64, content string) (conversation.Message, error)
	// GetMessagesByConversation returns messages in creation order.
	GetMessagesByConversation(ctx context.Context, conversationID int64) ([]conversation.Message, error)

	// CommitTurn applies the bookkeeping of one successful turn atomically.
	CommitTurn(ctx context.Context, commit TurnCommit) (conversation.Message, error)
}

// Store is the full persistence contract.
type Store interface {
	PersonaStore
	ConversationStore
	Close() error
}

// TurnCommit describes the writes produced by one turn: the new message, the
// counter increment and either completion or the next speaker.
type TurnCommit struct {
	ConversationID int64
	PersonaID      int64
	Content        string
	// ExpectedTurn is the CurrentTurn observed before generation. The commit
	// fails with ErrStaleTurn when the stored value differs.
	ExpectedTurn int
	Complete     bool
	// SelectNext picks the next speaker among the personas that exist at
	// commit time, ordered by id. Unused when Complete is set.
	SelectNext func(personas []persona.Persona) (persona.Persona, bool)
}

// Options selects a backend.
type Options struct {
	Driver string
	DSN    string
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open builds the store selected by opts.
func Open(opts Options, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	var dialector gorm.Dialector
	switch driver {
	case "", DriverMemory:
		logger.Info("using in-memory store")
		return NewMemoryStore(), nil
	case DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("access sqlite pool: %w", err)
		}
		// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY
		// and keeps ":memory:" databases coherent.
		sqlDB.SetMaxOpenConns(1)
	}

	st, err := NewGormStore(db)
	if err != nil {
		return nil, err
	}
	logger.Info("using relational store", zap.String("driver", driver))
	return st, nil
}
