package store_test

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
	"github.com/zhouzirui/z-parley/backend/internal/store"
)

func newGormStore(t *testing.T) store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	st, err := store.NewGormStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func backends() map[string]func(t *testing.T) store.Store {
	return map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return store.NewMemoryStore() },
		"gorm":   newGormStore,
	}
}

func speakerInput(id int64, maxTurns int) conversation.CreateInput {
	return conversation.CreateInput{CurrentSpeakerID: &id, MaxTurns: maxTurns}
}

func TestPersonaCRUD(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			created, err := st.CreatePersona(ctx, persona.Input{Name: " Ana ", Background: "bg", Goal: "goal"})
			require.NoError(t, err)
			assert.NotZero(t, created.ID)
			assert.Equal(t, "Ana", created.Name)
			assert.Equal(t, persona.DefaultModelType, created.ModelType)

			updated, err := st.UpdatePersona(ctx, created.ID, persona.Input{Name: "Ana B", Background: "bg2", Goal: "goal2", ModelType: "grok-beta"})
			require.NoError(t, err)
			assert.Equal(t, created.ID, updated.ID)
			assert.Equal(t, persona.ModelType("grok-beta"), updated.ModelType)

			got, err := st.GetPersona(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, updated, got)

			_, err = st.UpdatePersona(ctx, 999, persona.Input{Name: "x", Background: "x", Goal: "x"})
			assert.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, st.DeletePersona(ctx, created.ID))
			assert.ErrorIs(t, st.DeletePersona(ctx, created.ID), store.ErrNotFound)

			_, err = st.GetPersona(ctx, created.ID)
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestListPersonasOrderedByID(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			for _, in := range persona.Seed() {
				_, err := st.CreatePersona(ctx, in)
				require.NoError(t, err)
			}
			items, err := st.ListPersonas(ctx)
			require.NoError(t, err)
			require.Len(t, items, 2)
			assert.Less(t, items[0].ID, items[1].ID)

			require.NoError(t, st.ClearPersonas(ctx))
			items, err = st.ListPersonas(ctx)
			require.NoError(t, err)
			assert.Empty(t, items)
		})
	}
}

func TestConversationLifecycle(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			conv, err := st.CreateConversation(ctx, speakerInput(1, 0))
			require.NoError(t, err)
			assert.Equal(t, conversation.StatusActive, conv.Status)
			assert.Equal(t, conversation.DefaultMaxTurns, conv.MaxTurns)
			assert.Equal(t, 0, conv.CurrentTurn)
			assert.Equal(t, conversation.DefaultSystemPrompt, conv.SystemPrompt)
			require.NotNil(t, conv.CurrentSpeakerID)
			assert.Equal(t, int64(1), *conv.CurrentSpeakerID)

			require.NoError(t, st.IncrementTurn(ctx, conv.ID))
			require.NoError(t, st.UpdateCurrentSpeaker(ctx, conv.ID, 2))
			require.NoError(t, st.UpdateConversationStatus(ctx, conv.ID, conversation.StatusCompleted))

			got, err := st.GetConversation(ctx, conv.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.CurrentTurn)
			assert.Equal(t, int64(2), *got.CurrentSpeakerID)
			assert.Equal(t, conversation.StatusCompleted, got.Status)

			assert.ErrorIs(t, st.IncrementTurn(ctx, 404), store.ErrNotFound)
			_, err = st.GetConversation(ctx, 404)
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestFindMostRecentActive(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			_, err := st.FindMostRecentActive(ctx)
			assert.ErrorIs(t, err, store.ErrNotFound)

			first, err := st.CreateConversation(ctx, speakerInput(1, 4))
			require.NoError(t, err)
			second, err := st.CreateConversation(ctx, speakerInput(1, 4))
			require.NoError(t, err)

			current, err := st.FindMostRecentActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, second.ID, current.ID)

			require.NoError(t, st.UpdateConversationStatus(ctx, second.ID, conversation.StatusCompleted))
			current, err = st.FindMostRecentActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, first.ID, current.ID)
		})
	}
}

// lowestOther mirrors the engine's rotation for store-level tests.
func lowestOther(speakerID int64) func([]persona.Persona) (persona.Persona, bool) {
	return func(personas []persona.Persona) (persona.Persona, bool) {
		for _, p := range personas {
			if p.ID != speakerID {
				return p, true
			}
		}
		return persona.Persona{}, false
	}
}

func seedPersonas(t *testing.T, st store.Store) []persona.Persona {
	t.Helper()
	var out []persona.Persona
	for _, in := range persona.Seed() {
		p, err := st.CreatePersona(context.Background(), in)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestCommitTurn(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			ps := seedPersonas(t, st)
			a, b := ps[0], ps[1]

			conv, err := st.CreateConversation(ctx, speakerInput(a.ID, 2))
			require.NoError(t, err)

			msg, err := st.CommitTurn(ctx, store.TurnCommit{ConversationID: conv.ID, PersonaID: a.ID, Content: "hello", SelectNext: lowestOther(a.ID)})
			require.NoError(t, err)
			assert.Equal(t, a.ID, msg.PersonaID)
			assert.False(t, msg.Timestamp.IsZero())

			got, err := st.GetConversation(ctx, conv.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.CurrentTurn)
			assert.Equal(t, b.ID, *got.CurrentSpeakerID)
			assert.True(t, got.Active())

			_, err = st.CommitTurn(ctx, store.TurnCommit{ConversationID: conv.ID, PersonaID: b.ID, Content: "bye", ExpectedTurn: 1, Complete: true})
			require.NoError(t, err)

			got, err = st.GetConversation(ctx, conv.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, got.CurrentTurn)
			assert.Equal(t, conversation.StatusCompleted, got.Status)
			assert.Equal(t, b.ID, *got.CurrentSpeakerID)

			messages, err := st.GetMessagesByConversation(ctx, conv.ID)
			require.NoError(t, err)
			require.Len(t, messages, 2)
			assert.Equal(t, "hello", messages[0].Content)
			assert.Equal(t, "bye", messages[1].Content)
			assert.False(t, messages[1].Timestamp.Before(messages[0].Timestamp))

			_, err = st.CommitTurn(ctx, store.TurnCommit{ConversationID: 404, PersonaID: a.ID, Content: "lost"})
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestCommitTurnGuards(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			ps := seedPersonas(t, st)
			a, b := ps[0], ps[1]

			conv, err := st.CreateConversation(ctx, speakerInput(a.ID, 3))
			require.NoError(t, err)
			first := store.TurnCommit{ConversationID: conv.ID, PersonaID: a.ID, Content: "first", SelectNext: lowestOther(a.ID)}
			_, err = st.CommitTurn(ctx, first)
			require.NoError(t, err)

			// A second writer that read the same turn loses.
			_, err = st.CommitTurn(ctx, first)
			assert.ErrorIs(t, err, store.ErrStaleTurn)

			require.NoError(t, st.DeletePersona(ctx, a.ID))
			_, err = st.CommitTurn(ctx, store.TurnCommit{ConversationID: conv.ID, PersonaID: b.ID, Content: "alone", ExpectedTurn: 1, SelectNext: lowestOther(b.ID)})
			assert.ErrorIs(t, err, store.ErrNoNextSpeaker)

			require.NoError(t, st.UpdateConversationStatus(ctx, conv.ID, conversation.StatusCompleted))
			_, err = st.CommitTurn(ctx, store.TurnCommit{ConversationID: conv.ID, PersonaID: b.ID, Content: "late", ExpectedTurn: 1, Complete: true})
			assert.ErrorIs(t, err, store.ErrNotActive)

			got, err := st.GetConversation(ctx, conv.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.CurrentTurn)
			assert.Equal(t, b.ID, *got.CurrentSpeakerID)
			messages, err := st.GetMessagesByConversation(ctx, conv.ID)
			require.NoError(t, err)
			assert.Len(t, messages, 1)
		})
	}
}

func TestClearConversations(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			p, err := st.CreatePersona(ctx, persona.Seed()[0])
			require.NoError(t, err)
			conv, err := st.CreateConversation(ctx, speakerInput(p.ID, 3))
			require.NoError(t, err)
			_, err = st.CreateMessage(ctx, conv.ID, p.ID, "hi")
			require.NoError(t, err)

			require.NoError(t, st.ClearConversations(ctx))

			conversations, err := st.ListConversations(ctx)
			require.NoError(t, err)
			assert.Empty(t, conversations)
			messages, err := st.GetMessagesByConversation(ctx, conv.ID)
			require.NoError(t, err)
			assert.Empty(t, messages)

			personas, err := st.ListPersonas(ctx)
			require.NoError(t, err)
			assert.Len(t, personas, 1)
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := store.Open(store.Options{Driver: "cassandra"}, nil)
	assert.Error(t, err)

	st, err := store.Open(store.Options{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st)
}
