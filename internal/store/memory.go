package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
)

// MemoryStore keeps everything in process memory. Data is lost on restart.
type MemoryStore struct {
	mu            sync.RWMutex
	personas      map[int64]persona.Persona
	conversations map[int64]conversation.Conversation
	messages      map[int64][]conversation.Message

	nextPersonaID      int64
	nextConversationID int64
	nextMessageID      int64

	now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		personas:           make(map[int64]persona.Persona),
		conversations:      make(map[int64]conversation.Conversation),
		messages:           make(map[int64][]conversation.Message),
		nextPersonaID:      1,
		nextConversationID: 1,
		nextMessageID:      1,
		now:                func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetPersona(_ context.Context, id int64) (persona.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[id]
	if !ok {
		return persona.Persona{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListPersonas(_ context.Context) ([]persona.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPersonas(), nil
}

// sortedPersonas requires s.mu held.
func (s *MemoryStore) sortedPersonas() []persona.Persona {
	items := make([]persona.Persona, 0, len(s.personas))
	for _, p := range s.personas {
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (s *MemoryStore) CreatePersona(_ context.Context, in persona.Input) (persona.Persona, error) {
	in = in.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	p := in.Apply(persona.Persona{ID: s.nextPersonaID})
	s.nextPersonaID++
	s.personas[p.ID] = p
	return p, nil
}

func (s *MemoryStore) UpdatePersona(_ context.Context, id int64, in persona.Input) (persona.Persona, error) {
	in = in.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.personas[id]
	if !ok {
		return persona.Persona{}, ErrNotFound
	}
	p = in.Apply(p)
	s.personas[id] = p
	return p, nil
}

func (s *MemoryStore) DeletePersona(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.personas[id]; !ok {
		return ErrNotFound
	}
	delete(s.personas, id)
	return nil
}

func (s *MemoryStore) ClearPersonas(_ context.Context) error {
	s.mu.Lock()
	s.personas = make(map[int64]persona.Persona)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, in conversation.CreateInput) (conversation.Conversation, error) {
	in = in.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	conv := conversation.Conversation{
		ID:           s.nextConversationID,
		Status:       conversation.StatusActive,
		MaxTurns:     in.MaxTurns,
		CurrentTurn:  0,
		SystemPrompt: *in.SystemPrompt,
		CreatedAt:    s.now(),
	}
	if in.CurrentSpeakerID != nil {
		speaker := *in.CurrentSpeakerID
		conv.CurrentSpeakerID = &speaker
	}
	s.nextConversationID++
	s.conversations[conv.ID] = conv
	return copyConversation(conv), nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id int64) (conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return conversation.Conversation{}, ErrNotFound
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) ListConversations(_ context.Context) ([]conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]conversation.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		items = append(items, copyConversation(conv))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) FindMostRecentActive(_ context.Context) (conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  conversation.Conversation
		found bool
	)
	for _, conv := range s.conversations {
		if !conv.Active() {
			continue
		}
		if !found || newerThan(conv, best) {
			best, found = conv, true
		}
	}
	if !found {
		return conversation.Conversation{}, ErrNotFound
	}
	return copyConversation(best), nil
}

func (s *MemoryStore) UpdateConversationStatus(_ context.Context, id int64, status conversation.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateConversation(id, func(c *conversation.Conversation) { c.Status = status })
}

func (s *MemoryStore) UpdateCurrentSpeaker(_ context.Context, id int64, personaID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateConversation(id, func(c *conversation.Conversation) { c.CurrentSpeakerID = &personaID })
}

func (s *MemoryStore) IncrementTurn(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateConversation(id, func(c *conversation.Conversation) { c.CurrentTurn++ })
}

func (s *MemoryStore) ClearConversations(_ context.Context) error {
	s.mu.Lock()
	s.conversations = make(map[int64]conversation.Conversation)
	s.messages = make(map[int64][]conversation.Message)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, conversationID, personaID int64, content string) (conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendMessage(conversationID, personaID, content)
}

func (s *MemoryStore) GetMessagesByConversation(_ context.Context, conversationID int64) ([]conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := s.messages[conversationID]
	copied := make([]conversation.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *MemoryStore) CommitTurn(_ context.Context, commit TurnCommit) (conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[commit.ConversationID]
	if !ok {
		return conversation.Message{}, ErrNotFound
	}
	if !conv.Active() {
		return conversation.Message{}, ErrNotActive
	}
	if conv.CurrentTurn != commit.ExpectedTurn {
		return conversation.Message{}, ErrStaleTurn
	}

	var nextID int64
	if !commit.Complete {
		next, ok := selectNext(commit, s.sortedPersonas())
		if !ok {
			return conversation.Message{}, ErrNoNextSpeaker
		}
		nextID = next.ID
	}

	msg, err := s.appendMessage(commit.ConversationID, commit.PersonaID, commit.Content)
	if err != nil {
		return conversation.Message{}, err
	}
	err = s.mutateConversation(commit.ConversationID, func(c *conversation.Conversation) {
		c.CurrentTurn++
		if commit.Complete {
			c.Status = conversation.StatusCompleted
			return
		}
		c.CurrentSpeakerID = &nextID
	})
	return msg, err
}

func selectNext(commit TurnCommit, personas []persona.Persona) (persona.Persona, bool) {
	if commit.SelectNext == nil {
		return persona.Persona{}, false
	}
	return commit.SelectNext(personas)
}

// appendMessage requires s.mu held for writing.
func (s *MemoryStore) appendMessage(conversationID, personaID int64, content string) (conversation.Message, error) {
	if _, ok := s.conversations[conversationID]; !ok {
		return conversation.Message{}, ErrNotFound
	}

	ts := s.now()
	existing := s.messages[conversationID]
	if n := len(existing); n > 0 && ts.Before(existing[n-1].Timestamp) {
		ts = existing[n-1].Timestamp
	}

	msg := conversation.Message{
		ID:             s.nextMessageID,
		ConversationID: conversationID,
		PersonaID:      personaID,
		Content:        content,
		Timestamp:      ts,
	}
	s.nextMessageID++
	s.messages[conversationID] = append(existing, msg)
	return msg, nil
}

// mutateConversation requires s.mu held for writing.
func (s *MemoryStore) mutateConversation(id int64, fn func(*conversation.Conversation)) error {
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	fn(&conv)
	s.conversations[id] = conv
	return nil
}

func newerThan(a, b conversation.Conversation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func copyConversation(c conversation.Conversation) conversation.Conversation {
	if c.CurrentSpeakerID != nil {
		speaker := *c.CurrentSpeakerID
		c.CurrentSpeakerID = &speaker
	}
	return c
}
