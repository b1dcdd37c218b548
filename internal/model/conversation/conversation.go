package conversation

import (
	"strings"
	"time"

	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
	"github.com/zhouzirui/z-parley/backend/internal/model/validation"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

const (
	DefaultMaxTurns = 10
	MaxTurnsLimit   = 100
)

// DefaultSystemPrompt frames every conversation created without a prompt.
const DefaultSystemPrompt = "You are participating in a structured negotiation aimed at reaching a point of reconciliation. " +
	"This does not necessarily mean agreement; rather, the goal is to explore viable paths forward. " +
	"Prioritise addressing the most crucial issues first, identifying any points of alignment, and clarifying key differences. " +
	"After establishing the core concerns, explore possible alternative solutions. " +
	"If reconciliation is impossible, provide clear, practical next-step recommendations that allow both parties to move forward productively."

// Conversation is one bounded run of a turn-based exchange.
type Conversation struct {
	ID               int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Status           Status    `json:"status" gorm:"not null;default:active;index"`
	CurrentSpeakerID *int64    `json:"currentSpeakerId"`
	MaxTurns         int       `json:"maxTurns" gorm:"not null;default:10"`
	CurrentTurn      int       `json:"currentTurn" gorm:"not null;default:0"`
	SystemPrompt     string    `json:"systemPrompt" gorm:"type:text;not null"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Active reports whether the conversation still accepts turns.
func (c Conversation) Active() bool {
	return c.Status == StatusActive
}

// Message is one generated utterance. Messages are never mutated.
type Message struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ConversationID int64     `json:"conversationId" gorm:"not null;index"`
	PersonaID      int64     `json:"personaId" gorm:"not null"`
	Content        string    `json:"content" gorm:"type:text;not null"`
	Timestamp      time.Time `json:"timestamp" gorm:"not null"`
}

func (Message) TableName() string {
	return "messages"
}

// CreateInput starts a conversation.
type CreateInput struct {
	CurrentSpeakerID *int64  `json:"currentSpeakerId"`
	MaxTurns         int     `json:"maxTurns"`
	SystemPrompt     *string `json:"systemPrompt,omitempty"`
}

// Normalize applies the default turn cap and prompt.
func (in CreateInput) Normalize() CreateInput {
	if in.MaxTurns == 0 {
		in.MaxTurns = DefaultMaxTurns
	}
	if in.SystemPrompt == nil || strings.TrimSpace(*in.SystemPrompt) == "" {
		prompt := DefaultSystemPrompt
		in.SystemPrompt = &prompt
	}
	return in
}

// Validate expects a normalized input.
func (in CreateInput) Validate() error {
	verr := &validation.Error{}
	if in.CurrentSpeakerID == nil {
		verr.Add("currentSpeakerId", "is required")
	}
	if in.MaxTurns < 1 || in.MaxTurns > MaxTurnsLimit {
		verr.Add("maxTurns", "must be between 1 and 100")
	}
	return verr.Err()
}

// Snapshot is the read model polled by clients: the current conversation,
// its ordered messages and every persona.
type Snapshot struct {
	Conversation *Conversation     `json:"conversation"`
	Messages     []Message         `json:"messages"`
	Personas     []persona.Persona `json:"personas"`
}

// Empty reports whether the snapshot carries no conversation.
func (s Snapshot) Empty() bool {
	return s.Conversation == nil
}

// LastMessage returns the most recent message, if any.
func (s Snapshot) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Persona resolves a participant by id.
func (s Snapshot) Persona(id int64) (persona.Persona, bool) {
	for _, p := range s.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return persona.Persona{}, false
}
