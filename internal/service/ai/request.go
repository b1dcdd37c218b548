package ai

import (
	"context"
	"errors"

	"github.com/zhouzirui/z-parley/backend/internal/model/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
)

var (
	ErrUnknownModel        = errors.New("unknown model type")
	ErrProviderUnavailable = errors.New("model provider is not configured")
	ErrEmptyReply          = errors.New("model returned no choices")
)

// FallbackReply is stored when a provider answers with empty text.
const FallbackReply = "No response generated"

// Request carries everything needed to produce the speaker's next message.
type Request struct {
	Speaker      persona.Persona
	History      []conversation.Message
	Others       []persona.Persona
	SystemPrompt string
}

// Generator produces the next utterance for a speaker.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
