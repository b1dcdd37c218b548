package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const systemTemplate = `You are {name}. 
Background: {background}
Your goal: {goal}

You are in a conversation with:
{participants}

{system_prompt}

Maintain your character's perspective and work towards your goal while engaging constructively with others.
Keep responses concise (2-3 sentences).
`

const userTemplate = `Conversation history:
{history}

Respond as {name}:`

// PromptBuilder renders a Request into chat messages through an eino template.
type PromptBuilder struct {
	template prompt.ChatTemplate
}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{
		template: prompt.FromMessages(
			schema.FString,
			schema.SystemMessage(systemTemplate),
			schema.UserMessage(userTemplate),
		),
	}
}

// Build returns the system and user messages for req.
func (b *PromptBuilder) Build(ctx context.Context, req Request) ([]*schema.Message, error) {
	messages, err := b.template.Format(ctx, templateVars(req))
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	return messages, nil
}

func templateVars(req Request) map[string]any {
	participants := make([]string, 0, len(req.Others))
	for _, p := range req.Others {
		participants = append(participants, fmt.Sprintf("- %s: %s", p.Name, p.Background))
	}

	history := make([]string, 0, len(req.History))
	for _, msg := range req.History {
		history = append(history, fmt.Sprintf("[%d]: %s", msg.PersonaID, msg.Content))
	}

	return map[string]any{
		"name":          req.Speaker.Name,
		"background":    req.Speaker.Background,
		"goal":          req.Speaker.Goal,
		"participants":  strings.Join(participants, "\n"),
		"system_prompt": req.SystemPrompt,
		"history":       strings.Join(history, "\n"),
	}
}
