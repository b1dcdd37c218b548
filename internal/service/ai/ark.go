package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
)

// ArkProvider serves catalog models routed to a Volcengine Ark endpoint.
// The endpoint fixes the underlying model, so the catalog id is ignored.
type ArkProvider struct {
	chatModel model.BaseChatModel
}

func NewArkProvider(chatModel model.BaseChatModel) *ArkProvider {
	return &ArkProvider{chatModel: chatModel}
}

func (p *ArkProvider) Name() persona.Provider { return persona.ProviderArk }

func (p *ArkProvider) Complete(ctx context.Context, _ string, messages []*schema.Message, opts Options) (string, error) {
	resp, err := p.chatModel.Generate(ctx, messages,
		model.WithTemperature(opts.Temperature),
		model.WithMaxTokens(opts.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("ark generate: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyReply
	}
	return resp.Content, nil
}
