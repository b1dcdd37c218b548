package ai

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
)

// Options are the sampling parameters applied to every call.
type Options struct {
	MaxTokens   int
	Temperature float32
}

// DefaultOptions mirrors the parameters the negotiation prompts were tuned with.
func DefaultOptions() Options {
	return Options{MaxTokens: 150, Temperature: 0.7}
}

// Provider is one model backend. model is the catalog identifier of the
// persona's model type.
type Provider interface {
	Name() persona.Provider
	Complete(ctx context.Context, model string, messages []*schema.Message, opts Options) (string, error)
}
