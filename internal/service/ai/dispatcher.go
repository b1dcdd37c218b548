package ai

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/z-parley/backend/internal/metrics"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
)

// DispatcherConfig tunes every provider call made by a Dispatcher.
type DispatcherConfig struct {
	Options Options
	// Timeout bounds a single provider call. Zero disables it.
	Timeout time.Duration
	// RateLimit is the sustained requests per second allowed per provider.
	// Zero or negative disables limiting.
	RateLimit float64
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// Dispatcher implements Generator by routing each request to the provider
// that serves the speaker's model type.
type Dispatcher struct {
	providers map[persona.Provider]Provider
	limiters  map[persona.Provider]*rate.Limiter
	prompts   *PromptBuilder
	cfg       DispatcherConfig
	logger    *zap.Logger
}

func NewDispatcher(cfg DispatcherConfig, providers ...Provider) *Dispatcher {
	if cfg.Options == (Options{}) {
		cfg.Options = DefaultOptions()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	d := &Dispatcher{
		providers: make(map[persona.Provider]Provider, len(providers)),
		limiters:  make(map[persona.Provider]*rate.Limiter, len(providers)),
		prompts:   NewPromptBuilder(),
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "ai_dispatcher")),
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		d.providers[p.Name()] = p
		d.limiters[p.Name()] = rate.NewLimiter(limit, 1)
	}
	return d
}

// Providers lists the configured backends.
func (d *Dispatcher) Providers() []persona.Provider {
	names := make([]persona.Provider, 0, len(d.providers))
	for name := range d.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func (d *Dispatcher) Generate(ctx context.Context, req Request) (string, error) {
	info, ok := persona.LookupModel(req.Speaker.ModelType)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, req.Speaker.ModelType)
	}
	provider, ok := d.providers[info.Provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrProviderUnavailable, info.Provider)
	}

	messages, err := d.prompts.Build(ctx, req)
	if err != nil {
		return "", err
	}

	if err := d.limiters[info.Provider].Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for %s rate limit: %w", info.Provider, err)
	}

	callCtx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := provider.Complete(callCtx, string(info.ID), messages, d.cfg.Options)
	elapsed := time.Since(start)
	d.cfg.Metrics.RecordGeneration(string(info.Provider), string(info.ID), elapsed, err)
	if err != nil {
		d.logger.Warn("generation failed",
			zap.String("provider", string(info.Provider)),
			zap.String("model", string(info.ID)),
			zap.Int64("persona_id", req.Speaker.ID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return "", err
	}

	d.logger.Debug("generated reply",
		zap.String("provider", string(info.Provider)),
		zap.String("model", string(info.ID)),
		zap.Int64("persona_id", req.Speaker.ID),
		zap.Int("length", len(text)),
		zap.Duration("elapsed", elapsed))

	if text == "" {
		return FallbackReply, nil
	}
	return text, nil
}
