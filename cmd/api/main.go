package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-parley/backend/internal/config"
	"github.com/zhouzirui/z-parley/backend/internal/handler"
	"github.com/zhouzirui/z-parley/backend/internal/logging"
	"github.com/zhouzirui/z-parley/backend/internal/metrics"
	"github.com/zhouzirui/z-parley/backend/internal/model/persona"
	"github.com/zhouzirui/z-parley/backend/internal/service/ai"
	convservice "github.com/zhouzirui/z-parley/backend/internal/service/conversation"
	"github.com/zhouzirui/z-parley/backend/internal/service/driver"
	"github.com/zhouzirui/z-parley/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := store.Open(store.Options{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN}, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if cfg.Server.SeedPersonas {
		if err := seedPersonas(ctx, st, logger); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("parley", reg)

	locker, closeLocker, err := newLocker(ctx, cfg.Lock, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	dispatcher := ai.NewDispatcher(ai.DispatcherConfig{
		Options:   ai.Options{MaxTokens: cfg.AI.MaxTokens, Temperature: cfg.AI.Temperature},
		Timeout:   cfg.AI.Timeout,
		RateLimit: cfg.AI.RateLimit,
		Metrics:   collector,
		Logger:    logger,
	}, buildProviders(ctx, cfg.AI, logger)...)
	if len(dispatcher.Providers()) == 0 {
		logger.Warn("no language model provider configured, every turn will fail until keys are set")
	}

	engine := convservice.NewEngine(st, dispatcher,
		convservice.WithLocker(locker),
		convservice.WithMetrics(collector),
		convservice.WithLogger(logger),
	)
	service := convservice.NewService(st, engine, logger)

	recorder := driver.NewRecorder(0)
	runner := driver.New(service, service, driver.Multi(recorder, driver.NewLogNotifier(logger)), driver.Config{
		TurnDelay: cfg.Driver.TurnDelay,
		Metrics:   collector,
		Logger:    logger,
	})

	router := handler.NewRouter(handler.Dependencies{
		BaseContext:  ctx,
		Personas:     st,
		Service:      service,
		Driver:       runner,
		Recorder:     recorder,
		Metrics:      collector,
		Logger:       logger,
		PollInterval: cfg.Driver.PollInterval,
		DefaultTurns: cfg.Driver.DefaultTurns,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Z Parley backend listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func seedPersonas(ctx context.Context, st store.Store, logger *zap.Logger) error {
	existing, err := st.ListPersonas(ctx)
	if err != nil {
		return fmt.Errorf("list personas: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, in := range persona.Seed() {
		if _, err := st.CreatePersona(ctx, in); err != nil {
			return fmt.Errorf("seed persona %q: %w", in.Name, err)
		}
	}
	logger.Info("seeded example personas", zap.Int("count", len(persona.Seed())))
	return nil
}

func newLocker(ctx context.Context, cfg config.LockConfig, logger *zap.Logger) (convservice.Locker, func(), error) {
	if !cfg.Distributed() {
		return convservice.NewMemoryLocker(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("using redis turn lock", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.TTL))
	return convservice.NewRedisLocker(client, cfg.TTL, logger), func() { _ = client.Close() }, nil
}

// buildProviders 按已配置的密钥启用各模型提供方
func buildProviders(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) []ai.Provider {
	var providers []ai.Provider

	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, ai.NewOpenAIProvider(ai.OpenAIConfig{
			Provider: persona.ProviderOpenAI,
			APIKey:   cfg.OpenAIAPIKey,
			BaseURL:  cfg.OpenAIBaseURL,
			Timeout:  cfg.Timeout,
		}))
	}

	if cfg.XAIAPIKey != "" {
		baseURL := cfg.XAIBaseURL
		if baseURL == "" {
			baseURL = ai.DefaultXAIBaseURL
		}
		providers = append(providers, ai.NewOpenAIProvider(ai.OpenAIConfig{
			Provider: persona.ProviderXAI,
			APIKey:   cfg.XAIAPIKey,
			BaseURL:  baseURL,
			Timeout:  cfg.Timeout,
		}))
	}

	if cfg.GoogleAPIKey != "" {
		gemini, err := ai.NewGeminiProvider(ctx, cfg.GoogleAPIKey, cfg.GoogleBaseURL)
		if err != nil {
			logger.Warn("failed to initialize gemini provider", zap.Error(err))
		} else {
			providers = append(providers, gemini)
		}
	}

	if cfg.Ark.Enabled() {
		chatModel, err := cfg.Ark.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize ark provider", zap.Error(err))
		} else {
			providers = append(providers, ai.NewArkProvider(chatModel))
		}
	} else {
		logger.Info("Ark 凭证未配置，跳过方舟模型")
	}

	for _, p := range providers {
		logger.Info("language model provider enabled", zap.String("provider", string(p.Name())))
	}
	return providers
}
