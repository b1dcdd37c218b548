package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Storage StorageConfig
	Lock    LockConfig
	AI      AIConfig
	Driver  DriverConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	lock, err := loadLockConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	driver, err := loadDriverConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Log:     loadLogConfig(),
		Storage: storage,
		Lock:    lock,
		AI:      ai,
		Driver:  driver,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// SeedPersonas 为 true 时，在人物表为空的情况下写入示例人物。
	SeedPersonas bool
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	seed, err := parseBoolEnv("SEED_PERSONAS", false)
	if err != nil {
		return ServerConfig{}, err
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, SeedPersonas: seed}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, SeedPersonas: seed}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

// StorageConfig 选择持久化后端。
type StorageConfig struct {
	Driver string
	DSN    string
}

func loadStorageConfig() (StorageConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORAGE_DRIVER", "memory"))
	cfg := StorageConfig{Driver: driver, DSN: strings.TrimSpace(os.Getenv("DATABASE_DSN"))}

	switch driver {
	case "memory":
	case "sqlite":
		if cfg.DSN == "" {
			cfg.DSN = "file:parley.db?cache=shared"
		}
	case "postgres":
		if cfg.DSN == "" {
			return StorageConfig{}, fmt.Errorf("DATABASE_DSN is required when STORAGE_DRIVER=postgres")
		}
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_DRIVER value: %q", driver)
	}
	return cfg, nil
}

// LockConfig 描述回合锁。RedisAddr 为空时使用进程内锁。
type LockConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// Distributed 表示是否启用 Redis 锁。
func (c LockConfig) Distributed() bool {
	return c.RedisAddr != ""
}

func loadLockConfig() (LockConfig, error) {
	db, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return LockConfig{}, err
	}
	ttl, err := parseDurationEnv("TURN_LOCK_TTL", 2*time.Minute)
	if err != nil {
		return LockConfig{}, err
	}

	cfg := LockConfig{
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		TTL:           ttl,
	}
	if db != nil {
		cfg.RedisDB = *db
	}
	return cfg, nil
}

// AIConfig 描述大模型相关配置。每个提供方在缺少密钥时不会启用。
type AIConfig struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string
	XAIAPIKey     string
	XAIBaseURL    string
	GoogleAPIKey  string
	GoogleBaseURL string
	Ark           ArkConfig

	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	// RateLimit 为每个提供方每秒允许的请求数。
	RateLimit float64
}

// ArkConfig 描述火山方舟模型配置。
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。采样参数由调用方逐次传入。
func (c ArkConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:   c.BaseURL,
		Region:    c.Region,
		APIKey:    c.APIKey,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Model:     c.Model,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	temperature, err := parseOptionalFloat32Env("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("AI_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	rateLimit, err := parseOptionalFloatEnv("AI_RATE_LIMIT")
	if err != nil {
		return AIConfig{}, err
	}

	cfg := AIConfig{
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		XAIAPIKey:     strings.TrimSpace(os.Getenv("XAI_API_KEY")),
		XAIBaseURL:    getEnvOrDefault("XAI_BASE_URL", "https://api.x.ai/v1"),
		GoogleAPIKey:  strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		GoogleBaseURL: strings.TrimSpace(os.Getenv("GOOGLE_BASE_URL")),
		Ark: ArkConfig{
			APIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
			AccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
			Model:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
			BaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
			Region:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
		},
		MaxTokens:   150,
		Temperature: 0.7,
		Timeout:     timeout,
		RateLimit:   1,
	}
	if maxTokens != nil {
		if *maxTokens < 1 {
			return AIConfig{}, fmt.Errorf("invalid AI_MAX_TOKENS value: %d", *maxTokens)
		}
		cfg.MaxTokens = *maxTokens
	}
	if temperature != nil {
		cfg.Temperature = *temperature
	}
	if rateLimit != nil {
		cfg.RateLimit = *rateLimit
	}
	return cfg, nil
}

// DriverConfig 描述多回合运行的节奏。
type DriverConfig struct {
	TurnDelay    time.Duration
	PollInterval time.Duration
	DefaultTurns int
}

func loadDriverConfig() (DriverConfig, error) {
	delay, err := parseDurationEnv("DRIVER_TURN_DELAY", time.Second)
	if err != nil {
		return DriverConfig{}, err
	}

	poll, err := parseDurationEnv("DRIVER_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return DriverConfig{}, err
	}

	turns := 10
	if override, err := parseOptionalIntEnv("DRIVER_DEFAULT_TURNS"); err != nil {
		return DriverConfig{}, err
	} else if override != nil {
		if *override < 1 {
			turns = 1
		} else {
			turns = *override
		}
	}

	return DriverConfig{TurnDelay: delay, PollInterval: poll, DefaultTurns: turns}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
