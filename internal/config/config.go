package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/ilyakaznacheev/cleanenv"
)

// Completion providers.
const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Store  StoreConfig  `yaml:"store"`
	AI     AIConfig     `yaml:"ai"`
	Title  TitleConfig  `yaml:"title"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port            string        `yaml:"port" env:"PORT" env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"120s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"15s"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer        string        `yaml:"issuer" env:"JWT_ISSUER" env-default:"ai-workbench"`
	TokenTTL      time.Duration `yaml:"token_ttl" env:"JWT_TOKEN_TTL" env-default:"24h"`
	AutoProvision bool          `yaml:"auto_provision" env:"AUTH_AUTO_PROVISION" env-default:"false"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver        string `yaml:"driver" env:"STORE_DRIVER" env-default:"badger"`
	BadgerPath    string `yaml:"badger_path" env:"BADGER_PATH" env-default:"data/badger"`
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
	RedisPrefix   string `yaml:"redis_prefix" env:"REDIS_PREFIX" env-default:"workbench:"`
	PostgresDSN   string `yaml:"postgres_dsn" env:"DATABASE_URL"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider          string        `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`
	Model             string        `yaml:"model" env:"AI_MODEL" env-default:"llama-3.3-70b-versatile"`
	APIKey            string        `yaml:"api_key" env:"AI_API_KEY"`
	BaseURL           string        `yaml:"base_url" env:"AI_BASE_URL"`
	AccessKey         string        `yaml:"access_key" env:"ARK_ACCESS_KEY"`
	SecretKey         string        `yaml:"secret_key" env:"ARK_SECRET_KEY"`
	Region            string        `yaml:"region" env:"ARK_REGION"`
	Temperature       float64       `yaml:"temperature" env:"AI_TEMPERATURE" env-default:"0.7"`
	MaxTokens         int           `yaml:"max_tokens" env:"AI_MAX_TOKENS" env-default:"0"`
	HistoryTokenLimit int           `yaml:"history_token_limit" env:"AI_HISTORY_TOKEN_LIMIT" env-default:"6000"`
	TokenizerTimeout  time.Duration `yaml:"tokenizer_timeout" env:"AI_TOKENIZER_TIMEOUT" env-default:"10s"`
	ReplyTimeout      time.Duration `yaml:"reply_timeout" env:"AI_REPLY_TIMEOUT" env-default:"60s"`
	ReplyRetries      int           `yaml:"reply_retries" env:"AI_REPLY_RETRIES" env-default:"0"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" env:"AI_RETRY_BACKOFF" env-default:"500ms"`
}

// TitleConfig controls model-generated session titles.
type TitleConfig struct {
	Disabled bool          `yaml:"disabled" env:"TITLE_DISABLED"`
	Timeout  time.Duration `yaml:"timeout" env:"TITLE_TIMEOUT" env-default:"20s"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// Load reads path when it exists, then the environment. Environment values win.
func Load(path string) (*Config, error) {
	var cfg Config

	_, statErr := os.Stat(path)
	switch {
	case path != "" && statErr == nil:
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	case path == "" || errors.Is(statErr, os.ErrNotExist):
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("read config from env: %w", err)
		}
	default:
		return nil, fmt.Errorf("stat config %s: %w", path, statErr)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}

	switch c.Store.Driver {
	case DriverMemory, DriverBadger, DriverRedis:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.AI.Provider {
	case ProviderArk, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AI.Provider)
	}
	if c.AI.ReplyRetries < 0 {
		return errors.New("AI_REPLY_RETRIES must not be negative")
	}
	return nil
}

// Addr is the listen address. PORT may be a bare port or a full host:port.
func (c ServerConfig) Addr() string {
	port := strings.TrimSpace(c.Port)
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// ArkEnabled 表示是否提供了 Ark 必需的密钥。
func (c AIConfig) ArkEnabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 AI_API_KEY + AI_MODEL 或 AK/SK 组合")
	}

	temperature := float32(c.Temperature)

	var maxTokens *int
	if c.MaxTokens > 0 {
		val := c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}
