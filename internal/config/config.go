package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ai-analysis-pipeline/internal/domain/model"
)

// DevJWTSecret signs tokens in dev mode when no secret is configured.
const DevJWTSecret = "dev-only-insecure-secret"

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // non-pipeline routes
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL        string        `yaml:"url"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	RateLimit  int           `yaml:"rate_limit"`  // submissions per window per account
	RateWindow time.Duration `yaml:"rate_window"` // 0 disables rate limiting
}

type AIConfig struct {
	OpenAIKey       string `yaml:"openai_key"`
	AnthropicKey    string `yaml:"anthropic_key"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiBaseURL   string `yaml:"gemini_base_url"`
	MetisKey        string `yaml:"metis_key"`
	MetisBaseURL    string `yaml:"metis_base_url"`
	VisionModel     string `yaml:"vision_model"`
	PlanModel       string `yaml:"plan_model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent AI calls
	// PlanPromptTokens caps the plan prompt below the model's own window.
	PlanPromptTokens int `yaml:"plan_prompt_tokens"`
}

type StorageConfig struct {
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	Endpoint      string        `yaml:"endpoint"` // S3-compatible stores
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
}

type PipelineConfig struct {
	VisionTimeout   time.Duration `yaml:"vision_timeout"`
	PlanTimeout     time.Duration `yaml:"plan_timeout"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	ReapInterval    time.Duration `yaml:"reap_interval"`
	NotifyWorkers   int           `yaml:"notify_workers"`
	NotifyQueueSize int           `yaml:"notify_queue_size"`
	Language        string        `yaml:"language"`
}

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Auth     AuthConfig      `yaml:"auth"`
	Log      LogConfig       `yaml:"log"`
	Database DatabaseConfig  `yaml:"database"`
	Redis    RedisConfig     `yaml:"redis"`
	AI       AIConfig        `yaml:"ai"`
	Storage  StorageConfig   `yaml:"storage"`
	Telegram TelegramConfig  `yaml:"telegram"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
	Tiers    model.TierTable `yaml:"tiers"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig parses -config and -dev, loads .env if present and reads the
// YAML file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	_ = godotenv.Load()
	return Load(configPath, dev)
}

// Load reads the YAML file at path, applies env overrides and defaults and
// validates the result. In dev mode a missing file yields defaults.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && dev:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev
	if dev && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = DevJWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets deployments keep secrets out of the YAML file.
func applyEnv(cfg *Config) {
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.AI.OpenAIKey = getEnv("OPENAI_API_KEY", cfg.AI.OpenAIKey)
	cfg.AI.AnthropicKey = getEnv("ANTHROPIC_API_KEY", cfg.AI.AnthropicKey)
	cfg.AI.GeminiKey = getEnv("GEMINI_API_KEY", cfg.AI.GeminiKey)
	cfg.AI.MetisKey = getEnv("METIS_API_KEY", cfg.AI.MetisKey)
	cfg.Telegram.Token = getEnv("TELEGRAM_BOT_TOKEN", cfg.Telegram.Token)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Storage.Bucket = getEnv("S3_BUCKET", cfg.Storage.Bucket)
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	cfg.Server.ReadTimeout = orDefault(cfg.Server.ReadTimeout, 15*time.Second)
	cfg.Server.WriteTimeout = orDefault(cfg.Server.WriteTimeout, 10*time.Minute)
	cfg.Server.RequestTimeout = orDefault(cfg.Server.RequestTimeout, 15*time.Second)
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "ai-analysis-pipeline"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 4096
	}
	if cfg.AI.PlanPromptTokens <= 0 {
		cfg.AI.PlanPromptTokens = 8000
	}
	if cfg.AI.VisionModel == "" {
		cfg.AI.VisionModel = "gemini-2.5-flash"
	}
	if cfg.AI.PlanModel == "" {
		cfg.AI.PlanModel = "gpt-4o-mini"
	}
	if cfg.AI.MetisBaseURL == "" {
		cfg.AI.MetisBaseURL = "https://api.metisai.ir/openai/v1"
	}
	if cfg.Redis.RateLimit <= 0 {
		cfg.Redis.RateLimit = 20
	}
	cfg.Storage.PresignExpiry = orDefault(cfg.Storage.PresignExpiry, time.Hour)
	cfg.Pipeline.VisionTimeout = orDefault(cfg.Pipeline.VisionTimeout, 5*time.Minute)
	cfg.Pipeline.PlanTimeout = orDefault(cfg.Pipeline.PlanTimeout, 2*time.Minute)
	// the lock must outlive both stages
	cfg.Pipeline.LockTTL = orDefault(cfg.Pipeline.LockTTL, cfg.Pipeline.VisionTimeout+cfg.Pipeline.PlanTimeout+time.Minute)
	cfg.Pipeline.StaleAfter = orDefault(cfg.Pipeline.StaleAfter, 2*cfg.Pipeline.LockTTL)
	cfg.Pipeline.ReapInterval = orDefault(cfg.Pipeline.ReapInterval, 5*time.Minute)
	if cfg.Pipeline.NotifyWorkers <= 0 {
		cfg.Pipeline.NotifyWorkers = 4
	}
	if cfg.Pipeline.NotifyQueueSize <= 0 {
		cfg.Pipeline.NotifyQueueSize = 256
	}
	if cfg.Pipeline.Language == "" {
		cfg.Pipeline.Language = "en"
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = model.DefaultTierTable()
	}
}

// Validate performs minimal checks. Dev mode runs without external services.
func (c *Config) Validate() error {
	for tier, caps := range c.Tiers {
		if !tier.Valid() {
			return fmt.Errorf("tiers: unknown tier %q", tier)
		}
		for capability, ent := range caps {
			if capability != model.CapabilityVideoAnalysis && capability != model.CapabilityTrainingPlan {
				return fmt.Errorf("tiers.%s: unknown capability %q", tier, capability)
			}
			if ent.MonthlyLimit < model.UnlimitedQuota {
				return fmt.Errorf("tiers.%s.%s: monthly_limit must be >= -1", tier, capability)
			}
		}
	}
	if c.Runtime.Dev {
		return nil
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
