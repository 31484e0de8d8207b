// Package config resolves guildd settings from ~/.guild/config.yaml, an
// optional .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devSecret = "change-me-in-production"

// Config holds all configuration for the application
type Config struct {
	// Server
	Port              int
	Bind              string
	Debug             bool
	LogLevel          string
	LogFile           string
	AllowedOrigins    []string
	RequestsPerMinute int

	// Store
	Store       string // sqlite, postgres, local
	StorePath   string
	DatabaseURL string

	// Cache and queue; empty disables them
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	RabbitMQURL   string
	SyncWorkers   int

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// LLM
	LLMProvider     string
	LLMModel        string
	GeminiAPIKey    string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaURL       string
	OllamaModel     string

	// Sandbox
	SandboxEnabled  bool
	SandboxMemoryMB int
	SandboxCPULimit float64
	SandboxTimeout  time.Duration
	SandboxImages   map[string]string

	// Progression
	MediumThreshold      int
	HardThreshold        int
	ChallengingThreshold int
	MaxFeedback          int
	Debounce             time.Duration

	CatalogDir string
}

// Load resolves the configuration. A missing config.yaml or .env is not an
// error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	local, err := LoadLocalConfig()
	if err != nil {
		return nil, err
	}
	dir, err := GuildDir()
	if err != nil {
		return nil, err
	}

	cfg := FromLocal(local, dir)
	applyEnv(cfg)

	if cfg.JWTSecret == devSecret && !cfg.Debug {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}
	return cfg, nil
}

// FromLocal maps a LocalConfig onto Config. dir is the guild home used for
// default file locations.
func FromLocal(lc *LocalConfig, dir string) *Config {
	cfg := &Config{
		Port:              lc.Server.Port,
		Bind:              lc.Server.Bind,
		LogLevel:          lc.Server.LogLevel,
		LogFile:           filepath.Join(dir, "logs", "guildd.log"),
		AllowedOrigins:    lc.Server.AllowedOrigins,
		RequestsPerMinute: lc.Server.RequestsPerMinute,

		Store:       lc.Store.Backend,
		StorePath:   lc.Store.Path,
		DatabaseURL: lc.Store.DatabaseURL,

		RedisAddr:   lc.Cache.RedisAddr,
		RedisDB:     lc.Cache.RedisDB,
		CacheTTL:    time.Duration(lc.Cache.TTLSeconds) * time.Second,
		RabbitMQURL: lc.Queue.RabbitMQURL,
		SyncWorkers: lc.Queue.Workers,

		JWTSecret: devSecret,
		TokenTTL:  time.Duration(lc.Server.TokenTTLHours) * time.Hour,

		LLMProvider: lc.LLM.DefaultProvider,

		SandboxEnabled:  lc.Sandbox.Enabled,
		SandboxMemoryMB: lc.Sandbox.MemoryMB,
		SandboxCPULimit: lc.Sandbox.CPULimit,
		SandboxTimeout:  time.Duration(lc.Sandbox.TimeoutSeconds) * time.Second,
		SandboxImages:   lc.Sandbox.Images,

		MediumThreshold:      lc.Progression.MediumThreshold,
		HardThreshold:        lc.Progression.HardThreshold,
		ChallengingThreshold: lc.Progression.ChallengingThreshold,
		MaxFeedback:          lc.Progression.MaxFeedback,
		Debounce:             time.Duration(lc.Progression.DebounceMillis) * time.Millisecond,

		CatalogDir: lc.Catalogs.SeedDir,
	}
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(dir, "data")
	}

	if p := lc.LLM.Providers["gemini"]; p != nil {
		cfg.GeminiAPIKey = p.APIKey
		if cfg.LLMProvider == "gemini" {
			cfg.LLMModel = p.Model
		}
	}
	if p := lc.LLM.Providers["claude"]; p != nil {
		cfg.AnthropicAPIKey = p.APIKey
		if cfg.LLMProvider == "claude" {
			cfg.LLMModel = p.Model
		}
	}
	if p := lc.LLM.Providers["openai"]; p != nil {
		cfg.OpenAIAPIKey = p.APIKey
		if cfg.LLMProvider == "openai" {
			cfg.LLMModel = p.Model
		}
	}
	if p := lc.LLM.Providers["ollama"]; p != nil {
		cfg.OllamaURL = p.URL
		cfg.OllamaModel = p.Model
	}
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnvInt("GUILD_PORT", cfg.Port)
	cfg.Bind = getEnv("GUILD_BIND", cfg.Bind)
	cfg.Debug = getEnvBool("GUILD_DEBUG", cfg.Debug)
	cfg.LogLevel = getEnv("GUILD_LOG_LEVEL", cfg.LogLevel)
	cfg.RequestsPerMinute = getEnvInt("GUILD_RATE_LIMIT", cfg.RequestsPerMinute)
	if origins := getEnv("GUILD_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}

	cfg.Store = getEnv("GUILD_STORE", cfg.Store)
	cfg.StorePath = getEnv("GUILD_STORE_PATH", cfg.StorePath)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.RabbitMQURL = getEnv("RABBITMQ_URL", cfg.RabbitMQURL)
	cfg.SyncWorkers = getEnvInt("GUILD_SYNC_WORKERS", cfg.SyncWorkers)

	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.TokenTTL = getEnvDuration("GUILD_TOKEN_TTL", cfg.TokenTTL)

	cfg.LLMProvider = getEnv("LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMModel = getEnv("LLM_MODEL", cfg.LLMModel)
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OllamaURL = getEnv("OLLAMA_URL", cfg.OllamaURL)

	cfg.SandboxEnabled = getEnvBool("GUILD_SANDBOX", cfg.SandboxEnabled)
	cfg.SandboxMemoryMB = getEnvInt("GUILD_SANDBOX_MEMORY_MB", cfg.SandboxMemoryMB)
	cfg.SandboxCPULimit = getEnvFloat("GUILD_SANDBOX_CPU_LIMIT", cfg.SandboxCPULimit)
	cfg.SandboxTimeout = getEnvDuration("GUILD_SANDBOX_TIMEOUT", cfg.SandboxTimeout)

	cfg.MediumThreshold = getEnvInt("GUILD_MEDIUM_THRESHOLD", cfg.MediumThreshold)
	cfg.HardThreshold = getEnvInt("GUILD_HARD_THRESHOLD", cfg.HardThreshold)
	cfg.ChallengingThreshold = getEnvInt("GUILD_CHALLENGING_THRESHOLD", cfg.ChallengingThreshold)
	cfg.MaxFeedback = getEnvInt("GUILD_MAX_FEEDBACK", cfg.MaxFeedback)
	cfg.Debounce = getEnvDuration("GUILD_AUTOSAVE_DEBOUNCE", cfg.Debounce)

	cfg.CatalogDir = getEnv("GUILD_CATALOG_DIR", cfg.CatalogDir)
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Bind + ":" + strconv.Itoa(c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
