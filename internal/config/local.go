package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the on-disk configuration in ~/.guild/config.yaml.
type LocalConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	LLM         LLMConfig         `yaml:"llm"`
	Progression ProgressionConfig `yaml:"progression"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Cache       CacheConfig       `yaml:"cache"`
	Queue       QueueConfig       `yaml:"queue"`
	Catalogs    CatalogsConfig    `yaml:"catalogs"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port              int      `yaml:"port"`
	Bind              string   `yaml:"bind"`
	LogLevel          string   `yaml:"log_level"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	TokenTTLHours     int      `yaml:"token_ttl_hours"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend     string `yaml:"backend"` // sqlite, postgres, local
	Path        string `yaml:"path,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty"`
}

// LLMConfig holds LLM provider settings
type LLMConfig struct {
	DefaultProvider string                     `yaml:"default_provider"`
	Providers       map[string]*ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds settings for a single LLM provider
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	URL     string `yaml:"url,omitempty"` // For Ollama
	APIKey  string `yaml:"-"`             // Loaded from secrets.yaml
}

// ProgressionConfig holds unlock thresholds and autosave timing.
type ProgressionConfig struct {
	MediumThreshold      int `yaml:"medium_threshold"`
	HardThreshold        int `yaml:"hard_threshold"`
	ChallengingThreshold int `yaml:"challenging_threshold"`
	MaxFeedback          int `yaml:"max_feedback"`
	DebounceMillis       int `yaml:"debounce_ms"`
}

// SandboxConfig holds trial run settings
type SandboxConfig struct {
	Enabled        bool              `yaml:"enabled"`
	MemoryMB       int               `yaml:"memory_mb"`
	CPULimit       float64           `yaml:"cpu_limit"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	NetworkOff     bool              `yaml:"network_off"`
	Images         map[string]string `yaml:"images,omitempty"`
}

// CacheConfig points at the optional Redis read cache.
type CacheConfig struct {
	RedisAddr  string `yaml:"redis_addr,omitempty"`
	RedisDB    int    `yaml:"redis_db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// QueueConfig points at the optional RabbitMQ broker.
type QueueConfig struct {
	RabbitMQURL string `yaml:"rabbitmq_url,omitempty"`
	Workers     int    `yaml:"workers"`
}

// CatalogsConfig names the seed directory.
type CatalogsConfig struct {
	SeedDir string `yaml:"seed_dir"`
}

// SecretsConfig holds API keys loaded from secrets.yaml
type SecretsConfig struct {
	Providers map[string]struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"providers"`
}

// GuildDir returns the path to ~/.guild
func GuildDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".guild"), nil
}

// EnsureGuildDir creates ~/.guild and its subdirectories.
func EnsureGuildDir() (string, error) {
	dir, err := GuildDir()
	if err != nil {
		return "", err
	}

	for _, subdir := range []string{"", "logs", "data", "catalogs"} {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns the defaults used when no config file exists.
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		Server: ServerConfig{
			Port:              7480,
			Bind:              "127.0.0.1",
			LogLevel:          "info",
			AllowedOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RequestsPerMinute: 120,
			TokenTTLHours:     24,
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		LLM: LLMConfig{
			DefaultProvider: "gemini",
			Providers: map[string]*ProviderConfig{
				"gemini": {
					Enabled: true,
					Model:   "gemini-3-flash-preview",
				},
				"claude": {
					Enabled: false,
					Model:   "claude-sonnet-4-20250514",
				},
				"openai": {
					Enabled: false,
					Model:   "gpt-4o",
				},
				"ollama": {
					Enabled: false,
					URL:     "http://localhost:11434",
					Model:   "qwen2.5-coder",
				},
			},
		},
		Progression: ProgressionConfig{
			MediumThreshold:      3,
			HardThreshold:        3,
			ChallengingThreshold: 2,
			MaxFeedback:          15,
			DebounceMillis:       2000,
		},
		Sandbox: SandboxConfig{
			Enabled:        false,
			MemoryMB:       256,
			CPULimit:       0.5,
			TimeoutSeconds: 10,
			NetworkOff:     true,
		},
		Cache: CacheConfig{
			TTLSeconds: 900,
		},
		Queue: QueueConfig{
			Workers: 3,
		},
		Catalogs: CatalogsConfig{
			SeedDir: "catalogs",
		},
	}
}

// LoadLocalConfig loads ~/.guild/config.yaml over the defaults, then the
// provider keys from secrets.yaml.
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := GuildDir()
	if err != nil {
		return nil, err
	}
	return loadLocalConfig(dir)
}

func loadLocalConfig(dir string) (*LocalConfig, error) {
	cfg := DefaultLocalConfig()

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadSecrets(dir, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	return cfg, nil
}

// loadSecrets loads API keys from secrets.yaml
func loadSecrets(dir string, cfg *LocalConfig) error {
	data, err := os.ReadFile(filepath.Join(dir, "secrets.yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}

	for name, secret := range secrets.Providers {
		if provider, ok := cfg.LLM.Providers[name]; ok {
			provider.APIKey = secret.APIKey
		}
	}
	return nil
}

// SaveLocalConfig writes cfg to ~/.guild/config.yaml.
func SaveLocalConfig(cfg *LocalConfig) error {
	dir, err := EnsureGuildDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// SaveSecrets writes provider API keys to ~/.guild/secrets.yaml.
func SaveSecrets(secrets map[string]string) error {
	dir, err := EnsureGuildDir()
	if err != nil {
		return err
	}

	secretsCfg := SecretsConfig{
		Providers: make(map[string]struct {
			APIKey string `yaml:"api_key"`
		}),
	}
	for name, key := range secrets {
		secretsCfg.Providers[name] = struct {
			APIKey string `yaml:"api_key"`
		}{APIKey: key}
	}

	data, err := yaml.Marshal(secretsCfg)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	// owner read/write only
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}
	return nil
}

// Credentials is the CLI session saved by `guild login`.
type Credentials struct {
	Server    string `yaml:"server"`
	Token     string `yaml:"token"`
	Role      string `yaml:"role"`
	UserID    string `yaml:"user_id"`
	ExpiresAt string `yaml:"expires_at"`
}

// SaveCredentials writes c to ~/.guild/credentials.yaml.
func SaveCredentials(c *Credentials) error {
	dir, err := EnsureGuildDir()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "credentials.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// LoadCredentials reads the saved CLI session. It returns os.ErrNotExist
// when nobody has logged in.
func LoadCredentials() (*Credentials, error) {
	dir, err := GuildDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "credentials.yaml"))
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &c, nil
}
