package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestGuildDir(t *testing.T) {
	dir, err := GuildDir()
	if err != nil {
		t.Fatalf("GuildDir() error = %v", err)
	}
	if filepath.Base(dir) != ".guild" {
		t.Errorf("GuildDir() = %q, want ending with .guild", dir)
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("GuildDir() = %q, want absolute path", dir)
	}
}

func TestEnsureGuildDir(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	dir, err := EnsureGuildDir()
	if err != nil {
		t.Fatalf("EnsureGuildDir() error = %v", err)
	}
	if want := filepath.Join(tmpHome, ".guild"); dir != want {
		t.Errorf("EnsureGuildDir() = %q, want %q", dir, want)
	}
	for _, subdir := range []string{"logs", "data", "catalogs"} {
		info, err := os.Stat(filepath.Join(dir, subdir))
		if err != nil {
			t.Errorf("subdir %s: %v", subdir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", subdir)
		}
	}
}

func TestDefaultLocalConfig(t *testing.T) {
	cfg := DefaultLocalConfig()

	if cfg.Server.Port != 7480 {
		t.Errorf("Server.Port = %d, want 7480", cfg.Server.Port)
	}
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("Server.Bind = %q, want 127.0.0.1", cfg.Server.Bind)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.LLM.DefaultProvider != "gemini" {
		t.Errorf("LLM.DefaultProvider = %q, want gemini", cfg.LLM.DefaultProvider)
	}
	if cfg.Sandbox.Enabled {
		t.Error("Sandbox should be disabled by default")
	}
	if !cfg.Sandbox.NetworkOff {
		t.Error("Sandbox.NetworkOff should default to true")
	}

	p := cfg.Progression
	if p.MediumThreshold != 3 || p.HardThreshold != 3 || p.ChallengingThreshold != 2 {
		t.Errorf("thresholds = %d/%d/%d, want 3/3/2", p.MediumThreshold, p.HardThreshold, p.ChallengingThreshold)
	}
	if p.DebounceMillis != 2000 {
		t.Errorf("DebounceMillis = %d, want 2000", p.DebounceMillis)
	}
}

func TestDefaultLocalConfig_ProviderDetails(t *testing.T) {
	cfg := DefaultLocalConfig()

	tests := []struct {
		name    string
		enabled bool
		model   string
	}{
		{"gemini", true, "gemini-3-flash-preview"},
		{"claude", false, "claude-sonnet-4-20250514"},
		{"openai", false, "gpt-4o"},
		{"ollama", false, "qwen2.5-coder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := cfg.LLM.Providers[tt.name]
			if !ok {
				t.Fatalf("provider %q missing", tt.name)
			}
			if p.Enabled != tt.enabled {
				t.Errorf("Enabled = %v, want %v", p.Enabled, tt.enabled)
			}
			if p.Model != tt.model {
				t.Errorf("Model = %q, want %q", p.Model, tt.model)
			}
		})
	}
}

func TestLoadSecrets(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultLocalConfig()

	secretsContent := `providers:
  gemini:
    api_key: gm-test-key
  openai:
    api_key: sk-openai-test-key
  unknown_provider:
    api_key: ignored
`
	if err := os.WriteFile(filepath.Join(tmpDir, "secrets.yaml"), []byte(secretsContent), 0600); err != nil {
		t.Fatalf("Failed to write secrets file: %v", err)
	}

	if err := loadSecrets(tmpDir, cfg); err != nil {
		t.Fatalf("loadSecrets() error = %v", err)
	}
	if got := cfg.LLM.Providers["gemini"].APIKey; got != "gm-test-key" {
		t.Errorf("gemini APIKey = %q, want gm-test-key", got)
	}
	if got := cfg.LLM.Providers["openai"].APIKey; got != "sk-openai-test-key" {
		t.Errorf("openai APIKey = %q, want sk-openai-test-key", got)
	}
	if got := cfg.LLM.Providers["ollama"].APIKey; got != "" {
		t.Errorf("ollama APIKey = %q, want empty", got)
	}
}

func TestLoadSecrets_NoSecretsFile(t *testing.T) {
	if err := loadSecrets(t.TempDir(), DefaultLocalConfig()); err != nil {
		t.Errorf("loadSecrets() should not error when secrets file is missing: %v", err)
	}
}

func TestLoadSecrets_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "secrets.yaml"), []byte("invalid: yaml: content:"), 0600); err != nil {
		t.Fatalf("Failed to write secrets file: %v", err)
	}
	if err := loadSecrets(tmpDir, DefaultLocalConfig()); err == nil {
		t.Error("loadSecrets() should error on invalid YAML")
	}
}

func TestLoadLocalConfig_DefaultsWhenNoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if cfg.Server.Port != DefaultLocalConfig().Server.Port {
		t.Errorf("Server.Port = %d, want default", cfg.Server.Port)
	}
}

func TestLoadLocalConfig_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `server:
  port: 9999
  log_level: debug
progression:
  medium_threshold: 0
sandbox:
  enabled: true
  images:
    python: python:3.12-alpine
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := loadLocalConfig(tmpDir)
	if err != nil {
		t.Fatalf("loadLocalConfig() error = %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Server.LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("Server.Bind = %q, want default kept", cfg.Server.Bind)
	}
	if cfg.Progression.MediumThreshold != 0 {
		t.Errorf("MediumThreshold = %d, want explicit 0", cfg.Progression.MediumThreshold)
	}
	if cfg.Progression.HardThreshold != 3 {
		t.Errorf("HardThreshold = %d, want default 3", cfg.Progression.HardThreshold)
	}
	if !cfg.Sandbox.Enabled || cfg.Sandbox.Images["python"] != "python:3.12-alpine" {
		t.Errorf("Sandbox = %+v, want enabled with python image", cfg.Sandbox)
	}
}

func TestLoadLocalConfig_InvalidConfigYAML(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("server: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadLocalConfig(tmpDir); err == nil {
		t.Error("loadLocalConfig() should error on invalid YAML")
	}
}

func TestSaveLocalConfig(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	cfg := DefaultLocalConfig()
	cfg.Server.Port = 8888
	cfg.Store.Backend = "postgres"

	if err := SaveLocalConfig(cfg); err != nil {
		t.Fatalf("SaveLocalConfig() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpHome, ".guild", "config.yaml"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var loaded LocalConfig
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if loaded.Server.Port != 8888 || loaded.Store.Backend != "postgres" {
		t.Errorf("loaded = %+v %+v, want port 8888 postgres", loaded.Server, loaded.Store)
	}
}

func TestSaveSecrets_Permissions(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	if err := SaveSecrets(map[string]string{"gemini": "gm-key"}); err != nil {
		t.Fatalf("SaveSecrets() error = %v", err)
	}

	path := filepath.Join(tmpHome, ".guild", "secrets.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat secrets: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("secrets perm = %o, want 600", perm)
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if got := cfg.LLM.Providers["gemini"].APIKey; got != "gm-key" {
		t.Errorf("gemini APIKey = %q, want gm-key", got)
	}
}

func TestCredentials_RoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if _, err := LoadCredentials(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadCredentials() error = %v, want ErrNotExist", err)
	}

	want := &Credentials{Server: "http://localhost:7480", Token: "tok", Role: "teacher", UserID: "t1"}
	if err := SaveCredentials(want); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}
	got, err := LoadCredentials()
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if *got != *want {
		t.Errorf("LoadCredentials() = %+v, want %+v", got, want)
	}
}
