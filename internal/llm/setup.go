package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// tutorTransport is shared by every provider client so a class hitting
// evaluate at once reuses warm connections.
var tutorTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 90 * time.Second,
	IdleConnTimeout:       2 * time.Minute,
	MaxIdleConns:          64,
	MaxIdleConnsPerHost:   16,
	ForceAttemptHTTP2:     true,
}

// newTutorHTTPClient bounds a whole review, streaming included.
func newTutorHTTPClient() *http.Client {
	return &http.Client{Timeout: 3 * time.Minute, Transport: tutorTransport}
}

// Settings selects and configures the tutor providers.
type Settings struct {
	Default         string // gemini, claude, openai or ollama
	Model           string // overrides the default provider's model
	GeminiAPIKey    string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaURL       string
	OllamaModel     string
}

// NewRegistryFromSettings registers every provider that has credentials,
// each wrapped in the resilience layer. Ollama needs none and is always
// registered. The requested default must be among them.
func NewRegistryFromSettings(ctx context.Context, s Settings, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewRegistry()
	resilience := DefaultResilientConfig()
	resilience.Logger = logger

	model := func(name string) string {
		if name == s.Default {
			return s.Model
		}
		return ""
	}

	if s.GeminiAPIKey != "" {
		p, err := NewGeminiProvider(ctx, GeminiConfig{APIKey: s.GeminiAPIKey, Model: model("gemini")})
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		registry.Register("gemini", NewResilientProvider(p, resilience))
	}
	if s.AnthropicAPIKey != "" {
		p := NewClaudeProvider(ClaudeConfig{APIKey: s.AnthropicAPIKey, Model: model("claude")})
		registry.Register("claude", NewResilientProvider(p, resilience))
	}
	if s.OpenAIAPIKey != "" {
		p := NewOpenAIProvider(OpenAIConfig{APIKey: s.OpenAIAPIKey, Model: model("openai")})
		registry.Register("openai", NewResilientProvider(p, resilience))
	}
	ollamaModel := s.OllamaModel
	if m := model("ollama"); m != "" {
		ollamaModel = m
	}
	registry.Register("ollama", NewResilientProvider(NewOllamaProvider(OllamaConfig{
		BaseURL: s.OllamaURL,
		Model:   ollamaModel,
	}), resilience))

	def := s.Default
	if def == "" {
		def = "gemini"
	}
	if err := registry.SetDefault(def); err != nil {
		return nil, fmt.Errorf("default provider %q has no credentials: %w", def, err)
	}
	logger.Info("tutor providers ready", "providers", registry.List(), "default", def)
	return registry, nil
}
