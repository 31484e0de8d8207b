package llm

import (
	"context"
	"errors"
	"testing"
)

func TestNewRegistryFromSettings(t *testing.T) {
	tests := []struct {
		name      string
		settings  Settings
		wantErr   bool
		wantNames []string
	}{
		{
			name:      "ollama only",
			settings:  Settings{Default: "ollama", OllamaModel: "qwen2.5-coder"},
			wantNames: []string{"ollama"},
		},
		{
			name:      "claude and openai",
			settings:  Settings{Default: "claude", AnthropicAPIKey: "sk-ant", OpenAIAPIKey: "sk-oai"},
			wantNames: []string{"claude", "openai", "ollama"},
		},
		{
			name:     "default without credentials",
			settings: Settings{Default: "openai"},
			wantErr:  true,
		},
		{
			name:     "gemini is the implicit default",
			settings: Settings{},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewRegistryFromSettings(context.Background(), tt.settings, nil)
			if tt.wantErr {
				if !errors.Is(err, ErrProviderNotFound) {
					t.Errorf("error = %v; want ErrProviderNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRegistryFromSettings() error = %v", err)
			}
			got := reg.List()
			if len(got) != len(tt.wantNames) {
				t.Fatalf("List() = %v; want %v", got, tt.wantNames)
			}
			for i := range got {
				if got[i] != tt.wantNames[i] {
					t.Errorf("List()[%d] = %q; want %q", i, got[i], tt.wantNames[i])
				}
			}
			if reg.DefaultName() != tt.settings.Default {
				t.Errorf("DefaultName() = %q; want %q", reg.DefaultName(), tt.settings.Default)
			}
		})
	}
}
