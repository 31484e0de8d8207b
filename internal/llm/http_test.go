package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func collect(t *testing.T, ch <-chan StreamChunk) (string, error) {
	t.Helper()
	var b strings.Builder
	for c := range ch {
		if c.Error != nil {
			return b.String(), c.Error
		}
		b.WriteString(c.Content)
	}
	return b.String(), nil
}

func TestOllamaProvider_Generate_HTTPSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s; want /api/chat", r.URL.Path)
		}
		var req ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Messages[0].Role != "system" {
			t.Errorf("first role = %s; want system", req.Messages[0].Role)
		}
		if req.Format != "json" {
			t.Errorf("format = %q; want json", req.Format)
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Message:         ollamaMessage{Role: "assistant", Content: "[]"},
			Done:            true,
			PromptEvalCount: 7,
			EvalCount:       2,
		})
	}))
	defer server.Close()

	p := NewOllamaProvider(OllamaConfig{BaseURL: server.URL})
	resp, err := p.Generate(context.Background(), &Request{
		System:   "be terse",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "[]" || resp.Usage.InputTokens != 7 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOllamaProvider_Generate_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewOllamaProvider(OllamaConfig{BaseURL: server.URL})
	_, err := p.Generate(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	var un *ErrProviderUnavailable
	if !errors.As(err, &un) || un.StatusCode != 503 {
		t.Errorf("Generate() error = %v; want ErrProviderUnavailable(503)", err)
	}
}

func TestOllamaProvider_GenerateStream_HTTPSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, part := range []string{"Logic ", "verified."} {
			_ = json.NewEncoder(w).Encode(ollamaResponse{Message: ollamaMessage{Content: part}})
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Done: true})
	}))
	defer server.Close()

	p := NewOllamaProvider(OllamaConfig{BaseURL: server.URL})
	ch, err := p.GenerateStream(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	got, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if got != "Logic verified." {
		t.Errorf("content = %q; want Logic verified.", got)
	}
}

func TestOllamaProvider_GenerateStream_Truncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Message: ollamaMessage{Content: "partial"}})
	}))
	defer server.Close()

	p := NewOllamaProvider(OllamaConfig{BaseURL: server.URL})
	ch, _ := p.GenerateStream(context.Background(), &Request{})
	if _, err := collect(t, ch); err == nil {
		t.Error("stream without done marker should end with an error")
	}
}

func TestOpenAIProvider_Generate_HTTPSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		msgs := body["messages"].([]any)
		if first := msgs[0].(map[string]any); first["role"] != "system" {
			t.Errorf("first message role = %v; want system", first["role"])
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	resp, err := p.Generate(context.Background(), &Request{
		System:   "tutor",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "hello" || resp.Usage.InputTokens != 5 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOpenAIProvider_Generate_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	_, err := p.Generate(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	var rl *ErrRateLimit
	if !errors.As(err, &rl) {
		t.Errorf("Generate() error = %v; want ErrRateLimit", err)
	}
}

func TestOpenAIProvider_GenerateStream_HTTPSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Logic ", "verified."} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	ch, err := p.GenerateStream(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	got, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if got != "Logic verified." {
		t.Errorf("content = %q; want Logic verified.", got)
	}
}

func TestClaudeProvider_Generate_HTTPSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "key" {
			t.Errorf("x-api-key = %q; want key", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["system"]; !ok {
			t.Error("system prompt not sent out of band")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"verified"}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":1}}`)
	}))
	defer server.Close()

	p := NewClaudeProvider(ClaudeConfig{APIKey: "key", BaseURL: server.URL})
	resp, err := p.Generate(context.Background(), &Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "tutor"},
			{Role: RoleUser, Content: "check this"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "verified" || resp.Usage.InputTokens != 4 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestClaudeProvider_GenerateStream_HTTPSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"usage":{"input_tokens":1,"output_tokens":0}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Logic "}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"verified."}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_stop"}`,
		}
		for _, ev := range events {
			var head struct{ Type string }
			_ = json.Unmarshal([]byte(ev), &head)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, ev)
		}
	}))
	defer server.Close()

	p := NewClaudeProvider(ClaudeConfig{APIKey: "key", BaseURL: server.URL})
	ch, err := p.GenerateStream(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	got, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if got != "Logic verified." {
		t.Errorf("content = %q; want Logic verified.", got)
	}
}

func TestClaudeProvider_Generate_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	}))
	defer server.Close()

	p := NewClaudeProvider(ClaudeConfig{APIKey: "key", BaseURL: server.URL})
	_, err := p.Generate(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if !IsRetryable(err) {
		t.Errorf("Generate() error = %v; want retryable", err)
	}
}

func TestGeminiContents_MapsRoles(t *testing.T) {
	contents := geminiContents([]Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a"},
	})
	if len(contents) != 2 {
		t.Fatalf("len(contents) = %d; want 2 (system is out of band)", len(contents))
	}
	if contents[1].Role != "model" {
		t.Errorf("assistant role = %q; want model", contents[1].Role)
	}

	cfg := geminiConfig(&Request{Messages: []Message{{Role: RoleSystem, Content: "sys"}}, JSON: true})
	if cfg.SystemInstruction == nil || cfg.ResponseMIMEType != "application/json" {
		t.Errorf("config = %+v", cfg)
	}
}

func TestNewGeminiProvider_RequiresKey(t *testing.T) {
	if _, err := NewGeminiProvider(context.Background(), GeminiConfig{}); err == nil {
		t.Error("NewGeminiProvider without key should fail")
	}
}
