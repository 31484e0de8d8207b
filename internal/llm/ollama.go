package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "qwen2.5-coder"
)

// OllamaProvider talks to a local Ollama server's chat endpoint. It needs no
// credentials, so classrooms without a cloud key still get reviews.
type OllamaProvider struct {
	chatURL string
	model   string
	client  *http.Client
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaProvider{
		chatURL: base + "/api/chat",
		model:   model,
		client:  newTutorHTTPClient(),
	}
}

func (p *OllamaProvider) Name() string            { return "ollama" }
func (p *OllamaProvider) SupportsStreaming() bool { return true }

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64  `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// ollamaResponse is both the whole reply and one line of a streamed reply.
type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	EvalCount       int           `json:"eval_count"`
	PromptEvalCount int           `json:"prompt_eval_count"`
}

func (p *OllamaProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	body, err := p.chat(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out ollamaResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, &ErrInvalidResponse{Err: fmt.Errorf("ollama: %w", err)}
	}
	return &Response{
		Content:      out.Message.Content,
		FinishReason: out.DoneReason,
		Usage:        Usage{InputTokens: out.PromptEvalCount, OutputTokens: out.EvalCount},
	}, nil
}

// GenerateStream reads newline-delimited JSON. A body that ends before the
// done line is reported as a truncated stream.
func (p *OllamaProvider) GenerateStream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	body, err := p.chat(ctx, req, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 64)
	go func() {
		defer close(ch)
		defer body.Close()

		lines := bufio.NewScanner(body)
		for lines.Scan() {
			var line ollamaResponse
			if len(bytes.TrimSpace(lines.Bytes())) == 0 || json.Unmarshal(lines.Bytes(), &line) != nil {
				continue
			}
			if line.Message.Content != "" && !send(ctx, ch, StreamChunk{Content: line.Message.Content}) {
				return
			}
			if line.Done {
				send(ctx, ch, StreamChunk{Done: true})
				return
			}
		}
		cause := lines.Err()
		if cause == nil {
			cause = io.ErrUnexpectedEOF
		}
		send(ctx, ch, StreamChunk{Error: &ErrProviderUnavailable{Err: fmt.Errorf("ollama stream: %w", cause)}})
	}()
	return ch, nil
}

// chat posts the request and returns the body of a 200 response.
func (p *OllamaProvider) chat(ctx context.Context, req *Request, stream bool) (io.ReadCloser, error) {
	payload, err := json.Marshal(p.buildRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.chatURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ErrProviderUnavailable{Err: fmt.Errorf("ollama: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, fmt.Errorf("ollama: %s", bytes.TrimSpace(msg)))
	}
	return resp.Body, nil
}

func (p *OllamaProvider) buildRequest(req *Request, stream bool) *ollamaRequest {
	out := &ollamaRequest{
		Model:    p.model,
		Messages: make([]ollamaMessage, 0, len(req.Messages)+1),
		Stream:   stream,
	}
	if req.Model != "" {
		out.Model = req.Model
	}
	if req.System != "" {
		out.Messages = append(out.Messages, ollamaMessage{Role: string(RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	if req.JSON {
		out.Format = "json"
	}
	if req.Temperature > 0 || req.MaxTokens > 0 || len(req.StopSeqs) > 0 {
		out.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens, Stop: req.StopSeqs}
	}
	return out
}
