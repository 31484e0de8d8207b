package llm

import (
	"context"
	"sync"
)

// MockResponse is a canned response for the MockProvider. For streams,
// Chunks are delivered in order; when Chunks is empty Content is sent whole.
// StreamErr is delivered after the chunks as a mid-stream failure.
type MockResponse struct {
	Content   string
	Chunks    []string
	Err       error
	StreamErr error
}

// MockProvider is a deterministic Provider for tests and offline runs.
// It returns canned responses in FIFO order and records all requests.
type MockProvider struct {
	mu        sync.Mutex
	responses []MockResponse
	Calls     []Request
}

// NewMockProvider creates a MockProvider with the given canned responses.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{responses: responses}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) SupportsStreaming() bool { return true }

func (m *MockProvider) next(req *Request) (MockResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, *req)
	if len(m.responses) == 0 {
		return MockResponse{}, false
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, true
}

// Generate returns the next canned response or ErrProviderUnavailable if
// the queue is empty.
func (m *MockProvider) Generate(_ context.Context, req *Request) (*Response, error) {
	resp, ok := m.next(req)
	if !ok {
		return nil, &ErrProviderUnavailable{}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	content := resp.Content
	if content == "" {
		for _, c := range resp.Chunks {
			content += c
		}
	}
	return &Response{Content: content, FinishReason: "stop"}, nil
}

func (m *MockProvider) GenerateStream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	resp, ok := m.next(req)
	if !ok {
		return nil, &ErrProviderUnavailable{}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	chunks := resp.Chunks
	if len(chunks) == 0 && resp.Content != "" {
		chunks = []string{resp.Content}
	}

	ch := make(chan StreamChunk, len(chunks)+1)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if !send(ctx, ch, StreamChunk{Content: c}) {
				return
			}
		}
		if resp.StreamErr != nil {
			send(ctx, ch, StreamChunk{Error: resp.StreamErr})
			return
		}
		send(ctx, ch, StreamChunk{Done: true})
	}()
	return ch, nil
}

// AddResponse appends a canned response to the queue.
func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// CallCount returns the number of calls made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
