package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// mockProvider is a test implementation of Provider
type mockProvider struct {
	name       string
	streaming  bool
	response   *Response
	streamResp []StreamChunk
	err        error

	mu    sync.Mutex
	calls int
	errs  []error // returned in order before falling back to response
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func (m *mockProvider) GenerateStream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	if m.err != nil {
		return nil, m.err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for _, chunk := range m.streamResp {
			ch <- chunk
		}
	}()
	return ch, nil
}

func (m *mockProvider) SupportsStreaming() bool {
	return m.streaming
}

func TestRegistry_SetDefault(t *testing.T) {
	r := NewRegistry()
	r.Register("gemini", &mockProvider{name: "gemini"})

	if err := r.SetDefault("gemini"); err != nil {
		t.Fatalf("SetDefault(gemini) error = %v", err)
	}
	if r.DefaultName() != "gemini" {
		t.Errorf("DefaultName() = %q; want gemini", r.DefaultName())
	}
	if err := r.SetDefault("missing"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("SetDefault(missing) error = %v; want ErrProviderNotFound", err)
	}
	if r.DefaultName() != "gemini" {
		t.Errorf("DefaultName() after failed SetDefault = %q; want gemini", r.DefaultName())
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.Register("claude", &mockProvider{name: "claude"})

	p, err := r.Get("claude")
	if err != nil {
		t.Fatalf("Get(claude) error = %v", err)
	}
	if p.Name() != "claude" {
		t.Errorf("Name() = %q; want claude", p.Name())
	}
	if _, err := r.Get("nope"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("Get(nope) error = %v; want ErrProviderNotFound", err)
	}
}

func TestRegistry_Default(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Default(); !errors.Is(err, ErrNoDefaultProvider) {
		t.Errorf("empty Default() error = %v; want ErrNoDefaultProvider", err)
	}

	r.Register("gemini", &mockProvider{name: "gemini"})
	r.Register("ollama", &mockProvider{name: "ollama"})

	// first registered until SetDefault
	p, err := r.Default()
	if err != nil || p.Name() != "gemini" {
		t.Errorf("Default() = %v, %v; want gemini", p, err)
	}
	if r.DefaultName() != "gemini" {
		t.Errorf("DefaultName() = %q; want gemini", r.DefaultName())
	}

	_ = r.SetDefault("ollama")
	p, _ = r.Default()
	if p.Name() != "ollama" {
		t.Errorf("Default() = %q; want ollama", p.Name())
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"gemini", "claude", "openai"} {
		r.Register(name, &mockProvider{name: name})
	}
	r.Register("claude", &mockProvider{name: "claude"})

	names := r.List()
	want := []string{"gemini", "claude", "openai"}
	if len(names) != len(want) {
		t.Fatalf("List() = %v; want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List()[%d] = %q; want %q", i, names[i], want[i])
		}
	}
}

func TestRegistry_Concurrency(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("p", &mockProvider{name: "p"})
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Default()
			_ = r.List()
		}()
	}
	wg.Wait()
}

func TestResilientProvider_Generate_Success(t *testing.T) {
	p := &mockProvider{
		name:     "test",
		response: &Response{Content: "Hello from resilient!", FinishReason: "stop"},
	}

	rp := NewResilientProvider(p, ResilientConfig{Attempts: 2, Concurrency: 2, RatePerSecond: 10, TripAfter: 3})

	resp, err := rp.Generate(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "Hello from resilient!" {
		t.Errorf("Content = %q; want Hello from resilient!", resp.Content)
	}
}

func TestResilientProvider_Generate_NoRetryOnRejected(t *testing.T) {
	p := &mockProvider{
		name: "test",
		err:  &ErrRequestRejected{StatusCode: 401, Err: errors.New("bad key")},
	}
	rp := NewResilientProvider(p, ResilientConfig{Attempts: 3})

	_, err := rp.Generate(context.Background(), &Request{})
	var rejected *ErrRequestRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("Generate() error = %v; want ErrRequestRejected", err)
	}
	if p.calls != 1 {
		t.Errorf("calls = %d; want 1", p.calls)
	}
}

func TestResilientProvider_GenerateStream_Success(t *testing.T) {
	p := &mockProvider{
		name:      "test",
		streaming: true,
		streamResp: []StreamChunk{
			{Content: "Hello "},
			{Content: "World"},
			{Done: true},
		},
	}
	rp := NewResilientProvider(p, ResilientConfig{RatePerSecond: 10, TripAfter: 3})
	defer rp.Close()

	if !rp.SupportsStreaming() {
		t.Error("SupportsStreaming() = false; want true")
	}

	ch, err := rp.GenerateStream(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}

	var content string
	for chunk := range ch {
		content += chunk.Content
	}
	if content != "Hello World" {
		t.Errorf("content = %q; want Hello World", content)
	}
}

func TestResilientProvider_GenerateStream_RetriesOpen(t *testing.T) {
	p := &flakyStreamer{
		mockProvider: mockProvider{name: "test", streamResp: []StreamChunk{{Content: "ok"}, {Done: true}}},
		failures:     1,
	}
	rp := NewResilientProvider(p, ResilientConfig{Attempts: 2})

	ch, err := rp.GenerateStream(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	for range ch {
	}
	if p.opens != 2 {
		t.Errorf("opens = %d; want 2", p.opens)
	}
}

func TestResilientProvider_LocalBudget(t *testing.T) {
	rp := NewResilientProvider(&mockProvider{name: "test", response: &Response{}}, ResilientConfig{RatePerSecond: 1})
	defer rp.Close()

	var limited int
	for i := 0; i < 10; i++ {
		_, err := rp.Generate(context.Background(), &Request{})
		var rl *ErrRateLimit
		if errors.As(err, &rl) {
			limited++
		}
	}
	if limited == 0 {
		t.Error("expected calls beyond the budget to be limited")
	}
}

// flakyStreamer fails the first opens with a retryable error.
type flakyStreamer struct {
	mockProvider
	failures int
	opens    int
}

func (f *flakyStreamer) GenerateStream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	f.opens++
	if f.opens <= f.failures {
		return nil, &ErrProviderUnavailable{StatusCode: 503, Err: errors.New("overloaded")}
	}
	return f.mockProvider.GenerateStream(ctx, req)
}

func TestResilientProvider_Close_NoRateLimit(t *testing.T) {
	rp := NewResilientProvider(&mockProvider{name: "test"}, ResilientConfig{})
	if err := rp.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestMockProvider_FIFO(t *testing.T) {
	m := NewMockProvider(
		MockResponse{Content: "first"},
		MockResponse{Chunks: []string{"a", "b"}},
	)

	resp, err := m.Generate(context.Background(), &Request{System: "s"})
	if err != nil || resp.Content != "first" {
		t.Fatalf("Generate() = %v, %v; want first", resp, err)
	}

	ch, err := m.GenerateStream(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	var got string
	var done bool
	for c := range ch {
		got += c.Content
		done = done || c.Done
	}
	if got != "ab" || !done {
		t.Errorf("stream = %q done=%v; want ab done", got, done)
	}

	if _, err := m.Generate(context.Background(), &Request{}); err == nil {
		t.Error("Generate() on empty queue should fail")
	}
	if m.CallCount() != 3 {
		t.Errorf("CallCount() = %d; want 3", m.CallCount())
	}
	if m.Calls[0].System != "s" {
		t.Errorf("Calls[0].System = %q; want s", m.Calls[0].System)
	}
}
