package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrProviderNotFound  = errors.New("provider not found")
	ErrNoDefaultProvider = errors.New("no default provider configured")
)

// Provider is a model backend that can review code and author missions.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Response, error)
	// GenerateStream emits chunks until one with Done or Error set, then
	// closes the channel.
	GenerateStream(ctx context.Context, req *Request) (<-chan StreamChunk, error)
	SupportsStreaming() bool
}

// Request is a provider-neutral completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	StopSeqs    []string

	// JSON asks the provider for a bare JSON document when it supports it.
	JSON bool
}

type Message struct {
	Role    Role
	Content string
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StreamChunk is one piece of a streamed response.
type StreamChunk struct {
	Content string
	Done    bool
	Error   error
}

type entry struct {
	name     string
	provider Provider
}

// Registry holds the configured providers in registration order. The first
// one is the default until SetDefault names another.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	primary string
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds p under name, replacing any provider already there.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.index(name); i >= 0 {
		r.entries[i].provider = p
		return
	}
	r.entries = append(r.entries, entry{name: name, provider: p})
}

func (r *Registry) index(name string) int {
	return slices.IndexFunc(r.entries, func(e entry) bool { return e.name == name })
}

// SetDefault makes a registered provider the default.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index(name) < 0 {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	r.primary = name
	return nil
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.index(name); i >= 0 {
		return r.entries[i].provider, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
}

func (r *Registry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.entries) == 0 {
		return nil, ErrNoDefaultProvider
	}
	if i := r.index(r.primary); i >= 0 {
		return r.entries[i].provider, nil
	}
	return r.entries[0].provider, nil
}

// DefaultName is the name Default resolves to, or "" when nothing is
// registered.
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.index(r.primary) >= 0 {
		return r.primary
	}
	if len(r.entries) > 0 {
		return r.entries[0].name
	}
	return ""
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Close releases providers that hold resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, e := range r.entries {
		c, ok := e.provider.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}
