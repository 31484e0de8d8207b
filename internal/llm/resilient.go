package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/metrics"
)

// ResilientConfig tunes the guard placed in front of a tutor provider. A zero
// field turns its layer off.
type ResilientConfig struct {
	// Attempts per call, including the first. Stream opens are retried too;
	// once a chunk has been delivered a failure is final.
	Attempts int
	// Concurrency caps simultaneous Generate calls (mission authoring).
	// Streams are not capped; a review holds its slot for tens of seconds.
	Concurrency int
	// RatePerSecond is the local call budget shared by every student.
	RatePerSecond int
	// TripAfter consecutive failures open the breaker for a minute.
	TripAfter int

	Logger *slog.Logger
}

func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Attempts:      3,
		Concurrency:   4,
		RatePerSecond: 5,
		TripAfter:     3,
	}
}

// ResilientProvider guards a provider with rate limiting, retries, a
// concurrency cap and a circuit breaker.
type ResilientProvider struct {
	inner  Provider
	name   string
	logger *slog.Logger

	limiter   ratelimit.RateLimiter
	breaker   circuitbreaker.CircuitBreaker[*Response]
	retries   retry.Retry[*Response]
	reopens   retry.Retry[<-chan StreamChunk]
	authoring bulkhead.Bulkhead[*Response]
}

func NewResilientProvider(inner Provider, cfg ResilientConfig) *ResilientProvider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &ResilientProvider{inner: inner, name: inner.Name(), logger: logger}

	if cfg.RatePerSecond > 0 {
		p.limiter = ratelimit.New(&ratelimit.Config{
			Rate:     cfg.RatePerSecond,
			Burst:    cfg.RatePerSecond * 2,
			Interval: time.Second,
		})
	}
	if cfg.TripAfter > 0 {
		trip := cfg.TripAfter
		p.breaker = circuitbreaker.New[*Response](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     time.Minute,
			ReadyToTrip: func(c circuitbreaker.Counts) bool {
				return int(c.ConsecutiveFailures) >= trip
			},
			OnStateChange: p.breakerChanged,
		})
	}
	if cfg.Attempts > 1 {
		p.retries = retry.New[*Response](retryConfig(cfg.Attempts))
		p.reopens = retry.New[<-chan StreamChunk](retryConfig(cfg.Attempts))
	}
	if cfg.Concurrency > 0 {
		p.authoring = bulkhead.New[*Response](bulkhead.Config{
			MaxConcurrent: cfg.Concurrency,
			MaxQueue:      cfg.Concurrency * 4,
			QueueTimeout:  20 * time.Second,
		})
	}
	return p
}

func retryConfig(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:   attempts,
		InitialDelay:  time.Second,
		MaxDelay:      15 * time.Second,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable:   IsRetryable,
	}
}

func (p *ResilientProvider) breakerChanged(from, to circuitbreaker.State) {
	p.logger.Warn("tutor circuit breaker changed", "provider", p.name, "from", from.String(), "to", to.String())
	open := 0.0
	if strings.EqualFold(to.String(), "open") {
		open = 1
	}
	metrics.TutorBreakerOpen.WithLabelValues(p.name).Set(open)
}

func (p *ResilientProvider) Name() string            { return p.name }
func (p *ResilientProvider) SupportsStreaming() bool { return p.inner.SupportsStreaming() }

func (p *ResilientProvider) admit(ctx context.Context, kind string) error {
	if p.limiter == nil || p.limiter.Allow(ctx, p.name) {
		return nil
	}
	metrics.TutorCallsTotal.WithLabelValues(p.name, kind, "limited").Inc()
	return &ErrRateLimit{RetryAfter: time.Second, Err: fmt.Errorf("local budget for %s exhausted", p.name)}
}

func (p *ResilientProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := p.admit(ctx, "generate"); err != nil {
		return nil, err
	}

	call := p.inner.Generate
	if p.authoring != nil {
		call = func(ctx context.Context, req *Request) (*Response, error) {
			return p.authoring.Execute(ctx, func(ctx context.Context) (*Response, error) {
				return p.inner.Generate(ctx, req)
			})
		}
	}
	attempt := func(ctx context.Context) (*Response, error) { return call(ctx, req) }
	if p.retries != nil {
		once := attempt
		attempt = func(ctx context.Context) (*Response, error) { return p.retries.Do(ctx, once) }
	}

	var resp *Response
	var err error
	if p.breaker != nil {
		resp, err = p.breaker.Execute(ctx, attempt)
	} else {
		resp, err = attempt(ctx)
	}
	p.record("generate", err)
	return resp, err
}

// GenerateStream retries only the opening of the stream. The breaker sees
// the open as a single call.
func (p *ResilientProvider) GenerateStream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	if err := p.admit(ctx, "stream"); err != nil {
		return nil, err
	}

	open := func(ctx context.Context) (<-chan StreamChunk, error) { return p.inner.GenerateStream(ctx, req) }
	if p.reopens != nil {
		once := open
		open = func(ctx context.Context) (<-chan StreamChunk, error) { return p.reopens.Do(ctx, once) }
	}

	var ch <-chan StreamChunk
	var err error
	if p.breaker != nil {
		_, err = p.breaker.Execute(ctx, func(ctx context.Context) (*Response, error) {
			ch, err = open(ctx)
			return nil, err
		})
	} else {
		ch, err = open(ctx)
	}
	p.record("stream", err)
	if err != nil {
		p.logger.Warn("tutor stream failed to open", "provider", p.name, "error", err)
		return nil, err
	}
	return ch, nil
}

func (p *ResilientProvider) record(kind string, err error) {
	result := "ok"
	var limited *ErrRateLimit
	switch {
	case errors.As(err, &limited):
		result = "limited"
	case err != nil:
		result = "error"
	}
	metrics.TutorCallsTotal.WithLabelValues(p.name, kind, result).Inc()
}

func (p *ResilientProvider) Close() error {
	if p.limiter != nil {
		return p.limiter.Close()
	}
	return nil
}
