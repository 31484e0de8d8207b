package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
)

// Backend is the container surface a Runner needs.
type Backend interface {
	Prepare(ctx context.Context, tc Toolchain, code string, cfg Config) (string, error)
	Run(ctx context.Context, id string, timeout time.Duration) (*Result, error)
	Remove(ctx context.Context, id string) error
}

var _ Backend = (*DockerBackend)(nil)

// Runner executes one-shot trial runs with a bound on concurrent containers.
type Runner struct {
	backend Backend
	cfg     Config
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

// NewRunner creates a trial runner over backend.
func NewRunner(backend Backend, cfg Config, logger *slog.Logger) *Runner {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = def.MaxOutput
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = def.MemoryMB
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		backend: backend,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:  logger,
	}
}

// Run executes code once and returns its output. The container is always
// removed, even when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, language, code string) (*Result, error) {
	tc, err := ToolchainFor(language, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, language)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	id, err := r.backend.Prepare(ctx, tc, code, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("prepare trial: %w", err)
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := r.backend.Remove(cleanup, id); err != nil {
			r.logger.Warn("trial container cleanup failed", "container", id, "error", err)
		}
	}()

	res, err := r.backend.Run(ctx, id, r.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("run trial: %w", err)
	}

	res.Stdout = truncate(res.Stdout, r.cfg.MaxOutput)
	res.Stderr = truncate(res.Stderr, r.cfg.MaxOutput)

	r.logger.Debug("trial run finished",
		"language", language,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"duration", res.Duration)

	return res, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}
