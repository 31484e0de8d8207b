package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/api/middleware"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/authoring"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/catalog"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/dashboard"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/practice"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/queue"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/realtime"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/roster"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClassReader loads a class. Observers use it to describe their scope.
type ClassReader interface {
	GetClass(ctx context.Context, id string) (*domain.Class, error)
}

// Store is what the router reads directly.
type Store interface {
	Pinger
	ClassReader
}

// SyncPublisher queues batch sync jobs. *queue.Producer implements it.
type SyncPublisher interface {
	PublishSyncJob(ctx context.Context, job *queue.SyncJob) error
}

// TokenIssuer signs and verifies bearer tokens. *auth.Issuer implements it.
type TokenIssuer interface {
	Issue(p domain.Principal) (string, time.Time, error)
	Parse(raw string) (domain.Principal, error)
}

// Services holds every dependency the handlers call.
type Services struct {
	Store     Store
	Tokens    TokenIssuer
	Roster    *roster.Service
	Catalogs  *catalog.Service
	Generator *authoring.Generator
	Practice  *practice.Service
	Dashboard *dashboard.Service
	// SyncJobs may be nil, in which case ?async=true is refused.
	SyncJobs SyncPublisher
	// Live may be nil, in which case /v1/live is not served.
	Live *realtime.Hub
}

// Options tunes the middleware chain.
type Options struct {
	AllowedOrigins   []string
	RateLimit        middleware.RateLimitConfig
	DisableRateLimit bool
	Logger           *slog.Logger
}

// Server is the guildd HTTP API.
type Server struct {
	mux      *http.ServeMux
	svc      Services
	opts     Options
	logger   *slog.Logger
	limiters []*middleware.RateLimiter
	handler  http.Handler
}

// NewServer wires routes and middleware.
func NewServer(svc Services, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RateLimit.RequestsPerMinute <= 0 {
		opts.RateLimit = middleware.DefaultRateLimitConfig()
	}
	s := &Server{
		mux:    http.NewServeMux(),
		svc:    svc,
		opts:   opts,
		logger: opts.Logger,
	}
	s.registerRoutes()
	s.handler = s.buildMiddlewareChain(s.mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the rate limiter cleanup loops.
func (s *Server) Close() {
	for _, l := range s.limiters {
		l.Stop()
	}
}

func (s *Server) newLimiter(perMinute int) *middleware.RateLimiter {
	burst := max(perMinute*s.opts.RateLimit.BurstMultiplier/10, 1)
	l := middleware.NewRateLimiter(perMinute, time.Minute, burst)
	s.limiters = append(s.limiters, l)
	return l
}
