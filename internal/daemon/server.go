package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/api"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/api/middleware"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/config"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/queue"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/realtime"
)

// Server represents the guildd HTTP server and its background workers.
type Server struct {
	cfg    *config.Config
	app    *App
	api    *api.Server
	server *http.Server
	logger *slog.Logger

	queueConn *queue.Connection
	consumer  *queue.Consumer
	results   *queue.ResultConsumer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Config *config.Config
	Logger *slog.Logger
}

// NewServer creates a new guildd server.
func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app, err := NewApp(ctx, cfg.Config, logger)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg.Config, app: app, logger: logger}

	svc := api.Services{
		Store:     app.Backend.Store,
		Tokens:    app.Tokens,
		Roster:    app.Roster,
		Catalogs:  app.Catalogs,
		Generator: app.Generator,
		Practice:  app.Practice,
		Dashboard: app.Dashboard,
		Live:      realtime.NewHub(app.Bus, originChecker(cfg.Config.AllowedOrigins), logger),
	}

	if cfg.Config.RabbitMQURL != "" {
		if err := s.setupQueue(); err != nil {
			logger.Warn("rabbitmq unavailable, background sync disabled", "error", err)
		} else {
			svc.SyncJobs = queue.NewProducer(s.queueConn)
		}
	}

	limits := middleware.DefaultRateLimitConfig()
	if cfg.Config.RequestsPerMinute > 0 {
		limits.RequestsPerMinute = cfg.Config.RequestsPerMinute
	}
	s.api = api.NewServer(svc, api.Options{
		AllowedOrigins: cfg.Config.AllowedOrigins,
		RateLimit:      limits,
		Logger:         logger,
	})

	s.server = &http.Server{
		Addr:         cfg.Config.Addr(),
		Handler:      s.api,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // batch sync streams
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// setupQueue connects to RabbitMQ. Sync workers run in this process and
// their results are forwarded to the live feed.
func (s *Server) setupQueue() error {
	conn, err := queue.NewConnection(s.cfg.RabbitMQURL, s.logger)
	if err != nil {
		return err
	}
	s.queueConn = conn
	s.consumer = queue.NewConsumer(conn, s.app.Practice.HandleSyncJob, queue.ConsumerConfig{Workers: s.cfg.SyncWorkers})
	s.results = queue.NewResultConsumer(conn)
	s.results.Forward(func(r *queue.SyncResult) {
		s.app.Bus.Publish(context.Background(), syncFinished(r))
	})
	return nil
}

func syncFinished(r *queue.SyncResult) realtime.Event {
	ev := realtime.NewEvent(realtime.EventSyncFinished, r)
	ev.TeacherID = r.TeacherID
	ev.StudentID = r.StudentID
	ev.CatalogID = r.CatalogID
	return ev
}

// Handler returns the API handler.
func (s *Server) Handler() http.Handler {
	return s.api
}

// Start runs the background workers and serves until Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.app.Bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("event relay stopped", "error", err)
		}
	}()

	if s.consumer != nil {
		if err := s.consumer.Start(ctx); err != nil {
			return fmt.Errorf("start sync consumer: %w", err)
		}
		if err := s.results.Start(ctx); err != nil {
			return fmt.Errorf("start result consumer: %w", err)
		}
	}

	s.logger.Info("starting guildd",
		"addr", s.server.Addr,
		"store", s.app.Backend.Kind,
		"llm_providers", s.app.LLM.List(),
		"queue", s.consumer != nil,
	)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, drains workers and flushes pending
// drafts before closing the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down guildd...")

	err := s.server.Shutdown(ctx)
	if s.consumer != nil {
		s.consumer.Stop()
		s.results.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.api.Close()
	if s.queueConn != nil {
		if cerr := s.queueConn.Close(); cerr != nil {
			s.logger.Warn("failed to close rabbitmq connection", "error", cerr)
		}
	}
	return errors.Join(err, s.app.Close(ctx))
}

// originChecker admits websocket upgrades from the configured CORS origins.
// No configured origins, or "*", admits everything.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(allowed, u.Scheme+"://"+u.Host)
	}
}
