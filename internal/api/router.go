package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/api/middleware"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

var (
	teacherOnly     = []domain.Role{domain.RoleTeacher}
	rosterViewers   = []domain.Role{domain.RoleTeacher, domain.RoleObserver}
	approvedStudent = []domain.Role{domain.RoleStudentApproved}
	anyRole         = []domain.Role{domain.RoleTeacher, domain.RoleObserver, domain.RoleStudentApproved, domain.RoleStudentPending}
)

func (s *Server) registerRoutes() {
	// Health check
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/ready", s.handleReady)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Auth (no token required)
	s.mux.HandleFunc("POST /v1/auth/teachers", s.registerTeacher)
	s.mux.HandleFunc("POST /v1/auth/students", s.registerStudent)
	s.mux.HandleFunc("POST /v1/auth/login", s.login)
	s.mux.HandleFunc("POST /v1/auth/observer", s.observerLogin)
	s.mux.Handle("GET /v1/me", s.with(s.me, anyRole...))

	// Classes and approvals
	s.mux.Handle("POST /v1/classes", s.with(s.createClass, teacherOnly...))
	s.mux.Handle("GET /v1/classes", s.with(s.listClasses, teacherOnly...))
	s.mux.Handle("DELETE /v1/classes/{id}", s.with(s.deleteClass, teacherOnly...))
	s.mux.Handle("POST /v1/classes/{id}/ta-key", s.with(s.regenerateTAKey, teacherOnly...))
	s.mux.Handle("GET /v1/students", s.with(s.listStudents, teacherOnly...))
	s.mux.Handle("PUT /v1/students/{id}/status", s.with(s.setStudentStatus, teacherOnly...))
	s.mux.Handle("GET /v1/leaderboard", s.with(s.leaderboard, domain.RoleTeacher, domain.RoleStudentApproved))

	// Catalogs
	expensive := middleware.ExpensiveRateLimit(s.newLimiter(s.opts.RateLimit.ExpensiveRequestsPerMinute))
	s.mux.Handle("POST /v1/catalogs", s.with(s.saveCatalog, teacherOnly...))
	s.mux.Handle("GET /v1/catalogs", s.with(s.listCatalogs, teacherOnly...))
	s.mux.Handle("GET /v1/catalogs/public", s.with(s.listPublicCatalogs, teacherOnly...))
	s.mux.Handle("GET /v1/catalogs/{id}", s.with(s.getCatalog, teacherOnly...))
	s.mux.Handle("DELETE /v1/catalogs/{id}", s.with(s.deleteCatalog, teacherOnly...))
	s.mux.Handle("POST /v1/catalogs/{id}/clone", s.with(s.cloneCatalog, teacherOnly...))
	s.mux.Handle("POST /v1/catalogs/generate", expensive(s.with(s.generateMissions, teacherOnly...)))

	// Student practice
	s.mux.Handle("POST /v1/portal/unlock", s.with(s.unlockCatalog, approvedStudent...))
	s.mux.Handle("GET /v1/progress/{catalog}", s.with(s.openProgress, approvedStudent...))
	s.mux.Handle("PUT /v1/progress/{catalog}/drafts/{mission}", s.with(s.saveDraft, approvedStudent...))
	s.mux.Handle("POST /v1/progress/{catalog}/missions/{mission}/evaluate", expensive(s.with(s.evaluate, approvedStudent...)))
	s.mux.Handle("POST /v1/progress/{catalog}/sync", expensive(s.with(s.sync, approvedStudent...)))

	// Dashboards
	s.mux.Handle("GET /v1/dashboard/progress", s.with(s.dashboardProgress, rosterViewers...))
	s.mux.Handle("GET /v1/dashboard/analytics", s.with(s.dashboardAnalytics, rosterViewers...))
	s.mux.Handle("GET /v1/reports/roster.csv", s.with(s.rosterCSV, rosterViewers...))
	s.mux.Handle("GET /v1/reports/roster.pdf", s.with(s.rosterPDF, rosterViewers...))
	if s.svc.Live != nil {
		s.mux.Handle("GET /v1/live", s.with(s.live, rosterViewers...))
	}
}

func (s *Server) buildMiddlewareChain(handler http.Handler) http.Handler {
	// Metrics needs the pattern the mux stores on the request, so it wraps
	// the mux directly.
	handler = middleware.Metrics(handler)

	// Apply middleware in reverse order (last applied = first executed)
	handler = middleware.Recovery(handler)
	handler = middleware.Logger(handler)
	if !s.opts.DisableRateLimit {
		handler = middleware.RateLimit(s.newLimiter(s.opts.RateLimit.RequestsPerMinute))(handler)
	}
	handler = middleware.RequestID(handler)
	handler = middleware.CORS(s.opts.AllowedOrigins)(handler)

	return handler
}

// with requires a valid token whose role is one of roles.
func (s *Server) with(h http.HandlerFunc, roles ...domain.Role) http.Handler {
	return middleware.Authenticate(s.svc.Tokens)(middleware.RequireRole(roles...)(h))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Store.Ping(r.Context()); err != nil {
		s.logger.Error("store health check failed",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not ready",
			"checks": map[string]string{"store": "unhealthy"},
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"checks": map[string]string{"store": "healthy"},
	})
}
