// Package dashboard assembles the teacher and observer read models.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ecodeclub/ekit/slice"
	"golang.org/x/sync/errgroup"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/progress"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/report"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage"
)

// Store is the read side the dashboard needs.
type Store interface {
	ListStudents(ctx context.Context, filter storage.StudentFilter) ([]*domain.Student, error)
	ListClasses(ctx context.Context, teacherID string) ([]*domain.Class, error)
	ListCatalogsByTeacher(ctx context.Context, teacherID string) ([]*domain.Catalog, error)
	ListProgress(ctx context.Context, filter storage.ProgressFilter) ([]*domain.Progress, error)
}

// Scope limits what a viewer sees. Observers are pinned to one class.
type Scope struct {
	TeacherID string
	ClassID   string
	Audience  report.Audience
}

// ScopeFor derives the scope of a principal.
func ScopeFor(p domain.Principal) (Scope, error) {
	switch p.Role {
	case domain.RoleTeacher:
		return Scope{TeacherID: p.TeacherID, Audience: report.AudienceTeacher}, nil
	case domain.RoleObserver:
		if p.ClassID == "" {
			return Scope{}, fmt.Errorf("%w: observer without class", domain.ErrForbidden)
		}
		return Scope{TeacherID: p.TeacherID, ClassID: p.ClassID, Audience: report.AudienceObserver}, nil
	}
	return Scope{}, fmt.Errorf("%w: %s cannot view dashboards", domain.ErrForbidden, p.Role)
}

// Service builds dashboards.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Snapshot loads everything visible in scope. The four reads run in parallel.
func (s *Service) Snapshot(ctx context.Context, scope Scope) (*report.Snapshot, error) {
	snap := &report.Snapshot{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		students, err := s.store.ListStudents(gctx, storage.StudentFilter{TeacherID: scope.TeacherID, ClassID: scope.ClassID})
		if err != nil {
			return fmt.Errorf("list students: %w", err)
		}
		snap.Students = students
		return nil
	})
	g.Go(func() error {
		classes, err := s.store.ListClasses(gctx, scope.TeacherID)
		if err != nil {
			return fmt.Errorf("list classes: %w", err)
		}
		if scope.ClassID != "" {
			classes = slice.FilterMap(classes, func(_ int, c *domain.Class) (*domain.Class, bool) {
				return c, c.ID == scope.ClassID
			})
		}
		snap.Classes = classes
		return nil
	})
	g.Go(func() error {
		catalogs, err := s.store.ListCatalogsByTeacher(gctx, scope.TeacherID)
		if err != nil {
			return fmt.Errorf("list catalogs: %w", err)
		}
		snap.Catalogs = catalogs
		return nil
	})
	g.Go(func() error {
		records, err := s.store.ListProgress(gctx, storage.ProgressFilter{TeacherID: scope.TeacherID, ClassID: scope.ClassID})
		if err != nil {
			return fmt.Errorf("list progress: %w", err)
		}
		snap.Progress = records
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.logger.Debug("dashboard snapshot loaded",
		"teacher_id", scope.TeacherID,
		"class_id", scope.ClassID,
		"students", len(snap.Students),
		"records", len(snap.Progress))
	return snap, nil
}

// Progress lists record summaries in scope, newest activity first.
func (s *Service) Progress(ctx context.Context, scope Scope, catalogID string) ([]progress.Summary, error) {
	records, err := s.store.ListProgress(ctx, storage.ProgressFilter{
		TeacherID: scope.TeacherID,
		ClassID:   scope.ClassID,
		CatalogID: catalogID,
	})
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return slice.Map(records, func(_ int, p *domain.Progress) progress.Summary {
		return progress.Summarize(p)
	}), nil
}

// Analytics summarises the scope.
func (s *Service) Analytics(ctx context.Context, scope Scope) (report.Analytics, error) {
	snap, err := s.Snapshot(ctx, scope)
	if err != nil {
		return report.Analytics{}, err
	}
	return report.Analyze(snap), nil
}

// Roster builds the export table. The scope overrides the audience and, for
// observers, the class filter.
func (s *Service) Roster(ctx context.Context, scope Scope, opts report.Options) (report.Table, error) {
	snap, err := s.Snapshot(ctx, scope)
	if err != nil {
		return report.Table{}, err
	}
	opts.Audience = scope.Audience
	if scope.ClassID != "" {
		opts.ClassID = scope.ClassID
	}
	return report.Roster(snap, opts), nil
}
