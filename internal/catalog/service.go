// Package catalog manages teacher-authored mission catalogs.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage"
)

// Service implements catalog operations.
type Service struct {
	store    storage.CatalogStore
	defaults domain.Thresholds
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. defaults supplies the unlock thresholds of
// catalogs that leave them unset; nil fields fall back to the built-in values.
func NewService(store storage.CatalogStore, defaults domain.Thresholds, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		defaults: defaults.WithDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// Save validates and stores c, filling in ids, thresholds and the creation
// time. The passcode is stored upper-cased and missions are kept in tier
// order.
func (s *Service) Save(ctx context.Context, c *domain.Catalog) (*domain.Catalog, error) {
	c.Passcode = domain.NormalizeCode(c.Passcode)
	c.Title = strings.TrimSpace(c.Title)
	c.Language = strings.ToLower(strings.TrimSpace(c.Language))
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.ID == "" {
		c.ID = "set_" + uuid.NewString()
	}
	for i := range c.Missions {
		if c.Missions[i].ID == "" {
			c.Missions[i].ID = "q_" + uuid.NewString()
		}
		if c.Missions[i].Points == 0 {
			c.Missions[i].Points = domain.DefaultPointsFor(c.Missions[i].Tier)
		}
	}
	domain.SortMissions(c.Missions)
	c.Thresholds = s.fillThresholds(c.Thresholds)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}

	if err := s.store.SaveCatalog(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("catalog saved", "catalog_id", c.ID, "teacher_id", c.TeacherID, "missions", len(c.Missions))
	return c, nil
}

func (s *Service) fillThresholds(th domain.Thresholds) domain.Thresholds {
	if th.Medium == nil {
		th.Medium = s.defaults.Medium
	}
	if th.Hard == nil {
		th.Hard = s.defaults.Hard
	}
	if th.Challenging == nil {
		th.Challenging = s.defaults.Challenging
	}
	return th
}

// Get returns a catalog by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Catalog, error) {
	return s.store.GetCatalog(ctx, id)
}

// GetOwned returns a catalog only if teacherID authored it.
func (s *Service) GetOwned(ctx context.Context, teacherID, id string) (*domain.Catalog, error) {
	c, err := s.store.GetCatalog(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.TeacherID != teacherID {
		return nil, domain.ErrCatalogNotFound
	}
	return c, nil
}

// ListByTeacher returns a teacher's catalogs, newest first.
func (s *Service) ListByTeacher(ctx context.Context, teacherID string) ([]*domain.Catalog, error) {
	return s.store.ListCatalogsByTeacher(ctx, teacherID)
}

// ListPublic returns the shared library, newest first.
func (s *Service) ListPublic(ctx context.Context) ([]*domain.Catalog, error) {
	return s.store.ListPublicCatalogs(ctx)
}

// GetByPortal finds a teacher's catalog by passcode.
func (s *Service) GetByPortal(ctx context.Context, teacherID, passcode string) (*domain.Catalog, error) {
	return s.store.FindCatalogByPasscode(ctx, teacherID, domain.NormalizeCode(passcode))
}

// Clone copies a catalog into newTeacherID's library as a private catalog.
// Only public catalogs and the teacher's own can be cloned.
func (s *Service) Clone(ctx context.Context, catalogID, newTeacherID, authorName string) (*domain.Catalog, error) {
	src, err := s.store.GetCatalog(ctx, catalogID)
	if err != nil {
		return nil, err
	}
	if !src.Public && src.TeacherID != newTeacherID {
		return nil, domain.ErrCatalogNotFound
	}

	dst := *src
	dst.ID = "set_" + uuid.NewString()
	dst.TeacherID = newTeacherID
	if authorName != "" {
		dst.AuthorName = authorName
	}
	dst.Public = false
	dst.CreatedAt = s.now()
	dst.Missions = append([]domain.Mission(nil), src.Missions...)

	if err := s.store.SaveCatalog(ctx, &dst); err != nil {
		return nil, fmt.Errorf("clone catalog: %w", err)
	}
	s.logger.Info("catalog cloned", "source_id", src.ID, "catalog_id", dst.ID, "teacher_id", newTeacherID)
	return &dst, nil
}

// Delete removes one of the teacher's catalogs.
func (s *Service) Delete(ctx context.Context, teacherID, id string) error {
	if _, err := s.GetOwned(ctx, teacherID, id); err != nil {
		return err
	}
	return s.store.DeleteCatalog(ctx, id)
}
