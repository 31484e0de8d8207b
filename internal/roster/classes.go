package roster

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

// CreateClass adds a class with a fresh join code and TA key.
func (s *Service) CreateClass(ctx context.Context, teacherID, name string) (*domain.Class, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: class name is required", domain.ErrInvalidInput)
	}
	code, err := s.uniqueCode(ctx, func() string { return domain.NewClassCode(name) }, func(ctx context.Context, c string) error {
		_, err := s.store.GetClassByCode(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	c := &domain.Class{
		ID:        uuid.NewString(),
		TeacherID: teacherID,
		Name:      name,
		Code:      code,
		TAKey:     domain.NewTAKey(),
		CreatedAt: s.now(),
	}
	if err := s.store.SaveClass(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("class created", "class_id", c.ID, "teacher_id", teacherID, "code", c.Code)
	return c, nil
}

// ListClasses returns a teacher's classes.
func (s *Service) ListClasses(ctx context.Context, teacherID string) ([]*domain.Class, error) {
	return s.store.ListClasses(ctx, teacherID)
}

// DeleteClass removes one of the teacher's classes. Enrolled students keep
// their records.
func (s *Service) DeleteClass(ctx context.Context, teacherID, classID string) error {
	if _, err := s.ownedClass(ctx, teacherID, classID); err != nil {
		return err
	}
	return s.store.DeleteClass(ctx, classID)
}

// RegenerateTAKey replaces a class's TA key, locking out observers using the
// old one.
func (s *Service) RegenerateTAKey(ctx context.Context, teacherID, classID string) (*domain.Class, error) {
	c, err := s.ownedClass(ctx, teacherID, classID)
	if err != nil {
		return nil, err
	}
	prev := c.TAKey
	for c.TAKey == prev {
		c.TAKey = domain.NewTAKey()
	}
	if err := s.store.SaveClass(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ownedClass loads a class, hiding classes of other teachers as not found.
func (s *Service) ownedClass(ctx context.Context, teacherID, classID string) (*domain.Class, error) {
	c, err := s.store.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if c.TeacherID != teacherID {
		return nil, domain.ErrClassNotFound
	}
	return c, nil
}
