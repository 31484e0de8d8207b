// Package storage defines the persistence contracts shared by the sqlite,
// postgres and local file backends.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

// TeacherStore persists teacher accounts.
type TeacherStore interface {
	CreateTeacher(ctx context.Context, t *domain.Teacher) error
	GetTeacher(ctx context.Context, id string) (*domain.Teacher, error)
	GetTeacherByEmail(ctx context.Context, email string) (*domain.Teacher, error)
	GetTeacherByAcademyCode(ctx context.Context, code string) (*domain.Teacher, error)
}

// ClassStore persists classes.
type ClassStore interface {
	SaveClass(ctx context.Context, c *domain.Class) error
	GetClass(ctx context.Context, id string) (*domain.Class, error)
	GetClassByCode(ctx context.Context, code string) (*domain.Class, error)
	ListClasses(ctx context.Context, teacherID string) ([]*domain.Class, error)
	DeleteClass(ctx context.Context, id string) error
}

// StudentFilter narrows ListStudents. Empty fields match everything.
type StudentFilter struct {
	TeacherID string
	ClassID   string
	Status    domain.StudentStatus
}

// Matches reports whether s passes the filter.
func (f StudentFilter) Matches(s *domain.Student) bool {
	if f.TeacherID != "" && s.MasterKey != f.TeacherID {
		return false
	}
	if f.ClassID != "" && s.ClassID != f.ClassID {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}

// StudentStore persists student accounts and their derived profile fields.
type StudentStore interface {
	CreateStudent(ctx context.Context, s *domain.Student) error
	GetStudent(ctx context.Context, id string) (*domain.Student, error)
	GetStudentByEmail(ctx context.Context, email string) (*domain.Student, error)
	UpdateStudent(ctx context.Context, s *domain.Student) error
	// UpdateStudentAggregate writes only the derived profile fields.
	UpdateStudentAggregate(ctx context.Context, id string, agg domain.Aggregate) error
	ListStudents(ctx context.Context, filter StudentFilter) ([]*domain.Student, error)
}

// CatalogStore persists mission catalogs.
type CatalogStore interface {
	SaveCatalog(ctx context.Context, c *domain.Catalog) error
	GetCatalog(ctx context.Context, id string) (*domain.Catalog, error)
	ListCatalogsByTeacher(ctx context.Context, teacherID string) ([]*domain.Catalog, error)
	ListPublicCatalogs(ctx context.Context) ([]*domain.Catalog, error)
	FindCatalogByPasscode(ctx context.Context, teacherID, passcode string) (*domain.Catalog, error)
	DeleteCatalog(ctx context.Context, id string) error
}

// ProgressFilter narrows ListProgress. Empty fields match everything.
type ProgressFilter struct {
	StudentID string
	TeacherID string
	ClassID   string
	CatalogID string
}

// Matches reports whether p passes the filter.
func (f ProgressFilter) Matches(p *domain.Progress) bool {
	return (f.StudentID == "" || p.StudentID == f.StudentID) &&
		(f.TeacherID == "" || p.TeacherID == f.TeacherID) &&
		(f.ClassID == "" || p.ClassID == f.ClassID) &&
		(f.CatalogID == "" || p.CatalogID == f.CatalogID)
}

// ProgressStore persists progress records. ListProgress returns records
// ordered by last activity, newest first.
type ProgressStore interface {
	GetProgress(ctx context.Context, id string) (*domain.Progress, error)
	SaveProgress(ctx context.Context, p *domain.Progress) error
	ListProgress(ctx context.Context, filter ProgressFilter) ([]*domain.Progress, error)
}

// Store is a complete backend.
type Store interface {
	TeacherStore
	ClassStore
	StudentStore
	CatalogStore
	ProgressStore
	Ping(ctx context.Context) error
	Close() error
}

// Wrap names the operation that failed. Permission failures additionally
// match domain.ErrPermissionDenied.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrPermission) && !errors.Is(err, domain.ErrPermissionDenied) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
