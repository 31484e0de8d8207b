package local

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage"
)

const (
	colTeachers = "teachers"
	colClasses  = "classes"
	colStudents = "students"
	colCatalogs = "catalogs"
	colProgress = "progress"
)

// Store implements storage.Store on JSON files. Lookups by secondary key scan
// the collection.
type Store struct {
	files *Files

	// studentMu serialises read-modify-write of student documents.
	studentMu sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// NewStore opens a file store rooted at basePath.
func NewStore(basePath string) (*Store, error) {
	files, err := NewFiles(basePath)
	if err != nil {
		return nil, err
	}
	return &Store{files: files}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.files.List(colTeachers)
	return err
}

func (s *Store) Close() error { return nil }

// Account documents carry the password hash, which the domain types hide
// from JSON.
type teacherDoc struct {
	domain.Teacher
	PasswordHash string `json:"passwordHash"`
}

type studentDoc struct {
	domain.Student
	PasswordHash string `json:"passwordHash"`
}

func (s *Store) get(op, collection, id string, v any, notFound error) error {
	if err := s.files.Load(collection, id, v); err != nil {
		if errors.Is(err, ErrNotFound) {
			return storage.Wrap(op, notFound)
		}
		return storage.Wrap(op, err)
	}
	return nil
}

// first returns the first record in collection matching match.
func first[T any](s *Store, op, collection string, notFound error, match func(*T) bool) (*T, error) {
	var found *T
	errStop := errors.New("stop")
	err := Each(s.files, collection, func(v *T) error {
		if match(v) {
			found = v
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, storage.Wrap(op, err)
	}
	if found == nil {
		return nil, storage.Wrap(op, notFound)
	}
	return found, nil
}

func (s *Store) CreateTeacher(ctx context.Context, t *domain.Teacher) error {
	if _, err := s.GetTeacherByEmail(ctx, t.Email); err == nil {
		return storage.Wrap("create teacher", fmt.Errorf("%w: email %s", domain.ErrConflict, t.Email))
	}
	if s.files.Exists(colTeachers, t.ID) {
		return storage.Wrap("create teacher", fmt.Errorf("%w: id %s", domain.ErrConflict, t.ID))
	}
	doc := teacherDoc{Teacher: *t, PasswordHash: t.PasswordHash}
	doc.Email = strings.ToLower(t.Email)
	return storage.Wrap("create teacher", s.files.Save(colTeachers, t.ID, doc))
}

func (s *Store) GetTeacher(ctx context.Context, id string) (*domain.Teacher, error) {
	var doc teacherDoc
	if err := s.get("get teacher", colTeachers, id, &doc, domain.ErrTeacherNotFound); err != nil {
		return nil, err
	}
	return doc.teacher(), nil
}

func (d *teacherDoc) teacher() *domain.Teacher {
	t := d.Teacher
	t.PasswordHash = d.PasswordHash
	return &t
}

func (s *Store) GetTeacherByEmail(ctx context.Context, email string) (*domain.Teacher, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	doc, err := first(s, "get teacher by email", colTeachers, domain.ErrTeacherNotFound, func(d *teacherDoc) bool {
		return d.Email == email
	})
	if err != nil {
		return nil, err
	}
	return doc.teacher(), nil
}

func (s *Store) GetTeacherByAcademyCode(ctx context.Context, code string) (*domain.Teacher, error) {
	code = domain.NormalizeCode(code)
	doc, err := first(s, "get teacher by academy code", colTeachers, domain.ErrTeacherNotFound, func(d *teacherDoc) bool {
		return d.AcademyCode == code
	})
	if err != nil {
		return nil, err
	}
	return doc.teacher(), nil
}

func (s *Store) SaveClass(ctx context.Context, c *domain.Class) error {
	return storage.Wrap("save class", s.files.Save(colClasses, c.ID, c))
}

func (s *Store) GetClass(ctx context.Context, id string) (*domain.Class, error) {
	var c domain.Class
	if err := s.get("get class", colClasses, id, &c, domain.ErrClassNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetClassByCode(ctx context.Context, code string) (*domain.Class, error) {
	code = domain.NormalizeCode(code)
	return first(s, "get class by code", colClasses, domain.ErrClassNotFound, func(c *domain.Class) bool {
		return c.Code == code
	})
}

func (s *Store) ListClasses(ctx context.Context, teacherID string) ([]*domain.Class, error) {
	var out []*domain.Class
	err := Each(s.files, colClasses, func(c *domain.Class) error {
		if c.TeacherID == teacherID {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, storage.Wrap("list classes", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteClass(ctx context.Context, id string) error {
	if err := s.files.Delete(colClasses, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return storage.Wrap("delete class", domain.ErrClassNotFound)
		}
		return storage.Wrap("delete class", err)
	}
	return nil
}

func (s *Store) CreateStudent(ctx context.Context, st *domain.Student) error {
	if _, err := s.GetStudentByEmail(ctx, st.Email); err == nil {
		return storage.Wrap("create student", fmt.Errorf("%w: email %s", domain.ErrConflict, st.Email))
	}
	return s.saveStudent("create student", st)
}

func (s *Store) UpdateStudent(ctx context.Context, st *domain.Student) error {
	s.studentMu.Lock()
	defer s.studentMu.Unlock()

	if !s.files.Exists(colStudents, st.ID) {
		return storage.Wrap("update student", domain.ErrStudentNotFound)
	}
	return s.saveStudent("update student", st)
}

func (s *Store) UpdateStudentAggregate(ctx context.Context, id string, agg domain.Aggregate) error {
	s.studentMu.Lock()
	defer s.studentMu.Unlock()

	st, err := s.GetStudent(ctx, id)
	if err != nil {
		return storage.Wrap("update student aggregate", err)
	}
	st.Aggregate = agg
	return s.saveStudent("update student aggregate", st)
}

func (s *Store) saveStudent(op string, st *domain.Student) error {
	doc := studentDoc{Student: *st, PasswordHash: st.PasswordHash}
	doc.Email = strings.ToLower(st.Email)
	return storage.Wrap(op, s.files.Save(colStudents, st.ID, doc))
}

func (d *studentDoc) student() *domain.Student {
	st := d.Student
	st.PasswordHash = d.PasswordHash
	return &st
}

func (s *Store) GetStudent(ctx context.Context, id string) (*domain.Student, error) {
	var doc studentDoc
	if err := s.get("get student", colStudents, id, &doc, domain.ErrStudentNotFound); err != nil {
		return nil, err
	}
	return doc.student(), nil
}

func (s *Store) GetStudentByEmail(ctx context.Context, email string) (*domain.Student, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	doc, err := first(s, "get student by email", colStudents, domain.ErrStudentNotFound, func(d *studentDoc) bool {
		return d.Email == email
	})
	if err != nil {
		return nil, err
	}
	return doc.student(), nil
}

func (s *Store) ListStudents(ctx context.Context, f storage.StudentFilter) ([]*domain.Student, error) {
	var out []*domain.Student
	err := Each(s.files, colStudents, func(d *studentDoc) error {
		if st := d.student(); f.Matches(st) {
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, storage.Wrap("list students", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].GlobalXP != out[j].GlobalXP {
			return out[i].GlobalXP > out[j].GlobalXP
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) SaveCatalog(ctx context.Context, c *domain.Catalog) error {
	return storage.Wrap("save catalog", s.files.Save(colCatalogs, c.ID, c))
}

func (s *Store) GetCatalog(ctx context.Context, id string) (*domain.Catalog, error) {
	var c domain.Catalog
	if err := s.get("get catalog", colCatalogs, id, &c, domain.ErrCatalogNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) FindCatalogByPasscode(ctx context.Context, teacherID, passcode string) (*domain.Catalog, error) {
	passcode = strings.ToUpper(strings.TrimSpace(passcode))
	return first(s, "find catalog by passcode", colCatalogs, domain.ErrCatalogNotFound, func(c *domain.Catalog) bool {
		return c.TeacherID == teacherID && c.Passcode == passcode
	})
}

func (s *Store) ListCatalogsByTeacher(ctx context.Context, teacherID string) ([]*domain.Catalog, error) {
	return s.listCatalogs("list catalogs", func(c *domain.Catalog) bool { return c.TeacherID == teacherID })
}

func (s *Store) ListPublicCatalogs(ctx context.Context) ([]*domain.Catalog, error) {
	return s.listCatalogs("list public catalogs", func(c *domain.Catalog) bool { return c.Public })
}

func (s *Store) listCatalogs(op string, match func(*domain.Catalog) bool) ([]*domain.Catalog, error) {
	var out []*domain.Catalog
	err := Each(s.files, colCatalogs, func(c *domain.Catalog) error {
		if match(c) {
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, storage.Wrap(op, err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteCatalog(ctx context.Context, id string) error {
	if err := s.files.Delete(colCatalogs, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return storage.Wrap("delete catalog", domain.ErrCatalogNotFound)
		}
		return storage.Wrap("delete catalog", err)
	}
	return nil
}

func (s *Store) SaveProgress(ctx context.Context, p *domain.Progress) error {
	p.Normalize()
	return storage.Wrap("save progress", s.files.Save(colProgress, p.ID, p))
}

func (s *Store) GetProgress(ctx context.Context, id string) (*domain.Progress, error) {
	var p domain.Progress
	if err := s.get("get progress", colProgress, id, &p, domain.ErrProgressNotFound); err != nil {
		return nil, err
	}
	p.Normalize()
	return &p, nil
}

func (s *Store) ListProgress(ctx context.Context, f storage.ProgressFilter) ([]*domain.Progress, error) {
	var out []*domain.Progress
	err := Each(s.files, colProgress, func(p *domain.Progress) error {
		if f.Matches(p) {
			p.Normalize()
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, storage.Wrap("list progress", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out, nil
}
