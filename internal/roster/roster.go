// Package roster manages teacher accounts, classes, student enrollment and
// observer access.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/auth"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/cache"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/realtime"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage"
)

// DefaultLeaderboardSize is the number of entries Leaderboard returns when
// asked for zero.
const DefaultLeaderboardSize = 10

// codeAttempts bounds retries when a generated code collides.
const codeAttempts = 8

var ErrCodeExhausted = errors.New("could not generate a unique code")

// Store is the persistence the roster needs.
type Store interface {
	storage.TeacherStore
	storage.ClassStore
	storage.StudentStore
	FindCatalogByPasscode(ctx context.Context, teacherID, passcode string) (*domain.Catalog, error)
}

// Publisher receives roster change events.
type Publisher interface {
	Publish(ctx context.Context, ev realtime.Event)
}

// Service implements roster operations.
type Service struct {
	store     Store
	hasher    auth.Hasher
	cache     cache.Cache
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a Service. c and pub may be nil.
func NewService(store Store, hasher auth.Hasher, c cache.Cache, pub Publisher, logger *slog.Logger) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		hasher:    hasher,
		cache:     c,
		publisher: pub,
		logger:    logger,
		now:       time.Now,
	}
}

// TeacherSignup is the input of RegisterTeacher.
type TeacherSignup struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	SchoolName string `json:"schoolName"`
}

// RegisterTeacher creates a teacher account with a fresh academy code.
func (s *Service) RegisterTeacher(ctx context.Context, in TeacherSignup) (*domain.Teacher, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	if err := s.emailFree(ctx, email); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPassword, err)
	}

	code, err := s.uniqueCode(ctx, func() string { return domain.NewAcademyCode(name) }, func(ctx context.Context, c string) error {
		_, err := s.store.GetTeacherByAcademyCode(ctx, c)
		return err
	})
	if err != nil {
		return nil, err
	}

	t := &domain.Teacher{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		SchoolName:   strings.TrimSpace(in.SchoolName),
		AcademyCode:  code,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateTeacher(ctx, t); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.ErrAccountExists
		}
		return nil, err
	}
	s.logger.Info("teacher registered", "teacher_id", t.ID, "academy_code", t.AcademyCode)
	return t, nil
}

// StudentSignup is the input of RegisterStudent.
type StudentSignup struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	MasterKey string `json:"masterKey"`
	ClassCode string `json:"classCode"`
}

// RegisterStudent enrolls a student in a class. The master key is the
// teacher's academy code and the class code must belong to that teacher.
// New students wait for approval.
func (s *Service) RegisterStudent(ctx context.Context, in StudentSignup) (*domain.Student, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}

	teacher, err := s.store.GetTeacherByAcademyCode(ctx, domain.NormalizeCode(in.MasterKey))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrInvalidMasterKey
	}
	if err != nil {
		return nil, err
	}
	class, err := s.store.GetClassByCode(ctx, domain.NormalizeCode(in.ClassCode))
	if errors.Is(err, domain.ErrNotFound) || (err == nil && class.TeacherID != teacher.ID) {
		return nil, domain.ErrInvalidClassCode
	}
	if err != nil {
		return nil, err
	}

	if err := s.emailFree(ctx, email); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPassword, err)
	}

	st := &domain.Student{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Status:       domain.StatusPending,
		ClassID:      class.ID,
		MasterKey:    teacher.ID,
		UnlockedSets: []string{},
		Aggregate:    domain.Aggregate{LanguageMastery: map[string]int{}, CompletedCatalogs: []string{}},
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateStudent(ctx, st); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.ErrAccountExists
		}
		return nil, err
	}
	s.logger.Info("student registered", "student_id", st.ID, "teacher_id", teacher.ID, "class_id", class.ID)
	s.publishRoster(ctx, st)
	return st, nil
}

// Account is the result of a successful login. Exactly one of Teacher and
// Student is set.
type Account struct {
	Principal domain.Principal
	Teacher   *domain.Teacher
	Student   *domain.Student
}

// Login authenticates a teacher or student by email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	t, err := s.store.GetTeacherByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.hasher.Check(t.PasswordHash, password); err != nil {
			return nil, err
		}
		return &Account{Principal: TeacherPrincipal(t), Teacher: t}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	st, err := s.store.GetStudentByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := s.hasher.Check(st.PasswordHash, password); err != nil {
		return nil, err
	}
	p, err := StudentPrincipal(st)
	if err != nil {
		return nil, err
	}
	return &Account{Principal: p, Student: st}, nil
}

// ObserverLogin signs in a teaching assistant for the one class whose TA key
// matches under the given academy code.
func (s *Service) ObserverLogin(ctx context.Context, academyCode, taKey string) (domain.Principal, *domain.Class, error) {
	teacher, err := s.store.GetTeacherByAcademyCode(ctx, domain.NormalizeCode(academyCode))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Principal{}, nil, domain.ErrInvalidObserverKey
	}
	if err != nil {
		return domain.Principal{}, nil, err
	}
	classes, err := s.store.ListClasses(ctx, teacher.ID)
	if err != nil {
		return domain.Principal{}, nil, err
	}
	key := domain.NormalizeCode(taKey)
	for _, c := range classes {
		if key != "" && c.TAKey == key {
			return domain.Principal{
				Role:      domain.RoleObserver,
				UserID:    "observer:" + c.ID,
				TeacherID: teacher.ID,
				ClassID:   c.ID,
				Name:      c.Name + " observer",
			}, c, nil
		}
	}
	return domain.Principal{}, nil, domain.ErrInvalidObserverKey
}

// TeacherPrincipal builds the principal of a teacher.
func TeacherPrincipal(t *domain.Teacher) domain.Principal {
	return domain.Principal{Role: domain.RoleTeacher, UserID: t.ID, TeacherID: t.ID, Name: t.Name}
}

// StudentPrincipal builds the principal of a student. Denied students are
// refused.
func StudentPrincipal(st *domain.Student) (domain.Principal, error) {
	role, err := domain.StudentRole(st.Status)
	if err != nil {
		return domain.Principal{}, err
	}
	return domain.Principal{Role: role, UserID: st.ID, TeacherID: st.MasterKey, ClassID: st.ClassID, Name: st.Name}, nil
}

func (s *Service) GetTeacher(ctx context.Context, id string) (*domain.Teacher, error) {
	return s.store.GetTeacher(ctx, id)
}

func (s *Service) GetStudent(ctx context.Context, id string) (*domain.Student, error) {
	return s.store.GetStudent(ctx, id)
}

func (s *Service) emailFree(ctx context.Context, email string) error {
	if _, err := s.store.GetTeacherByEmail(ctx, email); err == nil {
		return domain.ErrAccountExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if _, err := s.store.GetStudentByEmail(ctx, email); err == nil {
		return domain.ErrAccountExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

// uniqueCode draws codes from gen until lookup reports one as unused.
func (s *Service) uniqueCode(ctx context.Context, gen func() string, lookup func(context.Context, string) error) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := gen()
		err := lookup(ctx, code)
		if errors.Is(err, domain.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", ErrCodeExhausted
}

func (s *Service) publishRoster(ctx context.Context, st *domain.Student) {
	if s.publisher == nil {
		return
	}
	ev := realtime.NewEvent(realtime.EventRosterUpdated, map[string]any{
		"studentUid": st.ID,
		"name":       st.Name,
		"status":     st.Status,
	})
	ev.TeacherID, ev.ClassID, ev.StudentID = st.MasterKey, st.ClassID, st.ID
	s.publisher.Publish(ctx, ev)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}

func sortStudents(students []*domain.Student) {
	sort.SliceStable(students, func(i, j int) bool {
		if students[i].Name != students[j].Name {
			return students[i].Name < students[j].Name
		}
		return students[i].ID < students[j].ID
	})
}
