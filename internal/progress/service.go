// Package progress owns the live progress records. Each (student, catalog)
// record is held by one actor goroutine that serialises draft edits,
// evaluation commits, refreshes and flushes.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/progression"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/realtime"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("progress service closed")

// Store is the persistence the service needs.
type Store interface {
	storage.ProgressStore
	GetStudent(ctx context.Context, id string) (*domain.Student, error)
	UpdateStudentAggregate(ctx context.Context, id string, agg domain.Aggregate) error
}

// Publisher receives change events. *realtime.Bus implements it.
type Publisher interface {
	Publish(ctx context.Context, ev realtime.Event)
}

// ProfileCache is told when a student's derived profile changes.
type ProfileCache interface {
	InvalidateProfile(ctx context.Context, studentID, teacherID string)
}

// Config tunes the service.
type Config struct {
	// Debounce is the quiet period after the last draft edit before it is saved.
	Debounce time.Duration
	// MaxFeedback bounds the feedback log.
	MaxFeedback int
	// IdleTimeout stops actors with nothing pending after this long.
	IdleTimeout time.Duration
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		Debounce:    2 * time.Second,
		MaxFeedback: domain.MaxFeedbackEntries,
		IdleTimeout: 10 * time.Minute,
	}
}

// Service manages progress actors.
type Service struct {
	store     Store
	publisher Publisher
	cache     ProfileCache
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sends change events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithProfileCache invalidates c when profiles change.
func WithProfileCache(c ProfileCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.MaxFeedback <= 0 {
		cfg.MaxFeedback = def.MaxFeedback
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		actors: make(map[string]*actor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open returns the student's record for catalog, creating it on first use.
func (s *Service) Open(ctx context.Context, student *domain.Student, catalog *domain.Catalog) (*domain.Progress, error) {
	var out *domain.Progress
	err := s.do(ctx, target{studentID: student.ID, student: student, catalog: catalog}, func(ctx context.Context, a *actor) error {
		out = a.progress.Clone()
		return nil
	})
	return out, err
}

// SaveDraft records an edit in memory and schedules a debounced save.
func (s *Service) SaveDraft(ctx context.Context, student *domain.Student, catalog *domain.Catalog, missionID, code string) error {
	if _, ok := catalog.Mission(missionID); !ok {
		return fmt.Errorf("%w: %s", domain.ErrMissionNotFound, missionID)
	}
	return s.do(ctx, target{studentID: student.ID, student: student, catalog: catalog}, func(ctx context.Context, a *actor) error {
		a.edit(missionID, code)
		return nil
	})
}

// Flush persists pending edits of one record immediately.
func (s *Service) Flush(ctx context.Context, studentID string, catalog *domain.Catalog) error {
	return s.do(ctx, target{studentID: studentID, catalog: catalog}, func(ctx context.Context, a *actor) error {
		return a.flush(ctx)
	})
}

// Refresh reloads the record from the store. Unsaved local drafts survive.
func (s *Service) Refresh(ctx context.Context, studentID string, catalog *domain.Catalog) (*domain.Progress, error) {
	var out *domain.Progress
	err := s.do(ctx, target{studentID: studentID, catalog: catalog}, func(ctx context.Context, a *actor) error {
		if err := a.refresh(ctx); err != nil {
			return err
		}
		out = a.progress.Clone()
		return nil
	})
	return out, err
}

// CommitOutcome applies an evaluation verdict and persists it. The student
// profile is recomputed when the outcome succeeded. On error the record is
// left as it was.
func (s *Service) CommitOutcome(ctx context.Context, studentID string, catalog *domain.Catalog, mission domain.Mission, out progression.Outcome) (*domain.Progress, error) {
	var result *domain.Progress
	err := s.do(ctx, target{studentID: studentID, catalog: catalog}, func(ctx context.Context, a *actor) error {
		p, err := a.commit(ctx, mission, out)
		result = p
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Success {
		if _, err := s.RecomputeProfile(ctx, studentID); err != nil {
			s.logger.Error("profile recompute failed", "student_id", studentID, "error", err)
		}
	}
	return result, nil
}

// RecomputeProfile rebuilds a student's derived profile from all of their
// progress records.
func (s *Service) RecomputeProfile(ctx context.Context, studentID string) (domain.Aggregate, error) {
	records, err := s.store.ListProgress(ctx, storage.ProgressFilter{StudentID: studentID})
	if err != nil {
		return domain.Aggregate{}, fmt.Errorf("recompute profile: %w", err)
	}
	agg := progression.Aggregate(records)
	if err := s.store.UpdateStudentAggregate(ctx, studentID, agg); err != nil {
		return domain.Aggregate{}, fmt.Errorf("recompute profile: %w", err)
	}

	teacherID := ""
	if len(records) > 0 {
		teacherID = records[0].TeacherID
	}
	if s.cache != nil {
		s.cache.InvalidateProfile(ctx, studentID, teacherID)
	}
	ev := realtime.NewEvent(realtime.EventProfileUpdated, agg)
	ev.TeacherID, ev.StudentID = teacherID, studentID
	if len(records) > 0 {
		ev.ClassID = records[0].ClassID
	}
	s.publish(ctx, ev)
	return agg, nil
}

// ListByTeacher returns a teacher's records, most recently active first.
func (s *Service) ListByTeacher(ctx context.Context, teacherID string) ([]*domain.Progress, error) {
	return s.store.ListProgress(ctx, storage.ProgressFilter{TeacherID: teacherID})
}

// ListByStudent returns all records of one student.
func (s *Service) ListByStudent(ctx context.Context, studentID string) ([]*domain.Progress, error) {
	return s.store.ListProgress(ctx, storage.ProgressFilter{StudentID: studentID})
}

// ListByClass returns the records of one class of a teacher.
func (s *Service) ListByClass(ctx context.Context, teacherID, classID string) ([]*domain.Progress, error) {
	return s.store.ListProgress(ctx, storage.ProgressFilter{TeacherID: teacherID, ClassID: classID})
}

// Close flushes every actor and stops them.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	actors := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()

	for _, a := range actors {
		close(a.stop)
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// target identifies a record and carries what is needed to create it.
type target struct {
	studentID string
	student   *domain.Student
	catalog   *domain.Catalog
}

// do runs fn on the record's actor, starting the actor if needed.
func (s *Service) do(ctx context.Context, t target, fn func(context.Context, *actor) error) error {
	id := domain.ProgressID(t.studentID, t.catalog.ID)
	req := &request{ctx: ctx, target: t, fn: fn, reply: make(chan error, 1)}

	for {
		a, err := s.actorFor(id)
		if err != nil {
			return err
		}
		select {
		case a.mailbox <- req:
		case <-a.done:
			// The actor retired between lookup and send.
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case err := <-req.reply:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) actorFor(id string) (*actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if a, ok := s.actors[id]; ok {
		return a, nil
	}
	a := newActor(s, id)
	s.actors[id] = a
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a.run()
	}()
	return a, nil
}

// retire removes a from the registry if it is still the current actor.
func (s *Service) retire(a *actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actors[a.id] == a {
		delete(s.actors, a.id)
	}
}

func (s *Service) publish(ctx context.Context, ev realtime.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, ev)
	}
}

func (s *Service) publishProgress(ctx context.Context, p *domain.Progress) {
	ev := realtime.NewEvent(realtime.EventProgressUpdated, Summarize(p))
	ev.TeacherID, ev.ClassID, ev.StudentID, ev.CatalogID = p.TeacherID, p.ClassID, p.StudentID, p.CatalogID
	s.publish(ctx, ev)
}

// Summary is the dashboard view of a record, without drafts.
type Summary struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"studentUid"`
	StudentName string    `json:"studentName"`
	CatalogID   string    `json:"questionSetId"`
	Completed   int       `json:"completed"`
	TotalScore  int       `json:"totalScore"`
	LastActive  time.Time `json:"lastActive"`
}

// Summarize builds a Summary of p.
func Summarize(p *domain.Progress) Summary {
	return Summary{
		ID:          p.ID,
		StudentID:   p.StudentID,
		StudentName: p.StudentName,
		CatalogID:   p.CatalogID,
		Completed:   len(p.Completed),
		TotalScore:  p.TotalScore(),
		LastActive:  p.LastActive,
	}
}
