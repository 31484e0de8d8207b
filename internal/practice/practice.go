// Package practice is the student-facing side of the guild: opening a
// catalog board, saving drafts, evaluating one mission and running batch
// sync. The HTTP API, the MCP server and the queue workers all go through it.
package practice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/batchsync"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/evaluation"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/progression"
)

var (
	ErrNotApproved = fmt.Errorf("student is not approved: %w", domain.ErrForbidden)
	ErrNotUnlocked = fmt.Errorf("catalog has not been unlocked: %w", domain.ErrForbidden)
)

// Students loads student accounts.
type Students interface {
	GetStudent(ctx context.Context, id string) (*domain.Student, error)
}

// Catalogs loads catalogs.
type Catalogs interface {
	Get(ctx context.Context, id string) (*domain.Catalog, error)
}

// Progress is the slice of the progress actor service practice uses.
type Progress interface {
	Open(ctx context.Context, student *domain.Student, catalog *domain.Catalog) (*domain.Progress, error)
	SaveDraft(ctx context.Context, student *domain.Student, catalog *domain.Catalog, missionID, code string) error
	Flush(ctx context.Context, studentID string, catalog *domain.Catalog) error
	Refresh(ctx context.Context, studentID string, catalog *domain.Catalog) (*domain.Progress, error)
}

// Service implements the student operations.
type Service struct {
	students  Students
	catalogs  Catalogs
	progress  Progress
	evaluator batchsync.Evaluator
	driver    *batchsync.Driver
	logger    *slog.Logger
}

// NewService creates a Service. The batch sync driver runs over evaluator.
func NewService(students Students, catalogs Catalogs, progress Progress, evaluator batchsync.Evaluator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		students:  students,
		catalogs:  catalogs,
		progress:  progress,
		evaluator: evaluator,
		driver:    batchsync.NewDriver(evaluator, logger),
		logger:    logger,
	}
}

// MissionView is a mission as one student sees it.
type MissionView struct {
	domain.Mission
	Unlocked  bool `json:"unlocked"`
	Completed bool `json:"completed"`
	Staged    bool `json:"staged"`
	BestScore int  `json:"bestScore"`
}

// Board is everything a student needs to work on a catalog.
type Board struct {
	Catalog  *domain.Catalog         `json:"catalog"`
	Progress *domain.Progress        `json:"progress"`
	Tiers    []progression.TierState `json:"tiers"`
	Missions []MissionView           `json:"missions"`
	Staged   []string                `json:"staged"`
}

// NewBoard derives the unlock and staged state of every mission.
func NewBoard(catalog *domain.Catalog, p *domain.Progress) *Board {
	b := &Board{
		Catalog:  catalog,
		Progress: p,
		Tiers:    progression.Tiers(catalog, p),
		Missions: make([]MissionView, 0, len(catalog.Missions)),
		Staged:   []string{},
	}
	for _, m := range catalog.Missions {
		staged := progression.IsStaged(m, p)
		if staged {
			b.Staged = append(b.Staged, m.ID)
		}
		b.Missions = append(b.Missions, MissionView{
			Mission:   m,
			Unlocked:  progression.IsTierUnlocked(catalog, p, m.Tier),
			Completed: p.IsCompleted(m.ID),
			Staged:    staged,
			BestScore: p.Scores[m.ID],
		})
	}
	return b
}

// target loads an approved student and a catalog they have unlocked.
func (s *Service) target(ctx context.Context, studentID, catalogID string) (*domain.Student, *domain.Catalog, error) {
	st, err := s.students.GetStudent(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	if st.Status != domain.StatusApproved {
		return nil, nil, ErrNotApproved
	}
	if !st.HasUnlocked(catalogID) {
		return nil, nil, ErrNotUnlocked
	}
	c, err := s.catalogs.Get(ctx, catalogID)
	if err != nil {
		return nil, nil, err
	}
	return st, c, nil
}

// Open returns the student's board for catalogID, creating the progress
// record on first use.
func (s *Service) Open(ctx context.Context, studentID, catalogID string) (*Board, error) {
	st, c, err := s.target(ctx, studentID, catalogID)
	if err != nil {
		return nil, err
	}
	p, err := s.progress.Open(ctx, st, c)
	if err != nil {
		return nil, err
	}
	return NewBoard(c, p), nil
}

// SaveDraft records an edit. The save itself is debounced by the actor.
// Missions in a locked tier cannot hold a draft, so they never reach sync.
func (s *Service) SaveDraft(ctx context.Context, studentID, catalogID, missionID, code string) error {
	st, c, err := s.target(ctx, studentID, catalogID)
	if err != nil {
		return err
	}
	p, err := s.progress.Open(ctx, st, c)
	if err != nil {
		return err
	}
	m, ok := c.Mission(missionID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrMissionNotFound, missionID)
	}
	if !progression.IsTierUnlocked(c, p, m.Tier) {
		return fmt.Errorf("%w: %s", domain.ErrTierLocked, m.Tier)
	}
	return s.progress.SaveDraft(ctx, st, c, m.ID, code)
}

// Flush persists the student's pending draft edits for catalogID now.
func (s *Service) Flush(ctx context.Context, studentID, catalogID string) error {
	st, c, err := s.target(ctx, studentID, catalogID)
	if err != nil {
		return err
	}
	if _, err := s.progress.Open(ctx, st, c); err != nil {
		return err
	}
	return s.progress.Flush(ctx, st.ID, c)
}

// Evaluate submits one mission to the tutor, streaming prose to sink. An
// empty code submits the saved draft. Missions in a locked tier are refused.
func (s *Service) Evaluate(ctx context.Context, studentID, catalogID, missionID, code string, sink evaluation.Sink) (*evaluation.Result, error) {
	st, c, err := s.target(ctx, studentID, catalogID)
	if err != nil {
		return nil, err
	}
	p, err := s.progress.Open(ctx, st, c)
	if err != nil {
		return nil, err
	}
	m, ok := c.Mission(missionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissionNotFound, missionID)
	}
	if !progression.IsTierUnlocked(c, p, m.Tier) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTierLocked, m.Tier)
	}
	if strings.TrimSpace(code) == "" {
		code = p.Draft(m.ID, m.StarterCode)
	} else if err := s.progress.SaveDraft(ctx, st, c, m.ID, code); err != nil {
		return nil, err
	}
	return s.evaluator.Evaluate(ctx, evaluation.Request{
		StudentID: st.ID,
		Catalog:   c,
		MissionID: m.ID,
		Code:      code,
	}, sink)
}

// Sync persists pending drafts, reloads the record and evaluates every
// staged mission in order.
func (s *Service) Sync(ctx context.Context, studentID, catalogID string, hooks batchsync.Hooks) (*batchsync.Report, error) {
	st, c, err := s.target(ctx, studentID, catalogID)
	if err != nil {
		return nil, err
	}
	if _, err := s.progress.Open(ctx, st, c); err != nil {
		return nil, err
	}
	if err := s.progress.Flush(ctx, st.ID, c); err != nil {
		return nil, fmt.Errorf("flush drafts: %w", err)
	}
	p, err := s.progress.Refresh(ctx, st.ID, c)
	if err != nil {
		return nil, fmt.Errorf("refresh progress: %w", err)
	}
	return s.driver.Run(ctx, st.ID, c, p, hooks)
}
