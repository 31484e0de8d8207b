package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/cache"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage"
)

// ListStudents returns a teacher's students, optionally by status and class,
// sorted by name.
func (s *Service) ListStudents(ctx context.Context, teacherID string, status domain.StudentStatus, classID string) ([]*domain.Student, error) {
	students, err := s.store.ListStudents(ctx, storage.StudentFilter{TeacherID: teacherID, ClassID: classID, Status: status})
	if err != nil {
		return nil, err
	}
	sortStudents(students)
	return students, nil
}

func (s *Service) ListPending(ctx context.Context, teacherID string) ([]*domain.Student, error) {
	return s.ListStudents(ctx, teacherID, domain.StatusPending, "")
}

func (s *Service) ListApproved(ctx context.Context, teacherID string) ([]*domain.Student, error) {
	return s.ListStudents(ctx, teacherID, domain.StatusApproved, "")
}

// SetStudentStatus approves or denies one of the teacher's students.
func (s *Service) SetStudentStatus(ctx context.Context, teacherID, studentID string, status domain.StudentStatus) (*domain.Student, error) {
	if _, err := domain.ParseStudentStatus(string(status)); err != nil {
		return nil, err
	}
	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if st.MasterKey != teacherID {
		return nil, domain.ErrStudentNotFound
	}
	if st.Status == status {
		return st, nil
	}
	st.Status = status
	if err := s.store.UpdateStudent(ctx, st); err != nil {
		return nil, err
	}
	s.logger.Info("student status changed", "student_id", st.ID, "status", status)
	if err := s.cache.Delete(ctx, cache.LeaderboardKey(teacherID), cache.ProfileKey(st.ID)); err != nil {
		s.logger.Warn("cache invalidate failed", "teacher_id", teacherID, "error", err)
	}
	s.publishRoster(ctx, st)
	return st, nil
}

// UnlockCatalog adds the catalog identified by a teacher id and passcode to
// the student's unlocked set.
func (s *Service) UnlockCatalog(ctx context.Context, studentID, teacherID, passcode string) (*domain.Catalog, error) {
	catalog, err := s.store.FindCatalogByPasscode(ctx, teacherID, domain.NormalizeCode(passcode))
	if err != nil {
		if isNotFound(err) {
			return nil, domain.ErrInvalidPasscode
		}
		return nil, err
	}
	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if st.HasUnlocked(catalog.ID) {
		return catalog, nil
	}
	st.UnlockedSets = append(st.UnlockedSets, catalog.ID)
	if err := s.store.UpdateStudent(ctx, st); err != nil {
		return nil, err
	}
	if err := s.cache.Delete(ctx, cache.ProfileKey(st.ID)); err != nil {
		s.logger.Warn("cache invalidate failed", "student_id", st.ID, "error", err)
	}
	return catalog, nil
}

// Standing is one leaderboard row.
type Standing struct {
	Rank      int    `json:"rank"`
	StudentID string `json:"studentUid"`
	Name      string `json:"name"`
	ClassID   string `json:"classId"`
	GlobalXP  int    `json:"globalXp"`
	Level     int    `json:"level"`
}

// Leaderboard ranks a teacher's approved students by global XP. n <= 0
// returns DefaultLeaderboardSize entries.
func (s *Service) Leaderboard(ctx context.Context, teacherID string, n int) ([]Standing, error) {
	if n <= 0 {
		n = DefaultLeaderboardSize
	}
	all, err := cache.Fetch(ctx, s.cache, s.logger, cache.LeaderboardKey(teacherID), func(ctx context.Context) ([]Standing, error) {
		return s.rank(ctx, teacherID)
	})
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (s *Service) rank(ctx context.Context, teacherID string) ([]Standing, error) {
	students, err := s.store.ListStudents(ctx, storage.StudentFilter{TeacherID: teacherID, Status: domain.StatusApproved})
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	sort.SliceStable(students, func(i, j int) bool {
		if students[i].GlobalXP != students[j].GlobalXP {
			return students[i].GlobalXP > students[j].GlobalXP
		}
		return students[i].Name < students[j].Name
	})
	out := make([]Standing, len(students))
	for i, st := range students {
		out[i] = Standing{
			Rank:      i + 1,
			StudentID: st.ID,
			Name:      st.Name,
			ClassID:   st.ClassID,
			GlobalXP:  st.GlobalXP,
			Level:     domain.Level(st.GlobalXP),
		}
	}
	return out, nil
}

// Profile is a student's public progress summary.
type Profile struct {
	StudentID    string   `json:"studentUid"`
	Name         string   `json:"name"`
	Status       string   `json:"status"`
	ClassID      string   `json:"classId"`
	UnlockedSets []string `json:"unlockedSets"`
	domain.Aggregate
	Level int `json:"level"`
}

// Profile returns the student's derived profile.
func (s *Service) Profile(ctx context.Context, studentID string) (*Profile, error) {
	return cache.Fetch(ctx, s.cache, s.logger, cache.ProfileKey(studentID), func(ctx context.Context) (*Profile, error) {
		st, err := s.store.GetStudent(ctx, studentID)
		if err != nil {
			return nil, err
		}
		return &Profile{
			StudentID:    st.ID,
			Name:         st.Name,
			Status:       string(st.Status),
			ClassID:      st.ClassID,
			UnlockedSets: st.UnlockedSets,
			Aggregate:    st.Aggregate,
			Level:        domain.Level(st.GlobalXP),
		}, nil
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
