// Package storagetest runs the same behavioural checks against every
// storage.Store implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/storage"
)

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("Teachers", func(t *testing.T) { testTeachers(t, newStore(t)) })
	t.Run("Classes", func(t *testing.T) { testClasses(t, newStore(t)) })
	t.Run("Students", func(t *testing.T) { testStudents(t, newStore(t)) })
	t.Run("Catalogs", func(t *testing.T) { testCatalogs(t, newStore(t)) })
	t.Run("Progress", func(t *testing.T) { testProgress(t, newStore(t)) })
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testTeachers(t *testing.T, s storage.Store) {
	ctx := context.Background()
	teacher := &domain.Teacher{
		ID: "t1", Name: "Ada Lovelace", Email: "Ada@School.org", SchoolName: "Analytical",
		AcademyCode: "ADA-123", PasswordHash: "hash", CreatedAt: epoch,
	}
	if err := s.CreateTeacher(ctx, teacher); err != nil {
		t.Fatalf("CreateTeacher() error = %v", err)
	}

	got, err := s.GetTeacher(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTeacher() error = %v", err)
	}
	if got.Name != "Ada Lovelace" || got.PasswordHash != "hash" || !got.CreatedAt.Equal(epoch) {
		t.Errorf("GetTeacher() = %+v", got)
	}

	if _, err := s.GetTeacherByEmail(ctx, "ada@school.org"); err != nil {
		t.Errorf("GetTeacherByEmail() error = %v", err)
	}
	if _, err := s.GetTeacherByAcademyCode(ctx, " ada-123 "); err != nil {
		t.Errorf("GetTeacherByAcademyCode() error = %v", err)
	}
	if _, err := s.GetTeacher(ctx, "missing"); !errors.Is(err, domain.ErrTeacherNotFound) {
		t.Errorf("GetTeacher(missing) error = %v; want ErrTeacherNotFound", err)
	}
}

func testClasses(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i, name := range []string{"ALG-101", "GEO-202"} {
		c := &domain.Class{ID: name, TeacherID: "t1", Name: name, Code: name, TAKey: "W-KEY-1000", CreatedAt: epoch.Add(time.Duration(i) * time.Hour)}
		if err := s.SaveClass(ctx, c); err != nil {
			t.Fatalf("SaveClass() error = %v", err)
		}
	}

	classes, err := s.ListClasses(ctx, "t1")
	if err != nil {
		t.Fatalf("ListClasses() error = %v", err)
	}
	if len(classes) != 2 || classes[0].ID != "ALG-101" {
		t.Errorf("ListClasses() = %+v", classes)
	}

	c, err := s.GetClassByCode(ctx, "geo-202")
	if err != nil {
		t.Fatalf("GetClassByCode() error = %v", err)
	}
	c.TAKey = "W-KEY-9999"
	if err := s.SaveClass(ctx, c); err != nil {
		t.Fatalf("SaveClass(update) error = %v", err)
	}
	if c, _ = s.GetClass(ctx, "GEO-202"); c.TAKey != "W-KEY-9999" {
		t.Errorf("TAKey = %q; want W-KEY-9999", c.TAKey)
	}

	if err := s.DeleteClass(ctx, "ALG-101"); err != nil {
		t.Fatalf("DeleteClass() error = %v", err)
	}
	if _, err := s.GetClass(ctx, "ALG-101"); !errors.Is(err, domain.ErrClassNotFound) {
		t.Errorf("GetClass(deleted) error = %v; want ErrClassNotFound", err)
	}
	if err := s.DeleteClass(ctx, "ALG-101"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("DeleteClass(again) error = %v; want not found", err)
	}
}

func testStudents(t *testing.T, s storage.Store) {
	ctx := context.Background()
	students := []*domain.Student{
		{ID: "s1", Name: "Bo", Email: "bo@x.io", Status: domain.StatusApproved, ClassID: "c1", MasterKey: "t1", CreatedAt: epoch},
		{ID: "s2", Name: "Cy", Email: "cy@x.io", Status: domain.StatusPending, ClassID: "c1", MasterKey: "t1", CreatedAt: epoch},
		{ID: "s3", Name: "Di", Email: "di@x.io", Status: domain.StatusApproved, ClassID: "c2", MasterKey: "t2", CreatedAt: epoch},
	}
	for _, st := range students {
		if err := s.CreateStudent(ctx, st); err != nil {
			t.Fatalf("CreateStudent(%s) error = %v", st.ID, err)
		}
	}

	s1, err := s.GetStudentByEmail(ctx, "BO@x.io")
	if err != nil {
		t.Fatalf("GetStudentByEmail() error = %v", err)
	}
	s1.GlobalXP = 350
	s1.LanguageMastery = map[string]int{"Python": 350}
	s1.CompletedCatalogs = []string{"set1"}
	s1.UnlockedSets = []string{"set1", "set2"}
	if err := s.UpdateStudent(ctx, s1); err != nil {
		t.Fatalf("UpdateStudent() error = %v", err)
	}

	got, err := s.GetStudent(ctx, "s1")
	if err != nil {
		t.Fatalf("GetStudent() error = %v", err)
	}
	if got.GlobalXP != 350 || got.LanguageMastery["Python"] != 350 || len(got.UnlockedSets) != 2 || !got.HasUnlocked("set2") {
		t.Errorf("GetStudent() = %+v", got)
	}

	approved, err := s.ListStudents(ctx, storage.StudentFilter{TeacherID: "t1", Status: domain.StatusApproved})
	if err != nil {
		t.Fatalf("ListStudents() error = %v", err)
	}
	if len(approved) != 1 || approved[0].ID != "s1" {
		t.Errorf("ListStudents(approved) = %d students", len(approved))
	}

	byClass, _ := s.ListStudents(ctx, storage.StudentFilter{ClassID: "c1"})
	if len(byClass) != 2 {
		t.Errorf("ListStudents(class) = %d; want 2", len(byClass))
	}

	agg := domain.Aggregate{GlobalXP: 600, LanguageMastery: map[string]int{"Go": 250, "Python": 350}, CompletedCatalogs: []string{"set1", "set9"}}
	if err := s.UpdateStudentAggregate(ctx, "s1", agg); err != nil {
		t.Fatalf("UpdateStudentAggregate() error = %v", err)
	}
	got, _ = s.GetStudent(ctx, "s1")
	if got.GlobalXP != 600 || got.LanguageMastery["Go"] != 250 || len(got.CompletedCatalogs) != 2 {
		t.Errorf("aggregate = %+v", got.Aggregate)
	}
	if got.Status != domain.StatusApproved || len(got.UnlockedSets) != 2 {
		t.Error("UpdateStudentAggregate() touched non-derived fields")
	}
	if err := s.UpdateStudentAggregate(ctx, "ghost", agg); !errors.Is(err, domain.ErrStudentNotFound) {
		t.Errorf("UpdateStudentAggregate(ghost) error = %v; want ErrStudentNotFound", err)
	}

	if err := s.UpdateStudent(ctx, &domain.Student{ID: "ghost"}); !errors.Is(err, domain.ErrStudentNotFound) {
		t.Errorf("UpdateStudent(ghost) error = %v; want ErrStudentNotFound", err)
	}
}

func testCatalogs(t *testing.T, s storage.Store) {
	ctx := context.Background()
	three := 3
	zero := 0
	older := &domain.Catalog{
		ID: "set1", TeacherID: "t1", Title: "Loops", Language: "Python", Passcode: "LOOP",
		Missions:   []domain.Mission{{ID: "q1", Title: "Count", Tier: domain.TierEasy, Points: 100}},
		Thresholds: domain.Thresholds{Medium: &three, Hard: &zero},
		CreatedAt:  epoch,
	}
	newer := &domain.Catalog{
		ID: "set2", TeacherID: "t1", Title: "Maps", Language: "Go", Passcode: "MAPS", Public: true,
		Missions:  []domain.Mission{{ID: "q2", Title: "Word count", Tier: domain.TierMedium, Points: 250}},
		CreatedAt: epoch.Add(time.Hour),
	}
	for _, c := range []*domain.Catalog{older, newer} {
		if err := s.SaveCatalog(ctx, c); err != nil {
			t.Fatalf("SaveCatalog(%s) error = %v", c.ID, err)
		}
	}

	got, err := s.GetCatalog(ctx, "set1")
	if err != nil {
		t.Fatalf("GetCatalog() error = %v", err)
	}
	if len(got.Missions) != 1 || got.Missions[0].Tier != domain.TierEasy {
		t.Errorf("missions = %+v", got.Missions)
	}
	if got.Thresholds.For(domain.TierHard) != 0 || got.Thresholds.For(domain.TierChallenging) != domain.DefaultChallengingThreshold {
		t.Errorf("thresholds = %+v", got.Thresholds)
	}

	list, _ := s.ListCatalogsByTeacher(ctx, "t1")
	if len(list) != 2 || list[0].ID != "set2" {
		t.Errorf("ListCatalogsByTeacher() not newest first: %d", len(list))
	}
	public, _ := s.ListPublicCatalogs(ctx)
	if len(public) != 1 || public[0].ID != "set2" {
		t.Errorf("ListPublicCatalogs() = %d", len(public))
	}

	if c, err := s.FindCatalogByPasscode(ctx, "t1", "loop"); err != nil || c.ID != "set1" {
		t.Errorf("FindCatalogByPasscode() = %v, %v", c, err)
	}
	if _, err := s.FindCatalogByPasscode(ctx, "t2", "LOOP"); !errors.Is(err, domain.ErrCatalogNotFound) {
		t.Errorf("FindCatalogByPasscode(other teacher) error = %v", err)
	}

	if err := s.DeleteCatalog(ctx, "set1"); err != nil {
		t.Fatalf("DeleteCatalog() error = %v", err)
	}
	if _, err := s.GetCatalog(ctx, "set1"); !errors.Is(err, domain.ErrCatalogNotFound) {
		t.Errorf("GetCatalog(deleted) error = %v", err)
	}
}

func testProgress(t *testing.T, s storage.Store) {
	ctx := context.Background()
	catalog := &domain.Catalog{ID: "set1", Language: "Python", Missions: []domain.Mission{
		{ID: "q1", StarterCode: "pass", Tier: domain.TierEasy, Points: 100},
	}}

	p := domain.NewProgress(&domain.Student{ID: "s1", Name: "Bo", MasterKey: "t1", ClassID: "c1"}, catalog)
	p.Completed = append(p.Completed, "q1")
	p.Scores["q1"] = 100
	p.Drafts["q1"] = "print(1)"
	p.Feedback = []domain.FeedbackEntry{{Timestamp: epoch, MissionID: "q1", Success: true, Score: 100, Feedback: "ok"}}
	p.LastActive = epoch
	if err := s.SaveProgress(ctx, p); err != nil {
		t.Fatalf("SaveProgress() error = %v", err)
	}

	other := domain.NewProgress(&domain.Student{ID: "s2", MasterKey: "t1", ClassID: "c2"}, catalog)
	other.LastActive = epoch.Add(time.Minute)
	if err := s.SaveProgress(ctx, other); err != nil {
		t.Fatalf("SaveProgress(other) error = %v", err)
	}

	got, err := s.GetProgress(ctx, domain.ProgressID("s1", "set1"))
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if !got.IsCompleted("q1") || got.Scores["q1"] != 100 || got.Drafts["q1"] != "print(1)" || len(got.Feedback) != 1 {
		t.Errorf("GetProgress() = %+v", got)
	}
	if got.Language != "Python" || got.TeacherID != "t1" {
		t.Errorf("denormalized fields = %q, %q", got.Language, got.TeacherID)
	}

	all, _ := s.ListProgress(ctx, storage.ProgressFilter{TeacherID: "t1"})
	if len(all) != 2 || all[0].StudentID != "s2" {
		t.Errorf("ListProgress() not newest first")
	}
	byClass, _ := s.ListProgress(ctx, storage.ProgressFilter{ClassID: "c1", CatalogID: "set1"})
	if len(byClass) != 1 {
		t.Errorf("ListProgress(class) = %d; want 1", len(byClass))
	}

	if _, err := s.GetProgress(ctx, "nope"); !errors.Is(err, domain.ErrProgressNotFound) {
		t.Errorf("GetProgress(nope) error = %v; want ErrProgressNotFound", err)
	}
}
