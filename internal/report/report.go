// Package report builds roster tables and analytics from a snapshot of a
// teacher's students, classes, catalogs and progress, and renders them as
// CSV or PDF.
package report

import (
	"math"
	"sort"
	"strconv"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/progress"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/progression"
)

// Audience selects the column layout.
type Audience int

const (
	AudienceTeacher Audience = iota
	AudienceObserver
)

// Snapshot is the data a report is built from.
type Snapshot struct {
	Students []*domain.Student
	Classes  []*domain.Class
	Catalogs []*domain.Catalog
	Progress []*domain.Progress
}

func (s *Snapshot) className(id string) string {
	for _, c := range s.Classes {
		if c.ID == id {
			return c.Name
		}
	}
	return "Unassigned"
}

func (s *Snapshot) catalog(id string) *domain.Catalog {
	for _, c := range s.Catalogs {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Snapshot) record(studentID, catalogID string) *domain.Progress {
	for _, p := range s.Progress {
		if p.StudentID == studentID && p.CatalogID == catalogID {
			return p
		}
	}
	return nil
}

func (s *Snapshot) recordCount(studentID string) int {
	n := 0
	for _, p := range s.Progress {
		if p.StudentID == studentID {
			n++
		}
	}
	return n
}

// Options filter and order a roster table.
type Options struct {
	Audience  Audience
	ClassID   string
	CatalogID string
	// Ascending sorts by points low to high. The default is high to low.
	Ascending bool
}

// Table is a rendered roster.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Roster builds the roster table for opts. Teachers see approved students
// only; with a catalog selected, only students who opened it. Observers see
// every student of their class.
func Roster(snap *Snapshot, opts Options) Table {
	cat := snap.catalog(opts.CatalogID)

	type row struct {
		student *domain.Student
		points  int
	}
	var rows []row
	for _, st := range snap.Students {
		if opts.ClassID != "" && st.ClassID != opts.ClassID {
			continue
		}
		if opts.Audience == AudienceTeacher {
			if st.Status != domain.StatusApproved {
				continue
			}
			if cat != nil && snap.record(st.ID, cat.ID) == nil {
				continue
			}
		}
		points := st.GlobalXP
		if cat != nil {
			points = 0
			if p := snap.record(st.ID, cat.ID); p != nil {
				points = p.TotalScore()
			}
		}
		rows = append(rows, row{student: st, points: points})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if opts.Ascending {
			return rows[i].points < rows[j].points
		}
		return rows[i].points > rows[j].points
	})

	t := Table{Title: "Global Roster"}
	if cat != nil {
		t.Title = cat.Title
	}
	switch opts.Audience {
	case AudienceObserver:
		t.Headers = []string{"Explorer", "Email", "Class", "Status"}
		if cat != nil {
			t.Headers = append(t.Headers, "Points ("+cat.Title+")", "Node Progress %")
		} else {
			t.Headers = append(t.Headers, "Total Global XP", "Active Mission Packs")
		}
	default:
		t.Headers = []string{"Explorer Name", "Email", "Classroom", "Global XP"}
		if cat != nil {
			t.Headers = append(t.Headers, "Node XP ("+cat.Title+")", "Node Completion %")
		} else {
			t.Headers = append(t.Headers, "Completed Nodes Count")
		}
	}

	for _, r := range rows {
		st := r.student
		var line []string
		if opts.Audience == AudienceObserver {
			line = []string{st.Name, st.Email, snap.className(st.ClassID), string(st.Status)}
			if cat == nil {
				line = append(line, strconv.Itoa(st.GlobalXP), strconv.Itoa(snap.recordCount(st.ID)))
			}
		} else {
			line = []string{st.Name, st.Email, snap.className(st.ClassID), strconv.Itoa(st.GlobalXP)}
			if cat == nil {
				line = append(line, strconv.Itoa(snap.recordCount(st.ID)))
			}
		}
		if cat != nil {
			line = append(line, strconv.Itoa(r.points), completionPercent(cat, snap.record(st.ID, cat.ID)))
		}
		t.Rows = append(t.Rows, line)
	}
	return t
}

func completionPercent(cat *domain.Catalog, p *domain.Progress) string {
	if p == nil {
		return "0%"
	}
	return strconv.Itoa(roundPercent(progression.CompletionRate(cat, p))) + "%"
}

func roundPercent(rate float64) int {
	return int(math.Round(rate * 100))
}

// CatalogStat is the completion summary of one catalog.
type CatalogStat struct {
	CatalogID      string `json:"id"`
	Title          string `json:"title"`
	Language       string `json:"language"`
	Missions       int    `json:"missions"`
	CompletionRate int    `json:"completionRate"`
}

// Analytics summarises a snapshot.
type Analytics struct {
	TotalXP  int                `json:"totalXp"`
	AvgXP    int                `json:"avgXp"`
	Approved int                `json:"approvedStudents"`
	Pending  int                `json:"pendingStudents"`
	Catalogs []CatalogStat      `json:"packStats"`
	Recent   []progress.Summary `json:"recentActivity"`
}

// RecentActivityLimit bounds Analytics.Recent.
const RecentActivityLimit = 5

// Analyze computes XP totals over approved students and the share of
// approved students that completed every mission of each catalog.
func Analyze(snap *Snapshot) Analytics {
	var a Analytics
	approved := make(map[string]bool)
	for _, st := range snap.Students {
		switch st.Status {
		case domain.StatusApproved:
			approved[st.ID] = true
			a.Approved++
			a.TotalXP += st.GlobalXP
		case domain.StatusPending:
			a.Pending++
		}
	}
	if a.Approved > 0 {
		a.AvgXP = a.TotalXP / a.Approved
	}

	a.Catalogs = make([]CatalogStat, 0, len(snap.Catalogs))
	for _, c := range snap.Catalogs {
		done := 0
		for _, p := range snap.Progress {
			if p.CatalogID == c.ID && approved[p.StudentID] && progression.FullyCompleted(c, p) {
				done++
			}
		}
		stat := CatalogStat{CatalogID: c.ID, Title: c.Title, Language: c.Language, Missions: len(c.Missions)}
		if a.Approved > 0 {
			stat.CompletionRate = roundPercent(float64(done) / float64(a.Approved))
		}
		a.Catalogs = append(a.Catalogs, stat)
	}
	a.Recent = recent(snap.Progress, RecentActivityLimit)
	return a
}

func recent(records []*domain.Progress, n int) []progress.Summary {
	sorted := make([]*domain.Progress, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastActive.After(sorted[j].LastActive)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]progress.Summary, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, progress.Summarize(p))
	}
	return out
}
