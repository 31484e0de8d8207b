package domain

import (
	"time"
)

// MaxFeedbackEntries bounds the per-progress feedback log.
const MaxFeedbackEntries = 15

// FeedbackEntry records the outcome of one evaluation.
type FeedbackEntry struct {
	Timestamp time.Time `json:"timestamp"`
	MissionID string    `json:"questionId"`
	Success   bool      `json:"success"`
	Score     int       `json:"score"`
	Feedback  string    `json:"feedback"`
}

// Progress is the per-student, per-catalog record of completions, best
// scores, drafts and recent feedback.
type Progress struct {
	ID          string            `json:"id"`
	StudentID   string            `json:"studentUid"`
	StudentName string            `json:"studentName"`
	TeacherID   string            `json:"teacherId"`
	ClassID     string            `json:"classId"`
	CatalogID   string            `json:"questionSetId"`
	Language    string            `json:"language"`
	Completed   []string          `json:"completedQuestions"`
	Scores      map[string]int    `json:"scores"`
	Drafts      map[string]string `json:"draftCodes"`
	Feedback    []FeedbackEntry   `json:"feedbackHistory"`
	LastActive  time.Time         `json:"lastActive"`
}

// ProgressID derives the stable record id for a student and catalog pair.
func ProgressID(studentID, catalogID string) string {
	return studentID + "_" + catalogID
}

// NewProgress creates an empty record for student in catalog, with every
// draft seeded from the mission's starter code.
func NewProgress(student *Student, catalog *Catalog) *Progress {
	p := &Progress{
		ID:          ProgressID(student.ID, catalog.ID),
		StudentID:   student.ID,
		StudentName: student.Name,
		TeacherID:   student.MasterKey,
		ClassID:     student.ClassID,
		CatalogID:   catalog.ID,
		Language:    catalog.Language,
		Completed:   []string{},
		Scores:      make(map[string]int),
		Drafts:      make(map[string]string, len(catalog.Missions)),
		Feedback:    []FeedbackEntry{},
	}
	for _, m := range catalog.Missions {
		p.Drafts[m.ID] = m.StarterCode
	}
	return p
}

// IsCompleted reports whether missionID is in the completed set.
func (p *Progress) IsCompleted(missionID string) bool {
	for _, id := range p.Completed {
		if id == missionID {
			return true
		}
	}
	return false
}

// TotalScore sums the best score of every mission in the record.
func (p *Progress) TotalScore() int {
	total := 0
	for _, s := range p.Scores {
		total += s
	}
	return total
}

// Draft returns the saved draft for missionID, falling back to the given
// starter code when nothing has been saved.
func (p *Progress) Draft(missionID, starter string) string {
	if d, ok := p.Drafts[missionID]; ok {
		return d
	}
	return starter
}

// Clone returns a deep copy so callers can mutate without sharing maps.
func (p *Progress) Clone() *Progress {
	if p == nil {
		return nil
	}
	c := *p
	c.Completed = append([]string(nil), p.Completed...)
	c.Scores = make(map[string]int, len(p.Scores))
	for k, v := range p.Scores {
		c.Scores[k] = v
	}
	c.Drafts = make(map[string]string, len(p.Drafts))
	for k, v := range p.Drafts {
		c.Drafts[k] = v
	}
	c.Feedback = append([]FeedbackEntry(nil), p.Feedback...)
	return &c
}

// Normalize replaces nil collections with empty ones, as produced by stores
// that omit empty fields.
func (p *Progress) Normalize() {
	if p.Completed == nil {
		p.Completed = []string{}
	}
	if p.Scores == nil {
		p.Scores = make(map[string]int)
	}
	if p.Drafts == nil {
		p.Drafts = make(map[string]string)
	}
	if p.Feedback == nil {
		p.Feedback = []FeedbackEntry{}
	}
}
