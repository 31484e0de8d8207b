package domain

import (
	"fmt"
	"time"
)

// StudentStatus is the approval state of a student enrollment.
type StudentStatus string

const (
	StatusPending  StudentStatus = "pending"
	StatusApproved StudentStatus = "approved"
	StatusDenied   StudentStatus = "denied"
)

// ParseStudentStatus validates a status string.
func ParseStudentStatus(s string) (StudentStatus, error) {
	switch st := StudentStatus(s); st {
	case StatusPending, StatusApproved, StatusDenied:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Teacher owns classes and catalogs. Students enroll using the teacher's
// academy code as their master key.
type Teacher struct {
	ID           string    `json:"uid"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	SchoolName   string    `json:"schoolName"`
	AcademyCode  string    `json:"academyCode"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Class groups students under a teacher. Observers sign in with the class TA key.
type Class struct {
	ID        string    `json:"id"`
	TeacherID string    `json:"teacherId"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	TAKey     string    `json:"taKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// Student is an enrolled learner. The aggregate fields are derived from the
// student's progress records and are only written by the profile reducer.
type Student struct {
	ID           string        `json:"uid"`
	Name         string        `json:"name"`
	Email        string        `json:"email"`
	PasswordHash string        `json:"-"`
	Status       StudentStatus `json:"status"`
	ClassID      string        `json:"classId"`
	MasterKey    string        `json:"masterKey"`
	UnlockedSets []string      `json:"unlockedSets"`
	Aggregate
	CreatedAt time.Time `json:"createdAt"`
}

// HasUnlocked reports whether the student has entered the passcode of catalogID.
func (s *Student) HasUnlocked(catalogID string) bool {
	for _, id := range s.UnlockedSets {
		if id == catalogID {
			return true
		}
	}
	return false
}
