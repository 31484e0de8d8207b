// Package realtime carries progress and roster events to dashboard clients.
package realtime

import (
	"encoding/json"
	"time"
)

// Event types.
const (
	EventProgressUpdated = "progress.updated"
	EventProfileUpdated  = "profile.updated"
	EventRosterUpdated   = "roster.updated"
	EventSyncFinished    = "sync.finished"
)

// Event is one change notification. The scope fields decide which
// dashboards receive it.
type Event struct {
	Type      string          `json:"type"`
	TeacherID string          `json:"teacherId,omitempty"`
	ClassID   string          `json:"classId,omitempty"`
	StudentID string          `json:"studentId,omitempty"`
	CatalogID string          `json:"catalogId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}

// NewEvent builds an event with data encoded as JSON. Encoding failures
// leave Data empty.
func NewEvent(typ string, data any) Event {
	ev := Event{Type: typ, At: time.Now().UTC()}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			ev.Data = b
		}
	}
	return ev
}

// Filter selects the events a subscriber wants.
type Filter func(Event) bool

// ForTeacher matches events in a teacher's academy.
func ForTeacher(teacherID string) Filter {
	return func(ev Event) bool { return ev.TeacherID == teacherID }
}

// ForClass matches events of one class.
func ForClass(teacherID, classID string) Filter {
	return func(ev Event) bool { return ev.TeacherID == teacherID && ev.ClassID == classID }
}
