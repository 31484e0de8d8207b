package domain

import "fmt"

// Role is the closed set of identities a signed-in principal can hold.
type Role int

const (
	RoleUnknown Role = iota
	RoleTeacher
	RoleStudentPending
	RoleStudentApproved
	RoleObserver
)

var roleNames = map[Role]string{
	RoleTeacher:         "teacher",
	RoleStudentPending:  "student_pending",
	RoleStudentApproved: "student_approved",
	RoleObserver:        "observer",
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return "unknown"
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return RoleUnknown, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, s)
}

// IsStudent reports whether r is either student variant.
func (r Role) IsStudent() bool {
	return r == RoleStudentPending || r == RoleStudentApproved
}

// CanViewRoster reports whether r may read class dashboards and reports.
func (r Role) CanViewRoster() bool {
	switch r {
	case RoleTeacher, RoleObserver:
		return true
	case RoleStudentPending, RoleStudentApproved, RoleUnknown:
		return false
	}
	return false
}

// StudentRole maps an enrollment status onto a role. Denied students have no
// role and are refused sign-in.
func StudentRole(status StudentStatus) (Role, error) {
	switch status {
	case StatusPending:
		return RoleStudentPending, nil
	case StatusApproved:
		return RoleStudentApproved, nil
	case StatusDenied:
		return RoleUnknown, ErrStudentDenied
	}
	return RoleUnknown, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
}

// Principal is an authenticated identity. For observers ClassID scopes every
// read; TeacherID is the owning teacher for all roles.
type Principal struct {
	Role      Role
	UserID    string
	TeacherID string
	ClassID   string
	Name      string
}
