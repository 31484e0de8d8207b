package domain

import (
	"errors"
	"regexp"
	"testing"
)

func TestStudentRole(t *testing.T) {
	tests := []struct {
		status  StudentStatus
		want    Role
		wantErr error
	}{
		{StatusPending, RoleStudentPending, nil},
		{StatusApproved, RoleStudentApproved, nil},
		{StatusDenied, RoleUnknown, ErrStudentDenied},
		{StudentStatus("banned"), RoleUnknown, ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got, err := StudentRole(tt.status)
			if got != tt.want {
				t.Errorf("StudentRole(%q) = %v; want %v", tt.status, got, tt.want)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("StudentRole(%q) error = %v; want %v", tt.status, err, tt.wantErr)
			}
		})
	}
}

func TestRole_StringRoundTrip(t *testing.T) {
	for _, r := range []Role{RoleTeacher, RoleStudentPending, RoleStudentApproved, RoleObserver} {
		got, err := ParseRole(r.String())
		if err != nil || got != r {
			t.Errorf("ParseRole(%q) = %v, %v; want %v", r.String(), got, err, r)
		}
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Error("ParseRole(admin) should fail")
	}
}

func TestRole_CanViewRoster(t *testing.T) {
	if !RoleTeacher.CanViewRoster() || !RoleObserver.CanViewRoster() {
		t.Error("teacher and observer should view the roster")
	}
	if RoleStudentApproved.CanViewRoster() {
		t.Error("students should not view the roster")
	}
}

func TestCodes(t *testing.T) {
	academy := regexp.MustCompile(`^ADA-[1-9][0-9]{2}$`)
	if code := NewAcademyCode("Ada Lovelace"); !academy.MatchString(code) {
		t.Errorf("NewAcademyCode = %q; want ADA-NNN", code)
	}

	class := regexp.MustCompile(`^PYT-[1-9][0-9]{2}$`)
	if code := NewClassCode("python 101"); !class.MatchString(code) {
		t.Errorf("NewClassCode = %q; want PYT-NNN", code)
	}
	if code := NewClassCode("Q"); code[:3] != "QXX" {
		t.Errorf("NewClassCode(Q) = %q; want QXX prefix", code)
	}

	ta := regexp.MustCompile(`^W-KEY-[1-9][0-9]{3}$`)
	if key := NewTAKey(); !ta.MatchString(key) {
		t.Errorf("NewTAKey = %q; want W-KEY-NNNN", key)
	}

	if got := NormalizeCode(" ada-417 "); got != "ADA-417" {
		t.Errorf("NormalizeCode = %q; want ADA-417", got)
	}
}

func TestSuffix_StaysInRange(t *testing.T) {
	seen := map[int64]bool{}
	for i := 0; i < 2000; i++ {
		n := suffix(1000, 9000)
		if n < 1000 || n > 9999 {
			t.Fatalf("suffix(1000, 9000) = %d; want 1000..9999", n)
		}
		seen[n] = true
	}
	if len(seen) < 100 {
		t.Errorf("distinct suffixes = %d; want a spread of values", len(seen))
	}
}
