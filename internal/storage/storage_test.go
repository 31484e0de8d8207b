package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

func TestWrap(t *testing.T) {
	if Wrap("save progress", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}

	err := Wrap("save progress", domain.ErrProgressNotFound)
	if !errors.Is(err, domain.ErrProgressNotFound) {
		t.Errorf("Wrap() lost the cause: %v", err)
	}
	if !strings.HasPrefix(err.Error(), "save progress: ") {
		t.Errorf("Wrap() = %q; want operation prefix", err.Error())
	}
	if errors.Is(err, domain.ErrPermissionDenied) {
		t.Error("not-found should not be a permission failure")
	}

	perm := Wrap("list students", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission})
	if !errors.Is(perm, domain.ErrPermissionDenied) {
		t.Errorf("Wrap() = %v; want ErrPermissionDenied", perm)
	}

	already := Wrap("get class", fmt.Errorf("%w: role", domain.ErrPermissionDenied))
	if strings.Count(already.Error(), "permission denied") != 1 {
		t.Errorf("Wrap() = %q; permission repeated", already.Error())
	}
}

func TestFilters(t *testing.T) {
	s := &domain.Student{MasterKey: "t1", ClassID: "c1", Status: domain.StatusApproved}
	tests := []struct {
		f    StudentFilter
		want bool
	}{
		{StudentFilter{}, true},
		{StudentFilter{TeacherID: "t1"}, true},
		{StudentFilter{TeacherID: "t2"}, false},
		{StudentFilter{ClassID: "c1", Status: domain.StatusApproved}, true},
		{StudentFilter{Status: domain.StatusPending}, false},
	}
	for _, tt := range tests {
		if got := tt.f.Matches(s); got != tt.want {
			t.Errorf("%+v.Matches() = %v; want %v", tt.f, got, tt.want)
		}
	}

	p := &domain.Progress{StudentID: "s1", TeacherID: "t1", ClassID: "c1", CatalogID: "set1"}
	if !(ProgressFilter{TeacherID: "t1", CatalogID: "set1"}).Matches(p) {
		t.Error("progress filter should match")
	}
	if (ProgressFilter{ClassID: "c2"}).Matches(p) {
		t.Error("progress filter should not match other class")
	}
}
