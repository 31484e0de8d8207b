package api

import (
	"net/http"
	"strconv"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/auth"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

type createClassRequest struct {
	Name string `json:"name"`
}

func (s *Server) createClass(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var req createClassRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.svc.Roster.CreateClass(r.Context(), p.UserID, req.Name)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, c)
}

func (s *Server) listClasses(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	classes, err := s.svc.Roster.ListClasses(r.Context(), p.UserID)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"classes": classes})
}

func (s *Server) deleteClass(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	if err := s.svc.Roster.DeleteClass(r.Context(), p.UserID, r.PathValue("id")); err != nil {
		RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) regenerateTAKey(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	c, err := s.svc.Roster.RegenerateTAKey(r.Context(), p.UserID, r.PathValue("id"))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// listStudents serves the approval queue (?status=pending) and the
// approved roster. An empty status lists everyone.
func (s *Server) listStudents(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	q := r.URL.Query()

	var status domain.StudentStatus
	if raw := q.Get("status"); raw != "" {
		var err error
		if status, err = domain.ParseStudentStatus(raw); err != nil {
			RespondError(w, r, err)
			return
		}
	}
	students, err := s.svc.Roster.ListStudents(r.Context(), p.UserID, status, q.Get("class"))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"students": students})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) setStudentStatus(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := domain.ParseStudentStatus(req.Status)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	st, err := s.svc.Roster.SetStudentStatus(r.Context(), p.UserID, r.PathValue("id"), status)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			BadRequest(w, r, "n must be a non-negative integer")
			return
		}
		n = v
	}
	board, err := s.svc.Roster.Leaderboard(r.Context(), p.TeacherID, n)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"leaderboard": board})
}

type unlockRequest struct {
	TeacherID string `json:"teacherId"`
	Passcode  string `json:"passcode"`
}

func (s *Server) unlockCatalog(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var req unlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.svc.Roster.UnlockCatalog(r.Context(), p.UserID, req.TeacherID, req.Passcode)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, catalogSummary(c))
}
