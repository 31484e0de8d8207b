package api

import (
	"net/http"
	"time"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/auth"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/roster"
)

// TokenResponse is returned by every sign-in endpoint.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Role      string    `json:"role"`
	UserID    string    `json:"userId"`
	Account   any       `json:"account,omitempty"`
}

func (s *Server) respondToken(w http.ResponseWriter, r *http.Request, status int, p domain.Principal, account any) {
	token, exp, err := s.svc.Tokens.Issue(p)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, status, TokenResponse{
		Token:     token,
		ExpiresAt: exp,
		Role:      p.Role.String(),
		UserID:    p.UserID,
		Account:   account,
	})
}

func (s *Server) registerTeacher(w http.ResponseWriter, r *http.Request) {
	var req roster.TeacherSignup
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.svc.Roster.RegisterTeacher(r.Context(), req)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	s.respondToken(w, r, http.StatusCreated, roster.TeacherPrincipal(t), t)
}

// registerStudent enrolls a pending student. The token it returns only
// reaches /v1/me until a teacher approves the enrollment and the student
// signs in again.
func (s *Server) registerStudent(w http.ResponseWriter, r *http.Request) {
	var req roster.StudentSignup
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := s.svc.Roster.RegisterStudent(r.Context(), req)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	p, err := roster.StudentPrincipal(st)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	s.respondToken(w, r, http.StatusCreated, p, st)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	acct, err := s.svc.Roster.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	var account any = acct.Teacher
	if acct.Student != nil {
		account = acct.Student
	}
	s.respondToken(w, r, http.StatusOK, acct.Principal, account)
}

type observerRequest struct {
	AcademyCode string `json:"academyCode"`
	TAKey       string `json:"taKey"`
}

func (s *Server) observerLogin(w http.ResponseWriter, r *http.Request) {
	var req observerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, class, err := s.svc.Roster.ObserverLogin(r.Context(), req.AcademyCode, req.TAKey)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	s.respondToken(w, r, http.StatusOK, p, observedClass(class))
}

// observedClass hides the TA key from the observer it was given to.
func observedClass(c *domain.Class) map[string]string {
	return map[string]string{"id": c.ID, "name": c.Name, "code": c.Code, "teacherId": c.TeacherID}
}

// MeResponse describes the signed-in principal.
type MeResponse struct {
	Role      string `json:"role"`
	UserID    string `json:"userId"`
	TeacherID string `json:"teacherId,omitempty"`
	ClassID   string `json:"classId,omitempty"`
	Name      string `json:"name"`
	Profile   any    `json:"profile,omitempty"`
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	resp := MeResponse{
		Role:      p.Role.String(),
		UserID:    p.UserID,
		TeacherID: p.TeacherID,
		ClassID:   p.ClassID,
		Name:      p.Name,
	}

	var err error
	switch p.Role {
	case domain.RoleTeacher:
		resp.Profile, err = s.svc.Roster.GetTeacher(r.Context(), p.UserID)
	case domain.RoleStudentPending, domain.RoleStudentApproved:
		resp.Profile, err = s.svc.Roster.Profile(r.Context(), p.UserID)
	case domain.RoleObserver:
		var c *domain.Class
		if c, err = s.svc.Store.GetClass(r.Context(), p.ClassID); err == nil {
			resp.Profile = observedClass(c)
		}
	}
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}
