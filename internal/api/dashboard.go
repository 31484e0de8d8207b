package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/auth"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/dashboard"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/realtime"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/report"
)

func (s *Server) scope(w http.ResponseWriter, r *http.Request) (dashboard.Scope, bool) {
	p, _ := auth.PrincipalFrom(r.Context())
	scope, err := dashboard.ScopeFor(p)
	if err != nil {
		RespondError(w, r, err)
		return dashboard.Scope{}, false
	}
	return scope, true
}

func (s *Server) dashboardProgress(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w, r)
	if !ok {
		return
	}
	records, err := s.svc.Dashboard.Progress(r.Context(), scope, r.URL.Query().Get("catalog"))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"progress": records})
}

func (s *Server) dashboardAnalytics(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w, r)
	if !ok {
		return
	}
	a, err := s.svc.Dashboard.Analytics(r.Context(), scope)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, a)
}

// reportOptions reads ?class=&catalog=&sort=asc.
func reportOptions(r *http.Request) report.Options {
	q := r.URL.Query()
	return report.Options{
		ClassID:   q.Get("class"),
		CatalogID: q.Get("catalog"),
		Ascending: q.Get("sort") == "asc",
	}
}

func (s *Server) rosterTable(w http.ResponseWriter, r *http.Request) (report.Table, bool) {
	scope, ok := s.scope(w, r)
	if !ok {
		return report.Table{}, false
	}
	t, err := s.svc.Dashboard.Roster(r.Context(), scope, reportOptions(r))
	if err != nil {
		RespondError(w, r, err)
		return report.Table{}, false
	}
	return t, true
}

func attachment(w http.ResponseWriter, contentType, ext string) {
	name := fmt.Sprintf("guild-roster-%s.%s", time.Now().UTC().Format("2006-01-02"), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
}

func (s *Server) rosterCSV(w http.ResponseWriter, r *http.Request) {
	t, ok := s.rosterTable(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, t); err != nil {
		RespondError(w, r, err)
		return
	}
	attachment(w, "text/csv; charset=utf-8", "csv")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) rosterPDF(w http.ResponseWriter, r *http.Request) {
	t, ok := s.rosterTable(w, r)
	if !ok {
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())
	var buf bytes.Buffer
	if err := report.WritePDF(&buf, "Guild roster for "+p.Name, t, time.Now()); err != nil {
		RespondError(w, r, err)
		return
	}
	attachment(w, "application/pdf", "pdf")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// live upgrades to a websocket carrying the events of the caller's scope.
func (s *Server) live(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w, r)
	if !ok {
		return
	}
	filter := realtime.ForTeacher(scope.TeacherID)
	if scope.ClassID != "" {
		filter = realtime.ForClass(scope.TeacherID, scope.ClassID)
	}
	s.svc.Live.Serve(w, r, filter)
}
