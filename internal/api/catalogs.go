package api

import (
	"net/http"
	"time"

	"github.com/ecodeclub/ekit/slice"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/auth"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/authoring"
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

// CatalogSummary is a catalog without its passcode or missions.
type CatalogSummary struct {
	ID          string    `json:"id"`
	TeacherID   string    `json:"teacherId"`
	AuthorName  string    `json:"authorName"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	Missions    int       `json:"questionCount"`
	TotalPoints int       `json:"totalPoints"`
	Public      bool      `json:"isPublic"`
	CreatedAt   time.Time `json:"createdAt"`
}

func catalogSummary(c *domain.Catalog) CatalogSummary {
	return CatalogSummary{
		ID:          c.ID,
		TeacherID:   c.TeacherID,
		AuthorName:  c.AuthorName,
		Title:       c.Title,
		Description: c.Description,
		Language:    c.Language,
		Missions:    len(c.Missions),
		TotalPoints: c.TotalPoints(),
		Public:      c.Public,
		CreatedAt:   c.CreatedAt,
	}
}

// saveCatalog creates a catalog, or replaces one of the teacher's own when
// the body carries its id.
func (s *Server) saveCatalog(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	var c domain.Catalog
	if !decodeJSON(w, r, &c) {
		return
	}
	if c.ID != "" {
		existing, err := s.svc.Catalogs.GetOwned(r.Context(), p.UserID, c.ID)
		if err != nil {
			RespondError(w, r, err)
			return
		}
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = time.Time{}
	}
	c.TeacherID = p.UserID
	if c.AuthorName == "" {
		c.AuthorName = p.Name
	}

	saved, err := s.svc.Catalogs.Save(r.Context(), &c)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, saved)
}

func (s *Server) listCatalogs(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	catalogs, err := s.svc.Catalogs.ListByTeacher(r.Context(), p.UserID)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"catalogs": catalogs})
}

func (s *Server) listPublicCatalogs(w http.ResponseWriter, r *http.Request) {
	catalogs, err := s.svc.Catalogs.ListPublic(r.Context())
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"catalogs": slice.Map(catalogs, func(_ int, c *domain.Catalog) CatalogSummary { return catalogSummary(c) }),
	})
}

func (s *Server) getCatalog(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	c, err := s.svc.Catalogs.GetOwned(r.Context(), p.UserID, r.PathValue("id"))
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCatalog(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	if err := s.svc.Catalogs.Delete(r.Context(), p.UserID, r.PathValue("id")); err != nil {
		RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cloneCatalog(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	c, err := s.svc.Catalogs.Clone(r.Context(), r.PathValue("id"), p.UserID, p.Name)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, c)
}

func (s *Server) generateMissions(w http.ResponseWriter, r *http.Request) {
	if s.svc.Generator == nil {
		WriteError(w, r, http.StatusServiceUnavailable, NewAPIError("TUTOR_UNAVAILABLE", "mission generation is not configured"))
		return
	}
	var req authoring.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Tier != "" && !req.Tier.Valid() {
		RespondError(w, r, domain.ErrInvalidTier)
		return
	}
	missions, err := s.svc.Generator.Generate(r.Context(), req)
	if err != nil {
		RespondError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"missions": missions})
}
