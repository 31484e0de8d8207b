package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Default unlock thresholds, counted in completions of the preceding tier.
const (
	DefaultMediumThreshold      = 3
	DefaultHardThreshold        = 3
	DefaultChallengingThreshold = 2
)

// Mission is a single coding exercise inside a catalog.
type Mission struct {
	ID           string `json:"id" yaml:"id"`
	Title        string `json:"title" yaml:"title"`
	Description  string `json:"description" yaml:"description"`
	StarterCode  string `json:"starterCode" yaml:"starter_code"`
	SolutionHint string `json:"solutionHint" yaml:"solution_hint"`
	Tier         Tier   `json:"difficulty" yaml:"difficulty"`
	Points       int    `json:"points" yaml:"points"`
}

// Thresholds holds the per-tier unlock counts of a catalog. A nil field means
// the default applies; an explicit zero unlocks the tier unconditionally.
type Thresholds struct {
	Medium      *int `json:"unlockEasyToMedium,omitempty" yaml:"medium,omitempty"`
	Hard        *int `json:"unlockMediumToHard,omitempty" yaml:"hard,omitempty"`
	Challenging *int `json:"unlockHardToChallenging,omitempty" yaml:"challenging,omitempty"`
}

// For returns the number of completions in the preceding tier required to
// unlock t. Easy always returns 0.
func (th Thresholds) For(t Tier) int {
	switch t {
	case TierMedium:
		return valueOr(th.Medium, DefaultMediumThreshold)
	case TierHard:
		return valueOr(th.Hard, DefaultHardThreshold)
	case TierChallenging:
		return valueOr(th.Challenging, DefaultChallengingThreshold)
	default:
		return 0
	}
}

// WithDefaults returns a copy with every unset threshold filled in.
func (th Thresholds) WithDefaults() Thresholds {
	m, h, c := th.For(TierMedium), th.For(TierHard), th.For(TierChallenging)
	return Thresholds{Medium: &m, Hard: &h, Challenging: &c}
}

func valueOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// Catalog is a teacher-authored mission pack for one programming language.
type Catalog struct {
	ID          string     `json:"id"`
	TeacherID   string     `json:"teacherId"`
	AuthorName  string     `json:"authorName"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Language    string     `json:"language"`
	Passcode    string     `json:"passcode"`
	Missions    []Mission  `json:"questions"`
	Public      bool       `json:"isPublic"`
	Thresholds  Thresholds `json:"thresholds"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Mission looks up a mission by id.
func (c *Catalog) Mission(id string) (Mission, bool) {
	for _, m := range c.Missions {
		if m.ID == id {
			return m, true
		}
	}
	return Mission{}, false
}

// MissionsIn returns the catalog's missions in tier t, in catalog order.
func (c *Catalog) MissionsIn(t Tier) []Mission {
	var out []Mission
	for _, m := range c.Missions {
		if m.Tier == t {
			out = append(out, m)
		}
	}
	return out
}

// TotalPoints sums the point value of every mission.
func (c *Catalog) TotalPoints() int {
	total := 0
	for _, m := range c.Missions {
		total += m.Points
	}
	return total
}

// SortMissions orders missions by tier, then by ascending points. The sort is
// stable so equal missions keep their authoring order.
func SortMissions(missions []Mission) {
	sort.SliceStable(missions, func(i, j int) bool {
		ti, tj := missions[i].Tier.Index(), missions[j].Tier.Index()
		if ti != tj {
			return ti < tj
		}
		return missions[i].Points < missions[j].Points
	})
}

// Validate checks the fields required before a catalog can be saved.
func (c *Catalog) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidCatalog)
	}
	if strings.TrimSpace(c.Passcode) == "" {
		return fmt.Errorf("%w: passcode is required", ErrInvalidCatalog)
	}
	if len(c.Missions) == 0 {
		return fmt.Errorf("%w: at least one mission is required", ErrInvalidCatalog)
	}
	seen := make(map[string]bool, len(c.Missions))
	for i, m := range c.Missions {
		if !m.Tier.Valid() {
			return fmt.Errorf("%w: mission %d: %q", ErrInvalidTier, i, m.Tier)
		}
		if strings.TrimSpace(m.Title) == "" {
			return fmt.Errorf("%w: mission %d has no title", ErrInvalidCatalog, i)
		}
		if m.Points < 0 {
			return fmt.Errorf("%w: mission %q has negative points", ErrInvalidCatalog, m.Title)
		}
		if m.ID != "" {
			if seen[m.ID] {
				return fmt.Errorf("%w: duplicate mission id %q", ErrInvalidCatalog, m.ID)
			}
			seen[m.ID] = true
		}
	}
	for _, t := range []Tier{TierMedium, TierHard, TierChallenging} {
		if c.Thresholds.For(t) < 0 {
			return fmt.Errorf("%w: negative %s threshold", ErrInvalidCatalog, t)
		}
	}
	return nil
}
