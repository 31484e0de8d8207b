// Package progression holds the mission progression rules: tier gating,
// score commits, staged-draft detection and the profile reducer.
package progression

import (
	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

// CompletedIn counts completed missions of catalog that belong to tier.
func CompletedIn(catalog *domain.Catalog, progress *domain.Progress, tier domain.Tier) int {
	if progress == nil {
		return 0
	}
	n := 0
	for _, m := range catalog.Missions {
		if m.Tier == tier && progress.IsCompleted(m.ID) {
			n++
		}
	}
	return n
}

// IsTierUnlocked reports whether tier is open to the student. Easy is always
// open; every other tier needs the threshold met by completions in the tier
// immediately below it, never by a cumulative count.
func IsTierUnlocked(catalog *domain.Catalog, progress *domain.Progress, tier domain.Tier) bool {
	prev, ok := tier.Previous()
	if !ok {
		return tier == domain.TierEasy
	}
	return CompletedIn(catalog, progress, prev) >= catalog.Thresholds.For(tier)
}

// TierState describes one tier as seen by a student.
type TierState struct {
	Tier      domain.Tier `json:"tier"`
	Unlocked  bool        `json:"unlocked"`
	Completed int         `json:"completed"`
	Total     int         `json:"total"`
	Required  int         `json:"required"`
}

// Tiers returns the state of every tier in unlock order.
func Tiers(catalog *domain.Catalog, progress *domain.Progress) []TierState {
	out := make([]TierState, 0, len(domain.Tiers))
	for _, t := range domain.Tiers {
		out = append(out, TierState{
			Tier:      t,
			Unlocked:  IsTierUnlocked(catalog, progress, t),
			Completed: CompletedIn(catalog, progress, t),
			Total:     len(catalog.MissionsIn(t)),
			Required:  catalog.Thresholds.For(t),
		})
	}
	return out
}

// MissionUnlocked reports whether the tier of missionID is open.
func MissionUnlocked(catalog *domain.Catalog, progress *domain.Progress, missionID string) (bool, error) {
	m, ok := catalog.Mission(missionID)
	if !ok {
		return false, domain.ErrMissionNotFound
	}
	return IsTierUnlocked(catalog, progress, m.Tier), nil
}
