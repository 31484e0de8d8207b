package progression

import (
	"strings"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

// IsStaged reports whether mission holds unsynced work: its draft differs from
// the starter code after trimming and it is not completed yet. Edits made after
// completion are not staged.
func IsStaged(mission domain.Mission, progress *domain.Progress) bool {
	if progress == nil || progress.IsCompleted(mission.ID) {
		return false
	}
	draft := progress.Draft(mission.ID, mission.StarterCode)
	return strings.TrimSpace(draft) != strings.TrimSpace(mission.StarterCode)
}

// StagedMissions returns every staged mission in catalog order.
func StagedMissions(catalog *domain.Catalog, progress *domain.Progress) []domain.Mission {
	var staged []domain.Mission
	for _, m := range catalog.Missions {
		if IsStaged(m, progress) {
			staged = append(staged, m)
		}
	}
	return staged
}
