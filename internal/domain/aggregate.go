package domain

// Aggregate is the derived XP summary stored on a student profile.
type Aggregate struct {
	GlobalXP          int            `json:"globalXp"`
	LanguageMastery   map[string]int `json:"languageMastery"`
	CompletedCatalogs []string       `json:"completedSets"`
}

// XPPerLevel is the XP span of one trophy level.
const XPPerLevel = 500

// Level returns the trophy level for xp, starting at 1.
func Level(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return xp/XPPerLevel + 1
}
