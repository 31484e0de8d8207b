package domain

import (
	"fmt"
	"strings"
)

// Tier is a mission difficulty band. Tiers are linearly ordered and each one
// past Easy is gated behind completions in the tier before it.
type Tier string

const (
	TierEasy        Tier = "Easy"
	TierMedium      Tier = "Medium"
	TierHard        Tier = "Hard"
	TierChallenging Tier = "Challenging"
)

// Tiers lists every tier in unlock order.
var Tiers = []Tier{TierEasy, TierMedium, TierHard, TierChallenging}

// Index returns the tier's position in unlock order, or -1 when unknown.
func (t Tier) Index() int {
	for i, tier := range Tiers {
		if tier == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool {
	return t.Index() >= 0
}

// Previous returns the tier immediately below t. Easy has none.
func (t Tier) Previous() (Tier, bool) {
	i := t.Index()
	if i <= 0 {
		return "", false
	}
	return Tiers[i-1], true
}

// ParseTier resolves a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	for _, tier := range Tiers {
		if strings.EqualFold(strings.TrimSpace(s), string(tier)) {
			return tier, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
}

// DefaultPointsFor returns the conventional point value of a mission in t.
func DefaultPointsFor(t Tier) int {
	switch t {
	case TierEasy:
		return 100
	case TierMedium:
		return 250
	case TierHard:
		return 500
	case TierChallenging:
		return 1000
	default:
		return 0
	}
}
