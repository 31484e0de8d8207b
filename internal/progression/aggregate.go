package progression

import (
	"sort"

	"github.com/RuiYan2022/Polyglot-Guild-2/internal/domain"
)

// Aggregate reduces all of a student's progress records to profile totals.
// It is pure: the result depends only on the set of records, not their order,
// and calling it twice yields the same value.
//
// CompletedCatalogs lists every catalog with a progress record, whether or not
// each mission in it was completed.
func Aggregate(records []*domain.Progress) domain.Aggregate {
	agg := domain.Aggregate{
		LanguageMastery:   make(map[string]int),
		CompletedCatalogs: []string{},
	}
	seen := make(map[string]bool)
	for _, p := range records {
		if p == nil {
			continue
		}
		total := p.TotalScore()
		agg.GlobalXP += total
		agg.LanguageMastery[p.Language] += total
		if !seen[p.CatalogID] {
			seen[p.CatalogID] = true
			agg.CompletedCatalogs = append(agg.CompletedCatalogs, p.CatalogID)
		}
	}
	sort.Strings(agg.CompletedCatalogs)
	return agg
}

// CompletionRate is the fraction of a catalog's missions completed in progress.
func CompletionRate(catalog *domain.Catalog, progress *domain.Progress) float64 {
	if len(catalog.Missions) == 0 || progress == nil {
		return 0
	}
	done := 0
	for _, m := range catalog.Missions {
		if progress.IsCompleted(m.ID) {
			done++
		}
	}
	return float64(done) / float64(len(catalog.Missions))
}

// FullyCompleted reports whether every mission in catalog is completed.
func FullyCompleted(catalog *domain.Catalog, progress *domain.Progress) bool {
	return len(catalog.Missions) > 0 && CompletionRate(catalog, progress) == 1
}
