package intel

import (
	"math"
	"time"

	"github.com/sells-group/research-pipeline/internal/model"
)

// DefaultRefreshThreshold is the completeness below which a summary is
// considered stale regardless of age.
const DefaultRefreshThreshold = 50.0

// DefaultWeights are the relative values of each category in the
// completeness score.
func DefaultWeights() map[model.EnrichmentCategory]float64 {
	return map[model.EnrichmentCategory]float64{
		model.CategoryProfessional:  25,
		model.CategoryFinancial:     20,
		model.CategorySocial:        15,
		model.CategoryLocalBusiness: 20,
		model.CategoryNews:          20,
	}
}

// Completeness returns the weighted share of applicable categories that are
// populated, as a percentage rounded to one decimal. Skipped categories do
// not count against the score.
func Completeness(records map[model.EnrichmentCategory]model.EnrichmentRecord, weights map[model.EnrichmentCategory]float64) float64 {
	var populated, applicable float64
	for cat, w := range weights {
		rec, ok := records[cat]
		if ok && rec.Skipped {
			continue
		}
		applicable += w
		if ok && rec.Present {
			populated += w
		}
	}
	if applicable == 0 {
		return 0
	}
	return math.Round(populated/applicable*1000) / 10
}

// NeedsRefresh reports whether summary should be recomputed: it is missing,
// older than maxAgeHours, or below threshold completeness. A non-positive
// threshold uses DefaultRefreshThreshold.
func NeedsRefresh(summary *model.IntelligenceSummary, maxAgeHours int, threshold float64, now time.Time) bool {
	if summary == nil {
		return true
	}
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	if summary.Completeness < threshold {
		return true
	}
	if maxAgeHours > 0 && now.Sub(summary.LastUpdated) > time.Duration(maxAgeHours)*time.Hour {
		return true
	}
	return false
}
