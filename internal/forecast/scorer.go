package forecast

import (
	"cmp"
	"math"
	"slices"
	"time"

	"ropacal-forecast/internal/models"
)

// DefaultThreshold is the fill percentage that makes a bin due.
const DefaultThreshold = 80.0

// BaselinePolicy decides where the projected fill starts from.
type BaselinePolicy string

const (
	// BaselineLastObserved starts from the fill observed at the last collection.
	BaselineLastObserved BaselinePolicy = "last_observed"
	// BaselineZero projects purely from the growth rate.
	BaselineZero BaselinePolicy = "zero"
)

// Scorer turns a stored prediction plus elapsed time into a BinPriority.
type Scorer struct {
	Threshold float64
	Baseline  BaselinePolicy
}

// NewScorer returns a Scorer, falling back to DefaultThreshold and
// BaselineLastObserved for out-of-range input.
func NewScorer(threshold float64, baseline BaselinePolicy) Scorer {
	if threshold <= 0 || threshold > 100 || math.IsNaN(threshold) {
		threshold = DefaultThreshold
	}
	if baseline != BaselineZero {
		baseline = BaselineLastObserved
	}
	return Scorer{Threshold: threshold, Baseline: baseline}
}

// Score computes the priority of one bin. It returns false when the bin has
// no prediction or no timestamped collection event.
func (s Scorer) Score(binID string, pred *models.FillLevelPrediction, last *models.CollectionEvent, now time.Time) (models.BinPriority, bool) {
	if pred == nil || last == nil || last.CollectedAt == nil {
		return models.BinPriority{}, false
	}

	elapsed := now.Sub(time.Unix(*last.CollectedAt, 0)).Hours() / 24
	if elapsed < 0 {
		elapsed = 0
	}

	baseline := 0.0
	if s.Baseline != BaselineZero {
		baseline = float64(last.FillPercentage)
	}

	growth := pred.PredictedGrowth
	fill := clampPercent(baseline + growth*elapsed)
	if math.IsNaN(fill) {
		fill = clampPercent(baseline)
	}

	p := models.BinPriority{
		BinID:                 binID,
		EstimatedFill:         fill,
		PredictedGrowth:       growth,
		DaysElapsed:           elapsed,
		LastCollectedAt:       *last.CollectedAt,
		PredictionGeneratedAt: pred.GeneratedAt,
		ModelVersion:          pred.ModelVersion,
		Stale:                 pred.GeneratedAt < *last.CollectedAt,
	}

	switch {
	case fill >= s.Threshold:
		days := 0
		p.DaysToThreshold = &days
		p.Forecast = models.ForecastDue
	case growth <= 0 || math.IsNaN(growth) || math.IsInf(growth, 0):
		p.Forecast = models.ForecastUndetermined
	default:
		days := int(math.Ceil((s.Threshold - fill) / growth))
		if days < 1 {
			days = 1
		}
		p.DaysToThreshold = &days
		p.Forecast = models.ForecastScheduled
	}
	return p, true
}

// Rank scores every bin of the snapshot and returns the scorable ones sorted
// by urgency.
func (s Scorer) Rank(h History, now time.Time) []models.BinPriority {
	out := make([]models.BinPriority, 0, len(h.Bins))
	for _, id := range h.BinIDs() {
		p, ok := s.Score(id, h.LatestPrediction(id), h.LastCollection(id), now)
		if !ok {
			continue
		}
		p.BinNumber = h.Bins[id].BinNumber
		out = append(out, p)
	}
	SortByUrgency(out)
	return out
}

// SortByUrgency orders rows by days to threshold ascending, undetermined rows
// last, ties broken by higher estimated fill and then bin number.
func SortByUrgency(rows []models.BinPriority) {
	slices.SortStableFunc(rows, func(a, b models.BinPriority) int {
		if a.Undetermined() != b.Undetermined() {
			if a.Undetermined() {
				return 1
			}
			return -1
		}
		if !a.Undetermined() {
			if c := cmp.Compare(*a.DaysToThreshold, *b.DaysToThreshold); c != 0 {
				return c
			}
		}
		if c := cmp.Compare(b.EstimatedFill, a.EstimatedFill); c != 0 {
			return c
		}
		return cmp.Compare(a.BinNumber, b.BinNumber)
	})
}

// SortByFill orders rows by estimated fill, fullest first.
func SortByFill(rows []models.BinPriority) {
	slices.SortStableFunc(rows, func(a, b models.BinPriority) int {
		if c := cmp.Compare(b.EstimatedFill, a.EstimatedFill); c != 0 {
			return c
		}
		return cmp.Compare(a.BinNumber, b.BinNumber)
	})
}

// SortByBinNumber orders rows by bin number ascending.
func SortByBinNumber(rows []models.BinPriority) {
	slices.SortStableFunc(rows, func(a, b models.BinPriority) int {
		return cmp.Compare(a.BinNumber, b.BinNumber)
	})
}

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
