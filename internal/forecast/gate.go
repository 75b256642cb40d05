package forecast

import "ropacal-forecast/internal/models"

// NeedsRefresh reports whether a bin's prediction is stale relative to its
// newest collection event. It is true when there is no prediction, or when the
// prediction was generated strictly before the event. A prediction generated in
// the same second as the collection counts as fresh. An event without a
// timestamp never triggers a refresh on its own.
func NeedsRefresh(latest *models.FillLevelPrediction, newest models.CollectionEvent) bool {
	if latest == nil {
		return true
	}
	if newest.CollectedAt == nil {
		return false
	}
	return latest.GeneratedAt < *newest.CollectedAt
}
