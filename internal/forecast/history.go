package forecast

import (
	"context"
	"sort"

	"ropacal-forecast/internal/models"
)

// History is a read-only snapshot of the store taken at the start of a pass
// or a priority query.
type History struct {
	// Bins holds every bin that matched the filter.
	Bins map[string]models.Bin
	// Events holds collection events per bin, newest first.
	Events map[string][]models.CollectionEvent
	// Predictions holds the latest prediction per bin. Bins without one are absent.
	Predictions map[string]models.FillLevelPrediction
}

// HistoryFilter narrows the bins a snapshot covers.
type HistoryFilter struct {
	// Status matches bins.status; "" or "all" disables the filter.
	Status string
	// BinID restricts the snapshot to one bin when set.
	BinID string
}

// HistoryLoader is implemented by the persistence layer.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, filter HistoryFilter) (History, error)
}

// BinIDs returns the snapshot's bin identifiers in a stable order.
func (h History) BinIDs() []string {
	ids := make([]string, 0, len(h.Bins))
	for id := range h.Bins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LatestPrediction returns the stored prediction for binID, or nil.
func (h History) LatestPrediction(binID string) *models.FillLevelPrediction {
	p, ok := h.Predictions[binID]
	if !ok {
		return nil
	}
	return &p
}

// LastCollection returns the newest event, or nil when there is none or the
// newest one has no timestamp. Older events never stand in for it.
func (h History) LastCollection(binID string) *models.CollectionEvent {
	events := h.Events[binID]
	if len(events) == 0 || events[0].CollectedAt == nil {
		return nil
	}
	ev := events[0]
	return &ev
}
