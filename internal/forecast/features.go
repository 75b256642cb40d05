package forecast

import (
	"fmt"
	"time"

	"ropacal-forecast/internal/models"
)

const secondsPerDay = 24 * 60 * 60

// CycleFeatures are the model inputs derived from a bin's two most recent
// collection events.
type CycleFeatures struct {
	BinID string
	// CollectedAt is the newest event's timestamp and identifies the cycle.
	CollectedAt          int64
	CycleDurationDays    int
	CycleStartMonth      int
	FillAtLastCollection int
}

// ExtractFeatures derives cycle features from events ordered newest first.
// Only events[0] and events[1] are read. The month is taken in loc (UTC when nil).
func ExtractFeatures(binID string, events []models.CollectionEvent, loc *time.Location) (CycleFeatures, error) {
	if len(events) < 2 {
		return CycleFeatures{}, fmt.Errorf("%w: bin %s has %d events", ErrInsufficientHistory, binID, len(events))
	}
	newest, previous := events[0], events[1]
	if newest.CollectedAt == nil || previous.CollectedAt == nil {
		return CycleFeatures{}, fmt.Errorf("%w: bin %s", ErrTimestampMissing, binID)
	}

	span := *newest.CollectedAt - *previous.CollectedAt
	if span <= 0 {
		return CycleFeatures{}, fmt.Errorf("%w: bin %s has a zero-length cycle", ErrInsufficientHistory, binID)
	}
	if loc == nil {
		loc = time.UTC
	}

	return CycleFeatures{
		BinID:       binID,
		CollectedAt: *newest.CollectedAt,
		// Ceiling: any sub-day remainder counts as a full day.
		CycleDurationDays:    int((span + secondsPerDay - 1) / secondsPerDay),
		CycleStartMonth:      int(time.Unix(*newest.CollectedAt, 0).In(loc).Month()),
		FillAtLastCollection: clampPercentInt(newest.FillPercentage),
	}, nil
}

func clampPercentInt(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
