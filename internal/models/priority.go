package models

// ForecastStatus classifies a priority row.
type ForecastStatus string

const (
	// ForecastDue means the estimated fill is already at or above the threshold.
	ForecastDue ForecastStatus = "due"
	// ForecastScheduled means the threshold is a positive number of days away.
	ForecastScheduled ForecastStatus = "scheduled"
	// ForecastUndetermined means growth is zero or negative, so the threshold
	// is never reached. DaysToThreshold is nil.
	ForecastUndetermined ForecastStatus = "undetermined"
)

// BinPriority is recomputed on every query and never stored.
type BinPriority struct {
	BinID                 string         `json:"bin_id"`
	BinNumber             int            `json:"bin_number"`
	EstimatedFill         float64        `json:"estimated_fill"`
	DaysToThreshold       *int           `json:"days_to_threshold"`
	Forecast              ForecastStatus `json:"forecast"`
	PredictedGrowth       float64        `json:"predicted_growth"`
	DaysElapsed           float64        `json:"days_elapsed"`
	LastCollectedAt       int64          `json:"last_collected_at"`
	PredictionGeneratedAt int64          `json:"prediction_generated_at"`
	ModelVersion          string         `json:"model_version"`
	// Stale is set when the prediction predates the latest collection event.
	Stale bool `json:"stale"`
}

// Undetermined reports whether the row carries no day count.
func (p BinPriority) Undetermined() bool {
	return p.Forecast == ForecastUndetermined
}
