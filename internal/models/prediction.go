package models

import "time"

// FillLevelPrediction is one model output for a bin's next cycle. Rows are
// append-only; the newest generated_at per bin is authoritative.
type FillLevelPrediction struct {
	ID              int     `json:"id" db:"id"`
	BinID           string  `json:"bin_id" db:"bin_id"`
	PredictedGrowth float64 `json:"predicted_growth" db:"predicted_growth"` // fill percentage points per day
	GeneratedAt     int64   `json:"generated_at" db:"generated_at"`         // Unix timestamp
	ModelVersion    string  `json:"model_version" db:"model_version"`

	// Snapshot of the cycle the prediction was derived from.
	CycleCollectedAt     int64 `json:"cycle_collected_at" db:"cycle_collected_at"`
	CycleDurationDays    int   `json:"cycle_duration_days" db:"cycle_duration_days"`
	CycleStartMonth      int   `json:"cycle_start_month" db:"cycle_start_month"`
	FillAtLastCollection int   `json:"fill_at_last_collection" db:"fill_at_last_collection"`
}

// PredictionResponse is the API view of a prediction with ISO timestamps
type PredictionResponse struct {
	BinID                string  `json:"bin_id"`
	PredictedGrowth      float64 `json:"predicted_growth"`
	ModelVersion         string  `json:"model_version"`
	GeneratedAtIso       string  `json:"generatedAtIso"`
	CycleCollectedAtIso  string  `json:"cycleCollectedAtIso"`
	CycleDurationDays    int     `json:"cycle_duration_days"`
	CycleStartMonth      int     `json:"cycle_start_month"`
	FillAtLastCollection int     `json:"fill_at_last_collection"`
}

// ToResponse converts a FillLevelPrediction to PredictionResponse
func (p *FillLevelPrediction) ToResponse() PredictionResponse {
	return PredictionResponse{
		BinID:                p.BinID,
		PredictedGrowth:      p.PredictedGrowth,
		ModelVersion:         p.ModelVersion,
		GeneratedAtIso:       time.Unix(p.GeneratedAt, 0).UTC().Format(time.RFC3339),
		CycleCollectedAtIso:  time.Unix(p.CycleCollectedAt, 0).UTC().Format(time.RFC3339),
		CycleDurationDays:    p.CycleDurationDays,
		CycleStartMonth:      p.CycleStartMonth,
		FillAtLastCollection: p.FillAtLastCollection,
	}
}
