package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ropacal-forecast/internal/forecast"
	"ropacal-forecast/internal/logger"
	"ropacal-forecast/internal/models"
	"ropacal-forecast/pkg/utils"
)

// PassRunner runs one refresh pass.
type PassRunner interface {
	Refresh(ctx context.Context) (forecast.RefreshReport, error)
}

// PredictionReader lists a bin's stored predictions.
type PredictionReader interface {
	PredictionHistory(ctx context.Context, binID string, limit uint64) ([]models.FillLevelPrediction, error)
}

// RefreshResponse summarises a pass for the manager dashboard.
type RefreshResponse struct {
	RunID     string           `json:"run_id"`
	Refreshed int              `json:"refreshed"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Failures  []RefreshFailure `json:"failures,omitempty"`
}

type RefreshFailure struct {
	BinID  string `json:"bin_id"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

func newRefreshResponse(report forecast.RefreshReport) RefreshResponse {
	resp := RefreshResponse{
		RunID:     report.RunID,
		Refreshed: report.Refreshed,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
	}
	for _, o := range report.FailedOutcomes() {
		f := RefreshFailure{BinID: o.BinID, Reason: o.Reason}
		if o.Err != nil {
			f.Error = o.Err.Error()
		}
		resp.Failures = append(resp.Failures, f)
	}
	return resp
}

// RefreshPredictions runs a refresh pass on demand. The pass outlives a
// dropped client connection and is bounded by timeout instead.
// POST /api/manager/predictions/refresh
func RefreshPredictions(runner PassRunner, timeout time.Duration, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithoutCancel(r.Context())
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		log.Infof("[REFRESH-PREDICTIONS] Manual refresh requested")

		report, err := runner.Refresh(ctx)
		switch {
		case errors.Is(err, forecast.ErrRefreshInProgress):
			utils.RespondError(w, http.StatusConflict, "A refresh is already running")
			return
		case err != nil:
			log.Errorf("❌ [REFRESH-PREDICTIONS] Pass failed: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Prediction refresh failed")
			return
		}

		utils.RespondJSON(w, http.StatusOK, newRefreshResponse(report))
	}
}

// GetBinPredictions returns a bin's prediction history, newest first.
// GET /api/bins/{id}/predictions?limit=
func GetBinPredictions(store PredictionReader, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		binID := chi.URLParam(r, "id")

		var limit uint64 = 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			l, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || l == 0 {
				utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = l
		}

		predictions, err := store.PredictionHistory(r.Context(), binID, limit)
		if err != nil {
			log.Errorf("❌ [GET-BIN-PREDICTIONS] Failed for bin %s: %v", binID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch predictions")
			return
		}

		response := make([]models.PredictionResponse, len(predictions))
		for i := range predictions {
			response[i] = predictions[i].ToResponse()
		}

		utils.RespondJSON(w, http.StatusOK, response)
	}
}

// GrowthSummary describes the distribution of the latest growth predictions.
type GrowthSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
}

func summarizeGrowth(hist forecast.History) GrowthSummary {
	growth := make([]float64, 0, len(hist.Predictions))
	for _, p := range hist.Predictions {
		growth = append(growth, p.PredictedGrowth)
	}

	summary := GrowthSummary{Count: len(growth)}
	if len(growth) == 0 {
		return summary
	}

	sort.Float64s(growth)
	summary.Mean = stat.Mean(growth, nil)
	if len(growth) > 1 {
		summary.StdDev = stat.StdDev(growth, nil)
	}
	summary.Min = floats.Min(growth)
	summary.Max = floats.Max(growth)
	summary.Median = stat.Quantile(0.5, stat.Empirical, growth, nil)
	return summary
}

// GetPredictionSummary returns growth statistics across the latest
// prediction of every bin matching status.
// GET /api/manager/predictions/summary?status=
func GetPredictionSummary(history forecast.HistoryLoader, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status == "" {
			status = "active"
		}

		hist, err := history.LoadHistory(r.Context(), forecast.HistoryFilter{Status: status})
		if err != nil {
			log.Errorf("❌ [PREDICTION-SUMMARY] Failed to load history: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load predictions")
			return
		}

		utils.RespondJSON(w, http.StatusOK, summarizeGrowth(hist))
	}
}
