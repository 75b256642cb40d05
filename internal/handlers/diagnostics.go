package handlers

import (
	"context"
	"net/http"
	"time"

	"ropacal-forecast/internal/forecast"
	"ropacal-forecast/internal/services/growthmodel"
	"ropacal-forecast/pkg/utils"
)

// PassObserver exposes the state of the refresh pipeline.
type PassObserver interface {
	LastReport() (forecast.RefreshReport, bool)
	Running() bool
}

// CacheStatter reports model response cache statistics.
type CacheStatter interface {
	Stats() growthmodel.CacheStats
}

// ClientCounter reports connected dashboards.
type ClientCounter interface {
	ClientCount() int
}

// LastPass is the diagnostics view of a finished refresh pass.
type LastPass struct {
	RunID         string  `json:"run_id"`
	StartedAtIso  string  `json:"startedAtIso"`
	FinishedAtIso string  `json:"finishedAtIso"`
	DurationSecs  float64 `json:"duration_seconds"`
	Refreshed     int     `json:"refreshed"`
	Skipped       int     `json:"skipped"`
	Failed        int     `json:"failed"`
}

type Diagnostics struct {
	RefreshRunning   bool                    `json:"refresh_running"`
	LastPass         *LastPass               `json:"last_pass,omitempty"`
	ModelCache       *growthmodel.CacheStats `json:"model_cache,omitempty"`
	DashboardClients int                     `json:"dashboard_clients"`
}

// GetDiagnostics reports pipeline state for the manager dashboard. cache
// may be nil when caching is disabled.
// GET /api/manager/diagnostics
func GetDiagnostics(passes PassObserver, cache CacheStatter, clients ClientCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d := Diagnostics{
			RefreshRunning:   passes.Running(),
			DashboardClients: clients.ClientCount(),
		}
		if report, ok := passes.LastReport(); ok {
			d.LastPass = &LastPass{
				RunID:         report.RunID,
				StartedAtIso:  report.StartedAt.UTC().Format(time.RFC3339),
				FinishedAtIso: report.FinishedAt.UTC().Format(time.RFC3339),
				DurationSecs:  report.Duration().Seconds(),
				Refreshed:     report.Refreshed,
				Skipped:       report.Skipped,
				Failed:        report.Failed,
			}
		}
		if cache != nil {
			stats := cache.Stats()
			d.ModelCache = &stats
		}

		utils.RespondJSON(w, http.StatusOK, d)
	}
}

// Health reports whether the service and its database are up.
// GET /health
func Health(db forecast.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "degraded",
				"database": "unreachable",
			})
			return
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "ok",
		})
	}
}
