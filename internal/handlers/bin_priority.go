package handlers

import (
	"net/http"
	"strconv"
	"time"

	"ropacal-forecast/internal/forecast"
	"ropacal-forecast/internal/logger"
	"ropacal-forecast/internal/models"
	"ropacal-forecast/pkg/utils"
)

const defaultPriorityLimit = 100

// GetBinPriorities returns bins ranked by how soon they reach the fill
// threshold.
// Query params:
//   - sort: urgency (default), fill, bin_number
//   - filter: all (default), due, undetermined, stale
//   - status: active (default), all, or any bin status
//   - limit: max results (default: 100)
//
// now supplies the scoring time; nil means time.Now.
func GetBinPriorities(history forecast.HistoryLoader, scorer forecast.Scorer, now func() time.Time, log logger.Logger) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		sortBy := q.Get("sort")
		if sortBy == "" {
			sortBy = "urgency"
		}
		if sortBy != "urgency" && sortBy != "fill" && sortBy != "bin_number" {
			utils.RespondError(w, http.StatusBadRequest, "sort must be one of urgency, fill, bin_number")
			return
		}

		filter := q.Get("filter")
		if filter == "" {
			filter = "all"
		}
		if filter != "all" && filter != "due" && filter != "undetermined" && filter != "stale" {
			utils.RespondError(w, http.StatusBadRequest, "filter must be one of all, due, undetermined, stale")
			return
		}

		status := q.Get("status")
		if status == "" {
			status = "active"
		}

		limit := defaultPriorityLimit
		if raw := q.Get("limit"); raw != "" {
			l, err := strconv.Atoi(raw)
			if err != nil || l <= 0 {
				utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = l
		}

		log.Infof("[GET-BINS-PRIORITY] Fetching bins (sort=%s, filter=%s, status=%s, limit=%d)", sortBy, filter, status, limit)

		hist, err := history.LoadHistory(r.Context(), forecast.HistoryFilter{Status: status})
		if err != nil {
			log.Errorf("❌ [GET-BINS-PRIORITY] Failed to load history: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch bins")
			return
		}

		ranked := scorer.Rank(hist, now())

		rows := make([]models.BinPriority, 0, len(ranked))
		for _, p := range ranked {
			if matchesFilter(p, filter) {
				rows = append(rows, p)
			}
		}

		switch sortBy {
		case "fill":
			forecast.SortByFill(rows)
		case "bin_number":
			forecast.SortByBinNumber(rows)
		}

		if len(rows) > limit {
			rows = rows[:limit]
		}

		log.Infof("[GET-BINS-PRIORITY] Returning %d of %d ranked bins", len(rows), len(ranked))
		utils.RespondJSON(w, http.StatusOK, rows)
	}
}

func matchesFilter(p models.BinPriority, filter string) bool {
	switch filter {
	case "due":
		return p.Forecast == models.ForecastDue
	case "undetermined":
		return p.Undetermined()
	case "stale":
		return p.Stale
	default:
		return true
	}
}
