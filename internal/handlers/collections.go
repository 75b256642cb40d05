package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ropacal-forecast/internal/logger"
	"ropacal-forecast/internal/models"
	"ropacal-forecast/pkg/utils"
)

// CollectionReader lists a bin's collection history.
type CollectionReader interface {
	CollectionEvents(ctx context.Context, binID string) ([]models.CollectionEvent, error)
}

// GetCollectionEvents returns every collection of a bin, newest first.
// GET /api/bins/{id}/collections
func GetCollectionEvents(store CollectionReader, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		binID := chi.URLParam(r, "id")

		events, err := store.CollectionEvents(r.Context(), binID)
		if err != nil {
			log.Errorf("❌ [GET-BIN-COLLECTIONS] Failed for bin %s: %v", binID, err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to fetch collection events")
			return
		}

		response := make([]models.CollectionEventResponse, len(events))
		for i := range events {
			response[i] = events[i].ToResponse()
		}

		utils.RespondJSON(w, http.StatusOK, response)
	}
}
