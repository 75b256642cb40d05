package models

import "time"

// CollectionEvent is one observed emptying of a bin. Rows are written by the
// collection confirmation workflow and never modified here.
type CollectionEvent struct {
	ID             int    `json:"id" db:"id"`
	BinID          string `json:"bin_id" db:"bin_id"`
	CollectedAt    *int64 `json:"collected_at,omitempty" db:"collected_at"` // Unix timestamp, NULL when the driver app did not send one
	FillPercentage int    `json:"fill_percentage" db:"fill_percentage"`
	CreatedAt      int64  `json:"created_at" db:"created_at"`
}

// CollectionEventResponse is what we send to the client
type CollectionEventResponse struct {
	ID             int     `json:"id"`
	BinID          string  `json:"binId"`
	FillPercentage int     `json:"fillPercentage"`
	CollectedOnIso *string `json:"collectedOnIso,omitempty"`
	CollectedOn    *string `json:"collectedOn,omitempty"` // formatted date
}

// ToResponse converts a CollectionEvent to CollectionEventResponse
func (e *CollectionEvent) ToResponse() CollectionEventResponse {
	resp := CollectionEventResponse{
		ID:             e.ID,
		BinID:          e.BinID,
		FillPercentage: e.FillPercentage,
	}

	if e.CollectedAt != nil {
		t := time.Unix(*e.CollectedAt, 0).UTC()
		iso := t.Format(time.RFC3339)
		day := t.Format("Jan 02, 2006")
		resp.CollectedOnIso = &iso
		resp.CollectedOn = &day
	}

	return resp
}
