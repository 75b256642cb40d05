package models

// Bin is the subset of the bins table the forecast engine reads.
type Bin struct {
	ID             string   `json:"id" db:"id"`
	BinNumber      int      `json:"bin_number" db:"bin_number"`
	CurrentStreet  string   `json:"current_street" db:"current_street"`
	City           string   `json:"city" db:"city"`
	Zip            string   `json:"zip" db:"zip"`
	Status         string   `json:"status" db:"status"`
	FillPercentage *int     `json:"fill_percentage,omitempty" db:"fill_percentage"`
	Latitude       *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude      *float64 `json:"longitude,omitempty" db:"longitude"`
	CreatedAt      int64    `json:"created_at" db:"created_at"` // Unix timestamp
	UpdatedAt      int64    `json:"updated_at" db:"updated_at"` // Unix timestamp
}
