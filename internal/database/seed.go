package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ropacal-forecast/internal/logger"
)

type seedBin struct {
	number    int
	street    string
	zip       string
	lat, lng  float64
	fills     [2]int // fill at the older and newer collection
	cycleDays int
}

// Demo bins around downtown San Jose. Each gets two collections so a refresh
// pass has a full cycle to learn from.
var seedBins = []seedBin{
	{1, "325 S 1st St", "95113", 37.3329, -121.8866, [2]int{62, 45}, 7},
	{2, "200 E Santa Clara St", "95113", 37.3361, -121.8869, [2]int{71, 67}, 5},
	{3, "151 W Mission St", "95110", 37.3343, -121.8936, [2]int{30, 23}, 10},
	{4, "408 Almaden Blvd", "95110", 37.3313, -121.8917, [2]int{88, 89}, 4},
	{5, "180 Park Ave", "95113", 37.3351, -121.8894, [2]int{20, 12}, 14},
	{6, "72 N Almaden Ave", "95110", 37.3352, -121.8931, [2]int{80, 78}, 6},
	{7, "345 E Santa Clara St", "95113", 37.3357, -121.8826, [2]int{50, 56}, 7},
	{8, "99 S Market St", "95113", 37.3339, -121.8905, [2]int{41, 34}, 9},
	{9, "201 S 2nd St", "95113", 37.3326, -121.8863, [2]int{93, 91}, 3},
	{10, "150 S 1st St", "95113", 37.3344, -121.8877, [2]int{18, 15}, 12},
	{11, "88 W San Carlos St", "95113", 37.3307, -121.8901, [2]int{77, 82}, 5},
	{12, "250 S 3rd St", "95112", 37.3311, -121.8842, [2]int{55, 47}, 5},
}

// SeedDemoData inserts demo bins and collection history when the bins table
// is empty.
func SeedDemoData(ctx context.Context, db *sqlx.DB, log logger.Logger, now time.Time) error {
	var count int
	if err := db.GetContext(ctx, &count, "SELECT COUNT(*) FROM bins"); err != nil {
		return fmt.Errorf("failed to count bins: %w", err)
	}

	if count > 0 {
		log.Infof("✓ Bins already seeded, skipping...")
		return nil
	}

	log.Infof("🌱 Seeding %d bins with collection history...", len(seedBins))

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	for i, b := range seedBins {
		id := uuid.New().String()

		binQuery, binArgs, err := psql.Insert("bins").
			Columns("id", "bin_number", "current_street", "city", "zip", "status", "fill_percentage", "latitude", "longitude").
			Values(id, b.number, b.street, "San Jose", b.zip, "active", b.fills[1], b.lat, b.lng).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build bin insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, binQuery, binArgs...); err != nil {
			return fmt.Errorf("failed to seed bin %d: %w", b.number, err)
		}

		// Stagger the newest collection over the past few days.
		newest := now.Add(-time.Duration(i%4+1) * 24 * time.Hour).Unix()
		older := newest - int64(b.cycleDays)*86400

		evQuery, evArgs, err := psql.Insert("collection_events").
			Columns("bin_id", "collected_at", "fill_percentage").
			Values(id, older, b.fills[0]).
			Values(id, newest, b.fills[1]).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build event insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, evQuery, evArgs...); err != nil {
			return fmt.Errorf("failed to seed collections for bin %d: %w", b.number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}

	log.Infof("✓ Successfully seeded %d bins", len(seedBins))
	return nil
}
