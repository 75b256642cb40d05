package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"ropacal-forecast/internal/logger"
)

// psql builds statements with Postgres placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func Connect(ctx context.Context, dbURL string, log logger.Logger) (*sqlx.DB, error) {
	log.Infof("🔌 DATABASE CONNECTION ATTEMPT (host %s)", dbHost(dbURL))

	db, err := sqlx.Open("postgres", dbURL)
	if err != nil {
		log.Errorf("❌ DATABASE CONNECTION FAILED AT sqlx.Open(): %T %v", err, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		log.Errorf("❌ DATABASE CONNECTION FAILED AT Ping(): %T %v", err, err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Infof("✅ DATABASE CONNECTION SUCCESSFUL")
	return db, nil
}

// dbHost extracts the host from a postgres URL or key=value DSN so it can be
// logged without credentials.
func dbHost(dbURL string) string {
	if u, err := url.Parse(dbURL); err == nil && u.Host != "" {
		return u.Host
	}
	for _, field := range strings.Fields(dbURL) {
		if host, ok := strings.CutPrefix(field, "host="); ok {
			return host
		}
	}
	return "unknown"
}

// Migrate creates the tables the forecast engine reads and owns. Every
// statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB, log logger.Logger) error {
	migrations := []string{
		// Bins are owned by the operations backend; created here so the engine
		// can run against an empty database.
		`CREATE TABLE IF NOT EXISTS bins (
			id TEXT PRIMARY KEY,
			bin_number INT NOT NULL UNIQUE,
			current_street TEXT NOT NULL,
			city TEXT NOT NULL,
			zip TEXT NOT NULL,
			status TEXT NOT NULL,
			fill_percentage INT,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Collection events written by the collection confirmation workflow.
		// collected_at is nullable: older driver app builds did not send it.
		`CREATE TABLE IF NOT EXISTS collection_events (
			id SERIAL PRIMARY KEY,
			bin_id TEXT NOT NULL,
			collected_at BIGINT,
			fill_percentage INT NOT NULL CHECK (fill_percentage BETWEEN 0 AND 100),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (bin_id) REFERENCES bins(id) ON DELETE CASCADE
		)`,

		// Append-only model output, one row per bin and cycle.
		`CREATE TABLE IF NOT EXISTS fill_level_predictions (
			id SERIAL PRIMARY KEY,
			bin_id TEXT NOT NULL,
			predicted_growth DOUBLE PRECISION NOT NULL,
			generated_at BIGINT NOT NULL,
			model_version TEXT NOT NULL,
			cycle_collected_at BIGINT NOT NULL,
			cycle_duration_days INT NOT NULL CHECK (cycle_duration_days > 0),
			cycle_start_month INT NOT NULL CHECK (cycle_start_month BETWEEN 1 AND 12),
			fill_at_last_collection INT NOT NULL,
			FOREIGN KEY (bin_id) REFERENCES bins(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_bins_status ON bins(status)`,
		`CREATE INDEX IF NOT EXISTS idx_collection_events_bin_id ON collection_events(bin_id)`,
		`CREATE INDEX IF NOT EXISTS idx_collection_events_recency ON collection_events(bin_id, (COALESCE(collected_at, created_at)) DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_fill_level_predictions_latest ON fill_level_predictions(bin_id, generated_at DESC, id DESC)`,
		// One prediction per cycle, even across concurrent refresh passes.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_fill_level_predictions_cycle ON fill_level_predictions(bin_id, cycle_collected_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Infof("✓ Database migrations completed (%d statements)", len(migrations))
	return nil
}
