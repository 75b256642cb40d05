package database

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"ropacal-forecast/internal/models"
)

// AppendPrediction inserts one prediction row in its own statement, so a
// failure for one bin never affects another. It returns false without error
// when the bin already has a prediction for the same cycle.
func (s *Store) AppendPrediction(ctx context.Context, p models.FillLevelPrediction) (bool, error) {
	query, args, err := appendPredictionQuery(p).ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build insert: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert prediction for bin %s: %w", p.BinID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for bin %s: %w", p.BinID, err)
	}
	return rows == 1, nil
}

func appendPredictionQuery(p models.FillLevelPrediction) sq.InsertBuilder {
	return psql.Insert("fill_level_predictions").
		Columns(
			"bin_id", "predicted_growth", "generated_at", "model_version",
			"cycle_collected_at", "cycle_duration_days", "cycle_start_month", "fill_at_last_collection",
		).
		Values(
			p.BinID, p.PredictedGrowth, p.GeneratedAt, p.ModelVersion,
			p.CycleCollectedAt, p.CycleDurationDays, p.CycleStartMonth, p.FillAtLastCollection,
		).
		Suffix("ON CONFLICT (bin_id, cycle_collected_at) DO NOTHING")
}

// PredictionHistory returns up to limit predictions for a bin, newest first.
func (s *Store) PredictionHistory(ctx context.Context, binID string, limit uint64) ([]models.FillLevelPrediction, error) {
	q := psql.Select(predictionColumns("p")...).
		From("fill_level_predictions p").
		Where(sq.Eq{"p.bin_id": binID}).
		OrderBy("p.generated_at DESC", "p.id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction history query: %w", err)
	}

	predictions := []models.FillLevelPrediction{}
	if err := s.db.SelectContext(ctx, &predictions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fetch predictions for bin %s: %w", binID, err)
	}
	return predictions, nil
}
