package database

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"ropacal-forecast/internal/forecast"
	"ropacal-forecast/internal/models"
)

// eventsPerBin caps how many recent collection events a snapshot carries per
// bin. Feature extraction reads two; the rest let scoring fall back to an
// older timestamped event.
const eventsPerBin = 5

// eventRecency orders events newest first. Rows without collected_at are
// placed by the time they were recorded.
const eventRecency = "COALESCE(ce.collected_at, ce.created_at) DESC, ce.id DESC"

func binFilter(b sq.SelectBuilder, filter forecast.HistoryFilter) sq.SelectBuilder {
	if filter.Status != "" && filter.Status != "all" {
		b = b.Where(sq.Eq{"b.status": filter.Status})
	}
	if filter.BinID != "" {
		b = b.Where(sq.Eq{"b.id": filter.BinID})
	}
	return b
}

// LoadHistory returns the bins matching filter with their recent collection
// events and latest prediction.
func (s *Store) LoadHistory(ctx context.Context, filter forecast.HistoryFilter) (forecast.History, error) {
	h := forecast.History{
		Bins:        make(map[string]models.Bin),
		Events:      make(map[string][]models.CollectionEvent),
		Predictions: make(map[string]models.FillLevelPrediction),
	}

	bins, err := s.selectBins(ctx, filter)
	if err != nil {
		return forecast.History{}, err
	}
	for _, b := range bins {
		h.Bins[b.ID] = b
	}

	events, err := s.selectRecentEvents(ctx, filter)
	if err != nil {
		return forecast.History{}, err
	}
	for _, ev := range events {
		h.Events[ev.BinID] = append(h.Events[ev.BinID], ev)
	}

	predictions, err := s.selectLatestPredictions(ctx, filter)
	if err != nil {
		return forecast.History{}, err
	}
	for _, p := range predictions {
		h.Predictions[p.BinID] = p
	}

	return h, nil
}

func (s *Store) selectBins(ctx context.Context, filter forecast.HistoryFilter) ([]models.Bin, error) {
	q := binFilter(psql.Select(
		"b.id", "b.bin_number", "b.current_street", "b.city", "b.zip", "b.status",
		"b.fill_percentage", "b.latitude", "b.longitude", "b.created_at", "b.updated_at",
	).From("bins b"), filter).OrderBy("b.bin_number")

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bins query: %w", err)
	}

	var bins []models.Bin
	if err := s.db.SelectContext(ctx, &bins, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fetch bins: %w", err)
	}
	return bins, nil
}

// recentEventsQuery ranks each bin's events by recency and keeps the newest
// eventsPerBin of them.
func recentEventsQuery(filter forecast.HistoryFilter) sq.SelectBuilder {
	ranked := binFilter(sq.Select(
		"ce.id", "ce.bin_id", "ce.collected_at", "ce.fill_percentage", "ce.created_at",
		"ROW_NUMBER() OVER (PARTITION BY ce.bin_id ORDER BY "+eventRecency+") AS rn",
	).From("collection_events ce").Join("bins b ON b.id = ce.bin_id"), filter)

	return psql.Select("id", "bin_id", "collected_at", "fill_percentage", "created_at").
		FromSelect(ranked, "ranked").
		Where(sq.LtOrEq{"rn": eventsPerBin}).
		OrderBy("bin_id", "rn")
}

func (s *Store) selectRecentEvents(ctx context.Context, filter forecast.HistoryFilter) ([]models.CollectionEvent, error) {
	query, args, err := recentEventsQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build events query: %w", err)
	}

	var events []models.CollectionEvent
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fetch collection events: %w", err)
	}
	return events, nil
}

func latestPredictionsQuery(filter forecast.HistoryFilter) sq.SelectBuilder {
	return binFilter(psql.Select(predictionColumns("p")...).
		Options("DISTINCT ON (p.bin_id)").
		From("fill_level_predictions p").
		Join("bins b ON b.id = p.bin_id"), filter).
		OrderBy("p.bin_id", "p.generated_at DESC", "p.id DESC")
}

func (s *Store) selectLatestPredictions(ctx context.Context, filter forecast.HistoryFilter) ([]models.FillLevelPrediction, error) {
	query, args, err := latestPredictionsQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build predictions query: %w", err)
	}

	var predictions []models.FillLevelPrediction
	if err := s.db.SelectContext(ctx, &predictions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fetch latest predictions: %w", err)
	}
	return predictions, nil
}

// CollectionEvents returns the full collection history of one bin, newest first.
func (s *Store) CollectionEvents(ctx context.Context, binID string) ([]models.CollectionEvent, error) {
	query, args, err := psql.Select("ce.id", "ce.bin_id", "ce.collected_at", "ce.fill_percentage", "ce.created_at").
		From("collection_events ce").
		Where(sq.Eq{"ce.bin_id": binID}).
		OrderBy(eventRecency).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build events query: %w", err)
	}

	events := []models.CollectionEvent{}
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("failed to fetch collection events for bin %s: %w", binID, err)
	}
	return events, nil
}

func predictionColumns(alias string) []string {
	cols := []string{
		"id", "bin_id", "predicted_growth", "generated_at", "model_version",
		"cycle_collected_at", "cycle_duration_days", "cycle_start_month", "fill_at_last_collection",
	}
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return cols
}
