package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"

	"ropacal-forecast/internal/config"
	"ropacal-forecast/internal/database"
	"ropacal-forecast/internal/forecast"
	"ropacal-forecast/internal/logger"
	"ropacal-forecast/internal/metrics"
	"ropacal-forecast/internal/services/growthmodel"
)

// App holds the components shared by the server and the CLI.
type App struct {
	DB        *sqlx.DB
	Store     *database.Store
	Cache     *growthmodel.ResponseCache
	Model     *growthmodel.Client
	Metrics   *metrics.PromRecorder
	Scorer    forecast.Scorer
	Refresher *forecast.Refresher
}

// New connects to the database and wires the forecast pipeline. Extra
// options are applied to the refresher after the configured ones.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...forecast.Option) (*App, error) {
	db, err := database.Connect(ctx, cfg.Database.URL, log)
	if err != nil {
		return nil, err
	}

	recorder, err := metrics.NewPromRecorder()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if cfg.Model.URL == "" {
		log.Warnf("⚠️  PREDICTION_MODEL_URL not set - every refresh will fail with model_unavailable")
	}

	cache := growthmodel.NewResponseCache(cfg.Model.CacheSize, cfg.Model.CacheTTL)
	model := growthmodel.NewClient(
		&http.Client{Timeout: cfg.Model.Timeout},
		cfg.Model.URL,
		growthmodel.WithAPIKey(cfg.Model.APIKey),
		growthmodel.WithDefaultVersion(cfg.Model.DefaultVersion),
		growthmodel.WithCache(cache),
		growthmodel.WithObserver(recorder.ObserveModelRequest),
		growthmodel.WithLogger(logger.New("growthmodel")),
	)

	store := database.NewStore(db)

	refresherOpts := []forecast.Option{
		forecast.WithConcurrency(cfg.Forecast.Concurrency),
		forecast.WithLocation(cfg.Forecast.Location()),
		forecast.WithFilter(forecast.HistoryFilter{Status: cfg.Forecast.BinStatus}),
		forecast.WithRecorder(recorder),
		forecast.WithLogger(logger.New("refresh")),
	}

	return &App{
		DB:        db,
		Store:     store,
		Cache:     cache,
		Model:     model,
		Metrics:   recorder,
		Scorer:    forecast.NewScorer(cfg.Forecast.Threshold, forecast.BaselinePolicy(cfg.Forecast.Baseline)),
		Refresher: forecast.NewRefresher(store, model, store, append(refresherOpts, opts...)...),
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
