package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ropacal-forecast/internal/app"
	"ropacal-forecast/internal/config"
	"ropacal-forecast/internal/database"
	"ropacal-forecast/internal/forecast"
	"ropacal-forecast/internal/handlers"
	"ropacal-forecast/internal/logger"
	"ropacal-forecast/internal/middleware"
	"ropacal-forecast/internal/scheduler"
	"ropacal-forecast/internal/websocket"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load("")
	logger.SetLevel(levelOf(cfg))
	log := logger.New("server")
	if err != nil {
		log.Errorf("❌ FATAL ERROR: Invalid configuration: %v", err)
		os.Exit(1)
	}

	log.Infof("═══════════════════════════════════════════════════════════════════")
	log.Infof("🚀 ROPACAL FORECAST SERVER STARTING")
	log.Infof("═══════════════════════════════════════════════════════════════════")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorf("❌ FATAL ERROR: %v", err)
		os.Exit(1)
	}
	log.Infof("👋 Server stopped")
}

func levelOf(cfg *config.Config) string {
	if cfg == nil {
		return os.Getenv("LOG_LEVEL")
	}
	return cfg.Log.Level
}

func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	hub := websocket.NewHub(logger.New("websocket"))

	a, err := app.New(ctx, cfg, log, forecast.WithNotifier(hub))
	if err != nil {
		return err
	}
	defer a.Close()

	log.Infof("🔄 Running database migrations...")
	if err := database.Migrate(ctx, a.DB, log); err != nil {
		return err
	}

	if cfg.Database.Seed {
		if err := database.SeedDemoData(ctx, a.DB, log, time.Now()); err != nil {
			return err
		}
	}

	go hub.Run(ctx)
	go a.Cache.RunCleanup(ctx, time.Hour)
	log.Infof("✅ WebSocket hub started")

	ticker := scheduler.NewTicker(a.Refresher, cfg.Forecast.RefreshInterval, cfg.Forecast.PassTimeout, logger.New("scheduler"))
	ticker.Start(ctx)
	defer ticker.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(cfg, a, hub, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("═══════════════════════════════════════════════════════════════════")
		log.Infof("✅ ALL INITIALIZATION COMPLETE")
		log.Infof("🚀 Server starting on http://localhost:%s", cfg.Server.Port)
		log.Infof("═══════════════════════════════════════════════════════════════════")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Infof("🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(cfg *config.Config, a *app.App, hub *websocket.Hub, log logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger.New("http")))
	r.Use(chimiddleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health(a.Store))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", websocket.HandleWebSocket(hub, cfg.Server.AllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Get("/bins/priority", handlers.GetBinPriorities(a.Store, a.Scorer, time.Now, logger.New("priority")))
		r.Get("/bins/{id}/collections", handlers.GetCollectionEvents(a.Store, log))
		r.Get("/bins/{id}/predictions", handlers.GetBinPredictions(a.Store, log))

		r.Route("/manager", func(r chi.Router) {
			r.Post("/predictions/refresh", handlers.RefreshPredictions(a.Refresher, cfg.Forecast.PassTimeout, log))
			r.Get("/predictions/summary", handlers.GetPredictionSummary(a.Store, log))
			r.Get("/diagnostics", handlers.GetDiagnostics(a.Refresher, a.Cache, hub))
		})
	})

	return r
}
