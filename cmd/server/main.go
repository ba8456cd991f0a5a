// Package main is the entry point for the rental management backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/gestionale-affitti/backend/internal/api"
	"github.com/gestionale-affitti/backend/internal/availability"
	"github.com/gestionale-affitti/backend/internal/calendar"
	"github.com/gestionale-affitti/backend/internal/config"
	appLog "github.com/gestionale-affitti/backend/internal/log"
	"github.com/gestionale-affitti/backend/internal/storage"
	"github.com/gestionale-affitti/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "Path to the YAML configuration file (env CONFIG_PATH)")
	addr := flag.String("addr", "", "HTTP server address (overrides config)")
	dataPath := flag.String("data", "", "SQLite database file (overrides config)")
	staticDir := flag.String("static", "", "Directory for static frontend files (overrides config)")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dataPath != "" {
		cfg.Database.Path = *dataPath
	}
	if *staticDir != "" {
		cfg.Server.StaticDir = *staticDir
	}

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Server.Addr); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	appLog.SetLevel(appLog.Level(cfg.Log.Level))

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}
	appLog.Info("starting server", "version", version, "addr", cfg.Server.Addr)

	if err := run(cfg); err != nil {
		appLog.Error("server exited", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	db, err := storage.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	appLog.Info("database migrations complete", "path", cfg.Database.Path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub()
	go hub.Run(ctx)
	broadcaster := websocket.NewEventBroadcaster(hub)

	fetcher := calendar.NewFetcher(calendar.FetcherConfig{
		Timeout:     cfg.FetchTimeout(),
		CacheTTL:    time.Duration(cfg.Sync.FeedCacheMinutes) * time.Minute,
		HorizonDays: cfg.Sync.HorizonDays,
	})
	syncService := calendar.NewSyncService(db, fetcher, calendar.SyncOptions{
		Location:    cfg.Location(),
		CheckinHour: cfg.CheckinHour(),
		BulkWorkers: cfg.Sync.BulkWorkers,
		Broadcaster: broadcaster,
	})

	var scheduler *calendar.Scheduler
	if cfg.SyncEnabled() {
		scheduler = calendar.NewScheduler(syncService, cfg.Sync.Schedule, cfg.Location(), broadcaster)
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start sync scheduler: %w", err)
		}
		defer scheduler.Stop()
	} else {
		appLog.Info("periodic sync disabled")
	}

	router := api.NewRouter(db, hub, cfg.Server.StaticDir, api.Services{
		Availability: availability.NewService(db),
		Sync:         syncService,
		Export:       calendar.NewExportService(db, cfg.Export.HostID),
		Scheduler:    scheduler,
		ExportRate:   rate.Limit(cfg.Export.RateLimitPerSec),
		ExportBurst:  cfg.Export.RateBurst,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(appLog.Logger().Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		appLog.Info("server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLog.Info("shutting down server", "signal", sig.String())
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	}

	// Stop the sweep before the server so no new pass starts mid-shutdown.
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	appLog.Info("server stopped")
	return nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
