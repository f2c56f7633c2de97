// Package main is the entry point for the AgroAlert daemon.
//
// It loads configuration, selects the storage, directory, forecast, and
// channel backends from what the environment provides, starts the scheduler
// ticks, and serves the HTTP surface (alerts, manual evaluation, stats,
// health, metrics).
//
// Backend selection is degrade-don't-fail: without DATABASE_URL the daemon
// runs on the in-memory store and fixture directory; without a Telegram
// token it logs deliveries through the simulated channel; without a weather
// provider URL it evaluates synthetic forecasts. A fully unconfigured
// process is a working demo.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"agroalert/internal/alerts"
	"agroalert/internal/api"
	"agroalert/internal/channel"
	"agroalert/internal/config"
	"agroalert/internal/db"
	"agroalert/internal/directory"
	"agroalert/internal/dispatch"
	"agroalert/internal/forecast"
	"agroalert/internal/metrics"
	"agroalert/internal/rules"
	"agroalert/internal/scheduler"
	"agroalert/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("agroalert starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	clock := types.RealClock{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage and directory backends.
	var (
		store        types.AlertStore
		userDir      types.UserDirectory
		activityLog  types.ActivityLog
		storeBackend string
		pool         *pgxpool.Pool
	)
	if url := cfg.Database.URL.Unmask(); url != "" {
		pool, err = newPool(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()

		if _, err := pool.Exec(ctx, db.Schema); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}

		store = db.NewAlertRepository(pool)
		userDir = db.NewDirectoryRepository(pool)
		activityLog = db.NewActivityRepository(pool)
		storeBackend = "postgres"
	} else {
		store = alerts.NewMemoryStore()
		fixtures, err := directory.NewFixtureDirectory(cfg.Demo.FixtureDir, clock, logger)
		if err != nil {
			return fmt.Errorf("loading demo directory: %w", err)
		}
		userDir = fixtures
		activityLog = fixtures
		storeBackend = "memory"
	}

	// Forecast source: synthetic always exists; an HTTP provider, when
	// configured, takes priority with synthetic as fallback.
	synthetic := forecast.NewSyntheticSource(clock)
	var source types.ForecastSource = synthetic
	if cfg.Weather.BaseURL != "" {
		client := forecast.NewClient(forecast.ClientConfig{
			BaseURL: cfg.Weather.BaseURL,
			Timeout: cfg.Weather.Timeout,
			Logger:  logger,
		})
		source = client
		if cfg.Weather.SyntheticFallback {
			source = forecast.NewFallbackSource(client, synthetic, logger)
		}
	}

	// Outbound channel.
	var adapter types.ChannelAdapter
	if token := cfg.Telegram.BotToken.Unmask(); token != "" {
		adapter, err = channel.NewTelegramChannel(token, cfg.Telegram.SendTimeout)
		if err != nil {
			return fmt.Errorf("creating telegram channel: %w", err)
		}
	} else {
		adapter = channel.NewSimulatedChannel(logger)
	}
	logger.Info("backends selected",
		"store", storeBackend,
		"channel", adapter.Name(),
		"forecast", source.Name(),
	)

	// Pipeline.
	evaluator := rules.NewEvaluator(cfg.Thresholds)
	materializer := alerts.NewMaterializer(rules.DefaultLeadTimes(), clock)
	dispatcher := dispatch.New(dispatch.Config{
		Store:       store,
		Channel:     adapter,
		Clock:       clock,
		Logger:      logger,
		Workers:     cfg.Scheduler.DispatchWorkers,
		SendTimeout: cfg.Telegram.SendTimeout,
		BatchLimit:  cfg.Scheduler.DispatchBatchLimit,
	})
	sched := scheduler.New(scheduler.Config{
		Evaluator:           evaluator,
		Materializer:        materializer,
		Store:               store,
		Dispatcher:          dispatcher,
		Forecast:            source,
		Directory:           userDir,
		Activities:          activityLog,
		Clock:               clock,
		Logger:              logger,
		Archiver:            scheduler.NewArchiver(cfg.Scheduler.ArchiveDir, logger),
		EvalInterval:        cfg.Scheduler.EvalInterval,
		DispatchInterval:    cfg.Scheduler.DispatchInterval,
		MaintenanceInterval: cfg.Scheduler.MaintenanceInterval,
		Retention:           cfg.Scheduler.Retention,
		EvalWorkers:         cfg.Scheduler.EvalWorkers,
		PastDays:            cfg.Scheduler.PastDays,
		FutureDays:          cfg.Scheduler.FutureDays,
		ForecastTimeout:     cfg.Weather.Timeout,
		ActivityDays:        cfg.Scheduler.ActivityDays,
	})
	sched.Start(ctx)
	defer sched.Stop()

	// HTTP surface.
	srv, err := api.NewServer(api.ServerConfig{
		Store:     store,
		Directory: userDir,
		Trigger:   sched,
		Logger:    logger,
		Health: api.HealthInfo{
			Environment:    cfg.Environment,
			StoreBackend:   storeBackend,
			ChannelAdapter: adapter.Name(),
			ForecastSource: source.Name(),
		},
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return runHTTPServer(srv, cfg, logger)
}

// newPool builds the pgx connection pool from the database configuration.
func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connCtx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// runHTTPServer starts the HTTP server and blocks until a shutdown signal or
// a server error.
func runHTTPServer(srv *api.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
