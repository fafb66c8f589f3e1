// Package main is the entry point for the volatility rebalancer.
//
// By default it runs a single rebalance cycle and exits, which suits an
// external cron. With -daemon it schedules cycles itself and serves the
// status API until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/volbalance/internal/config"
	"github.com/aristath/volbalance/internal/di"
	"github.com/aristath/volbalance/internal/domain"
	"github.com/aristath/volbalance/internal/server"
	"github.com/aristath/volbalance/pkg/logger"
	"github.com/rs/zerolog"
)

// Exit codes for one-shot mode
const (
	exitOK     = 0
	exitFailed = 1
	exitBusy   = 2
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	daemon := flag.Bool("daemon", false, "run on the configured schedule and serve the status API")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	var code int
	if *daemon {
		code = runDaemon(ctx, container, cfg, log)
	} else {
		code = runOnce(ctx, container, log)
	}

	if err := container.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close databases")
	}
	stop()
	os.Exit(code)
}

// runOnce executes one cycle and maps its outcome to an exit code
func runOnce(ctx context.Context, container *di.Container, log zerolog.Logger) int {
	report, err := container.Rebalancer.RunCycle(ctx)
	switch {
	case errors.Is(err, domain.ErrCycleInProgress):
		log.Warn().Msg("Another cycle holds the lock, nothing done")
		return exitBusy
	case err != nil:
		ev := log.Error().Err(err)
		if report != nil {
			ev = ev.Str("cycle_id", report.CycleID)
		}
		ev.Msg("Rebalance cycle failed")
		return exitFailed
	}
	return exitOK
}

// runDaemon starts the scheduler and HTTP server and blocks until ctx ends
func runDaemon(ctx context.Context, container *di.Container, cfg *config.Config, log zerolog.Logger) int {
	sched, _, err := di.RegisterJobs(container, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to register jobs")
		return exitFailed
	}

	srv := server.New(server.Config{
		Log:            log,
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		DevMode:        cfg.LogLevel == "debug",
		LiveMode:       cfg.Exchange.Mode == "live",
		RunToken:       cfg.Server.RunToken,
		RunTimeout:     container.CycleTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		DataDir:        cfg.DataDir,
		Assets:         container.Assets,
		Databases:      container.Databases(),
		State:          container.StateRepo,
		Exchange:       container.Exchange,
		Ledger:         container.LedgerRepo,
		Rebalancer:     container.Rebalancer,
		Cycles:         container.Rebalancer,
		Metrics:        container.Metrics.Handler(),
		Schedule:       sched,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()
	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Bool("run_token", cfg.Server.RunToken != "").
		Msg("Server started successfully")

	sched.Start()
	for _, next := range sched.Next() {
		log.Info().Time("next_run", next).Msg("Job scheduled")
	}

	code := exitOK
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Server stopped unexpectedly")
			code = exitFailed
		}
	}

	// Stop waits for a running cycle to finish
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
	return code
}
