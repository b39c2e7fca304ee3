// ABOUTME: Bootstraps a coordinator from config: logging, telemetry, fact log and workers.
// ABOUTME: Every CLI command that dispatches agents goes through openApp.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/2389/coven-coordinator/internal/config"
	"github.com/2389/coven-coordinator/internal/coordinator"
	"github.com/2389/coven-coordinator/internal/store"
	"github.com/2389/coven-coordinator/internal/telemetry"
	"github.com/2389/coven-coordinator/internal/workers"
)

const shutdownTimeout = 10 * time.Second

type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	coord     *coordinator.Coordinator
	facts     store.FactStore
	telemetry telemetry.Shutdown
}

// loadConfig reads the resolved config file, or returns defaults if none exists.
func loadConfig(explicit string) (*config.Config, error) {
	path := config.ResolvePath(explicit)
	if path == "" {
		return config.Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if explicit != "" {
			return nil, fmt.Errorf("config file %s not found", explicit)
		}
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

// openStore opens the fact log, or returns nil when no database path is set.
func openStore(cfg config.DatabaseConfig) (store.FactStore, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening fact log: %w", err)
	}
	return s, nil
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	instruments, err := telemetry.Global()
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("creating instruments: %w", err)
	}

	facts, err := openStore(cfg.Database)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, err
	}

	opts := []coordinator.Option{
		coordinator.WithLogger(logger),
		coordinator.WithInstruments(instruments),
	}
	if facts != nil {
		opts = append(opts, coordinator.WithFactRecorder(facts))
		logger.Debug("fact log enabled", "driver", cfg.Database.Driver, "path", cfg.Database.Path)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		coord:     coordinator.New(coordinator.ConfigFrom(cfg), opts...),
		facts:     facts,
		telemetry: shutdownTelemetry,
	}

	for _, wc := range cfg.Workers {
		handle, agentCfg, err := workers.Build(wc)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("building worker %s: %w", wc.ID, err)
		}
		if _, err := a.coord.RegisterAgent(wc.ID, handle, agentCfg); err != nil {
			a.Close()
			return nil, fmt.Errorf("registering worker %s: %w", wc.ID, err)
		}
	}
	logger.Info("coordinator ready", "agents", len(cfg.Workers))

	return a, nil
}

// Close shuts the coordinator down first so queued facts drain into the store.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.coord.Shutdown(ctx); err != nil {
		a.logger.Warn("coordinator shutdown incomplete", "error", err)
	}
	if a.facts != nil {
		if err := a.facts.Close(); err != nil {
			a.logger.Warn("closing fact log", "error", err)
		}
	}
	if err := a.telemetry(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
}
