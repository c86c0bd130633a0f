// Package app wires the pipeline together for the API server and the CLI.
package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"call-insights-go/internal/audit"
	"call-insights-go/internal/config"
	"call-insights-go/internal/conversations"
	"call-insights-go/internal/extractor"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/metrics"
	"call-insights-go/internal/processor"
	"call-insights-go/internal/store"
	"call-insights-go/internal/task"
	"call-insights-go/internal/transcription"
)

type App struct {
	Config       config.Config
	DB           *gorm.DB
	Store        *store.Store
	Orchestrator *processor.Orchestrator
	Service      *conversations.Service
	Sweeper      *task.Sweeper
	Metrics      *metrics.Metrics
	Log          *logger.Logger
}

// Open connects to the database, migrates it and builds every component.
// Workers are not started; call Start for that.
func Open(cfg config.Config, log *logger.Logger) (*App, error) {
	db, err := store.Open(cfg.DBDriver, cfg.DSN, log.Writer())
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db, &audit.Log{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	st := store.New(db)
	m := metrics.New()
	sink := audit.NewGormSink(db, log)
	orch := processor.New(cfg.Jobs, processor.Deps{
		Store:       st,
		Transcriber: transcription.New(cfg.Providers, log),
		Analyzer:    extractor.New(cfg.Providers, log),
		Normalizer:  extractor.NewNormalizer(cfg.Providers),
		Audit:       sink,
		Metrics:     m,
		Log:         log,
	})
	svc := conversations.New(st, orch, sink, m, conversations.Options{
		AutoTranscribe: cfg.Jobs.AutoTranscribe,
		TopIntents:     cfg.Analytics.TopIntents,
		CacheTTL:       cfg.Analytics.CacheTTL,
	}, log)

	return &App{
		Config:       cfg,
		DB:           db,
		Store:        st,
		Orchestrator: orch,
		Service:      svc,
		Sweeper:      task.NewSweeper(orch, log),
		Metrics:      m,
		Log:          log,
	}, nil
}

// Start launches the worker pools and the stale-job sweeper.
func (a *App) Start(ctx context.Context) error {
	if err := a.Orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	if err := a.Sweeper.Start(ctx, a.Config.Jobs.StaleSchedule); err != nil {
		a.Orchestrator.Stop()
		return err
	}
	return nil
}

// Ping reports database reachability.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close stops background work and releases the database.
func (a *App) Close() {
	a.Sweeper.Stop()
	a.Orchestrator.Stop()
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
