package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-insights-go/internal/app"
	"call-insights-go/internal/config"
	apihttp "call-insights-go/internal/http"
	"call-insights-go/internal/logger"
)

func main() {
	log := logger.New()
	log.WithField("service", "call-insights-go").Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	a, err := app.Open(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start workers")
	}

	srv := apihttp.NewServer(cfg, apihttp.Deps{
		Service: a.Service,
		Metrics: a.Metrics,
		Ready:   a.Ping,
		Log:     log,
	})
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server terminated")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	a.Close()
	log.Info("stopped")
}
