package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"call-insights-go/internal/app"
	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "callsctl",
	Short:         "Operate the call insights pipeline",
	Long:          "callsctl imports historical calls, exports analyst workbooks and migrates the database.\nConfiguration comes from .env and the environment, as for the API server.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(migrateCmd)
}

func openApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.Open(cfg, logger.New())
}

// parseDay reads an RFC3339 time or a date. With endOfDay a date means the
// last instant of that day.
func parseDay(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t, nil
	}
	return nil, fmt.Errorf("invalid time %q: use RFC3339 or YYYY-MM-DD", v)
}
