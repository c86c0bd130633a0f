package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"call-insights-go/internal/dataset"
)

var (
	exportRestaurant string
	exportOut        string
	exportFrom       string
	exportTo         string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the analyst workbook for a restaurant",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseDay(exportFrom, false)
		if err != nil {
			return err
		}
		to, err := parseDay(exportTo, true)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rows, sum, err := a.Service.Export(context.Background(), exportRestaurant, from, to)
		if err != nil {
			return err
		}
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		if err := dataset.WriteExport(f, rows, sum); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		cmd.Printf("wrote %d sessions to %s\n", len(rows), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRestaurant, "restaurant", "", "restaurant id")
	exportCmd.Flags().StringVar(&exportOut, "out", "report.xlsx", "output path")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "window start (RFC3339 or YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "window end (RFC3339 or YYYY-MM-DD)")
	_ = exportCmd.MarkFlagRequired("restaurant")
}
