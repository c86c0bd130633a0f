package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"call-insights-go/internal/dataset"
)

var (
	importRestaurant string
	importFile       string
	importProvider   string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Ingest calls from an XLSX sheet",
	Long: "Reads the first sheet of the workbook, detecting columns from the header row\n" +
		"(call id, caller, callee, start, end, duration, recording url, direction).\n" +
		"Rows already ingested for the restaurant are skipped. Transcription jobs are\n" +
		"queued and picked up by the API server's workers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := dataset.Load(importFile, importProvider)
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()

		var created, dup, bad int
		for _, r := range rows {
			if r.Err != nil {
				bad++
				cmd.PrintErrf("row %d: %v\n", r.Line, r.Err)
				continue
			}
			_, ok, err := a.Service.IngestCall(ctx, importRestaurant, r.Payload)
			switch {
			case err != nil:
				bad++
				cmd.PrintErrf("row %d: %v\n", r.Line, err)
			case ok:
				created++
			default:
				dup++
			}
		}
		cmd.Printf("imported %d, skipped %d duplicates, %d rows rejected\n", created, dup, bad)
		if bad > 0 && created == 0 {
			return fmt.Errorf("no rows imported")
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importRestaurant, "restaurant", "", "restaurant id to import into")
	importCmd.Flags().StringVar(&importFile, "file", "", "path to the .xlsx file")
	importCmd.Flags().StringVar(&importProvider, "provider", "import", "provider name for rows without one")
	_ = importCmd.MarkFlagRequired("restaurant")
	_ = importCmd.MarkFlagRequired("file")
}
