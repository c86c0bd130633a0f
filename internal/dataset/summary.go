package dataset

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"call-insights-go/internal/aggregator"
	"call-insights-go/internal/conversations"
	"call-insights-go/internal/pii"
	"call-insights-go/internal/store"
)

const (
	sessionsSheet = "Sessions"
	summarySheet  = "Summary"
)

var sessionHeader = []any{
	"Session ID", "Started At", "Duration (s)", "Direction", "From", "Status",
	"Intent", "Outcome", "Sentiment", "Quality Score", "Summary",
	"Reviewed", "Tags", "Follow Up",
}

// WriteExport renders the analyst workbook: one masked row per session plus
// a summary sheet for the same window.
func WriteExport(w io.Writer, rows []store.SessionRow, sum *conversations.AnalyticsSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sessionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("style: %w", err)
	}

	if err := writeSessions(f, rows, bold); err != nil {
		return err
	}
	if sum != nil {
		if err := writeSummary(f, sum, bold); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSessions(f *excelize.File, rows []store.SessionRow, bold int) error {
	if err := f.SetSheetRow(sessionsSheet, "A1", &sessionHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	_ = f.SetRowStyle(sessionsSheet, 1, 1, bold)
	_ = f.SetColWidth(sessionsSheet, "A", "A", 38)
	_ = f.SetColWidth(sessionsSheet, "K", "K", 60)

	for i, r := range rows {
		cs := r.Session
		line := []any{
			cs.ID,
			cs.StartedAt.UTC().Format(time.RFC3339),
			cs.DurationSeconds,
			string(cs.Direction),
			pii.MaskPhone(cs.FromNumber),
			string(cs.Status),
			"", "", "", "", "",
			r.Review != nil,
			"", "",
		}
		if in := r.Insights; in != nil {
			line[6] = in.IntentPrimary
			line[7] = in.Outcome
			line[8] = in.Sentiment
			line[9] = in.QualityScore
			line[10] = pii.ScrubText(in.Summary)
		}
		if rv := r.Review; rv != nil {
			line[12] = strings.Join(rv.Tags, ", ")
			line[13] = rv.FollowUpAction
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sessionsSheet, cell, &line); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return nil
}

func writeSummary(f *excelize.File, s *conversations.AnalyticsSummary, bold int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("add summary sheet: %w", err)
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 32)
	_ = f.SetColWidth(summarySheet, "B", "C", 48)

	var lines [][]any
	section := func(title string) { lines = append(lines, nil, []any{title}) }

	lines = append(lines,
		[]any{"Metric", "Value"},
		[]any{"Window from", formatBound(s.From)},
		[]any{"Window to", formatBound(s.To)},
		[]any{"Total calls", s.TotalCalls},
		[]any{"Completed calls", s.CompletedCalls},
		[]any{"Failed calls", s.FailedCalls},
		[]any{"Pending calls", s.PendingCalls},
		[]any{"Avg duration (s)", s.AvgDurationSeconds},
		[]any{"P50 duration (s)", s.P50DurationSeconds},
		[]any{"P90 duration (s)", s.P90DurationSeconds},
		[]any{"P95 duration (s)", s.P95DurationSeconds},
		[]any{"Reviewed calls", s.ReviewedCalls},
		[]any{"Review coverage (%)", s.ReviewCoveragePct},
		[]any{"Negative rate", s.NegativeRate},
	)
	section("Top intents")
	lines = append(lines, counts(s.TopIntents)...)
	section("Top friction points")
	lines = append(lines, counts(s.TopFrictionPoints)...)
	section("Outcomes")
	lines = append(lines, counts(aggregator.Top(s.OutcomeDistribution, 0))...)
	section("Sentiment")
	lines = append(lines, counts(aggregator.Top(s.SentimentDistribution, 0))...)
	section("Highlights")
	for _, h := range s.Highlights {
		lines = append(lines, []any{h.Insight, h.Action, h.Impact})
	}

	for i, line := range lines {
		if line == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &line); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
		if len(line) == 1 || i == 0 {
			_ = f.SetRowStyle(summarySheet, i+1, i+1, bold)
		}
	}
	return nil
}

func counts(cs []aggregator.Count) [][]any {
	out := make([][]any, 0, len(cs))
	for _, c := range cs {
		out = append(out, []any{c.Name, c.Count})
	}
	return out
}

func formatBound(t *time.Time) string {
	if t == nil {
		return "all time"
	}
	return t.UTC().Format(time.RFC3339)
}
