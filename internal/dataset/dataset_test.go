package dataset

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"call-insights-go/internal/aggregator"
	"call-insights-go/internal/conversations"
	"call-insights-go/internal/store"
	"call-insights-go/internal/types"
)

func writeSheet(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	path := filepath.Join(t.TempDir(), "calls.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestLoadDetectsColumns(t *testing.T) {
	path := writeSheet(t, [][]any{
		{"Call ID", "Caller", "To Number", "Start Time", "Duration (s)", "Recording URL", "Direction"},
		{"c-1", "+14155550142", "+14155550000", "2025-03-01 18:00:00", "95", "https://rec.example.com/1.wav", "Inbound"},
		{"c-2", "+14155550143", "+14155550000", "2025-03-01T19:00:00Z", "", "not a link", "outbound"},
		{"", "", "", "", "", "", ""},
		{"c-3", "+14155550144", "+14155550000", "yesterday", "10", "", ""},
	})

	rows, err := Load(path, "import")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	first := rows[0]
	require.NoError(t, first.Err)
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "import", first.Payload.Provider)
	assert.Equal(t, "c-1", first.Payload.ProviderCallID)
	assert.Equal(t, "+14155550142", first.Payload.FromNumber)
	assert.Equal(t, "https://rec.example.com/1.wav", first.Payload.AudioURL)
	assert.Equal(t, "inbound", first.Payload.Direction)
	require.NotNil(t, first.Payload.DurationSeconds)
	assert.Equal(t, 95, *first.Payload.DurationSeconds)
	assert.Equal(t, time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC), *first.Payload.StartedAt)

	second := rows[1]
	require.NoError(t, second.Err)
	assert.Equal(t, "outbound", second.Payload.Direction)
	assert.Empty(t, second.Payload.AudioURL)
	assert.Nil(t, second.Payload.DurationSeconds)

	assert.Equal(t, 5, rows[2].Line)
	assert.Error(t, rows[2].Err)
}

func TestLoadPrefersStartOverOtherTimeColumns(t *testing.T) {
	path := writeSheet(t, [][]any{
		{"Call ID", "End Time", "Start Time", "Caller", "To Number"},
		{"c-1", "2025-03-01 18:05:00", "2025-03-01 18:00:00", "+14155550142", "+14155550000"},
	})
	rows, err := Load(path, "import")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, rows[0].Err)
	p := rows[0].Payload
	assert.Equal(t, time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC), *p.StartedAt)
	require.NotNil(t, p.EndedAt)
	assert.Equal(t, time.Date(2025, 3, 1, 18, 5, 0, 0, time.UTC), *p.EndedAt)

	// a lone time column still counts as the start
	path = writeSheet(t, [][]any{
		{"Call ID", "Call Time", "Caller", "To Number"},
		{"c-2", "2025-03-01 19:00:00", "+14155550142", "+14155550000"},
	})
	rows, err = Load(path, "import")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, rows[0].Err)
	assert.Equal(t, time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC), *rows[0].Payload.StartedAt)
}

func TestLoadRejectsSheetWithoutRequiredColumns(t *testing.T) {
	path := writeSheet(t, [][]any{{"Name", "Notes"}, {"a", "b"}})
	_, err := Load(path, "import")
	assert.Error(t, err)

	path = writeSheet(t, [][]any{{"Call ID", "Start Time"}})
	_, err = Load(path, "import")
	assert.Error(t, err)
}

func TestWriteExportMasksCallers(t *testing.T) {
	rows := []store.SessionRow{
		{
			Session: types.CallSession{
				ID:              "s1",
				FromNumber:      "+14155550142",
				StartedAt:       time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC),
				DurationSeconds: 60,
				Direction:       types.DirectionInbound,
				Status:          types.StatusCompleted,
			},
			Insights: &types.Insights{Summary: "Guest at 415-555-0142 wants a refund", Sentiment: "negative", QualityScore: 40},
			Review:   &types.Review{Tags: []string{"refund", "vip"}},
		},
		{Session: types.CallSession{ID: "s2", FromNumber: "+14155550999", Status: types.StatusReceived}},
	}
	sum := &conversations.AnalyticsSummary{
		RestaurantID: "r1",
		Summary: aggregator.Summary{
			TotalCalls: 2,
			TopIntents: []aggregator.Count{{Name: "complaint", Count: 1}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteExport(&buf, rows, sum))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Sessions", "Summary"}, f.GetSheetList())

	got, err := f.GetRows("Sessions")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "***-***-0142", got[1][4])
	assert.NotContains(t, got[1][10], "555-0142")
	assert.Equal(t, "refund, vip", got[1][12])
	assert.Equal(t, "***-***-0999", got[2][4])

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	assert.Equal(t, []string{"Total calls", "2"}, summary[3])
}
