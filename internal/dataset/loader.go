// Package dataset moves call data in and out of spreadsheets: bulk import of
// historical calls and the analyst export workbook.
package dataset

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"call-insights-go/internal/conversations"
)

// Row is one data row of an import sheet. Err is set when the row cannot be
// turned into a payload; Line is the 1-based sheet row.
type Row struct {
	Line    int
	Payload conversations.CallPayload
	Err     error
}

type column int

const (
	colProvider column = iota
	colCallID
	colDirection
	colFrom
	colTo
	colStarted
	colEnded
	colDuration
	colAudio
	numColumns
)

// header heuristics, checked in order; the first unclaimed match wins
var matchers = []struct {
	col   column
	match func(h string) bool
}{
	{colAudio, func(h string) bool {
		return strings.Contains(h, "audio") || strings.Contains(h, "record") || strings.Contains(h, "url") ||
			strings.Contains(h, "call") && strings.Contains(h, "link")
	}},
	{colCallID, func(h string) bool {
		return strings.Contains(h, "call id") || strings.Contains(h, "callid") || strings.Contains(h, "call_id") || h == "id"
	}},
	{colProvider, func(h string) bool { return strings.Contains(h, "provider") || strings.Contains(h, "source") }},
	{colDirection, func(h string) bool { return strings.Contains(h, "direction") || strings.Contains(h, "type") }},
	{colFrom, func(h string) bool { return strings.Contains(h, "from") || strings.Contains(h, "caller") }},
	{colTo, func(h string) bool { return h == "to" || strings.Contains(h, "to number") || strings.Contains(h, "callee") }},
	{colStarted, func(h string) bool { return strings.Contains(h, "start") || h == "date" }},
	{colEnded, func(h string) bool { return strings.Contains(h, "end") }},
	{colDuration, func(h string) bool { return strings.Contains(h, "duration") || strings.Contains(h, "seconds") }},
}

// weaker heuristics, tried only for columns still unmatched
var fallbacks = []struct {
	col   column
	match func(h string) bool
}{
	{colStarted, func(h string) bool { return strings.Contains(h, "time") }},
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"01/02/2006 15:04",
	"2006-01-02",
}

// Load reads the first sheet of the workbook at path.
func Load(path, defaultProvider string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return read(f, defaultProvider)
}

// LoadReader is Load for an uploaded workbook.
func LoadReader(r io.Reader, defaultProvider string) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	return read(f, defaultProvider)
}

func read(f *excelize.File, defaultProvider string) ([]Row, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	idx := detectColumns(rows[0])
	if idx[colCallID] < 0 || idx[colStarted] < 0 {
		return nil, fmt.Errorf("sheet needs a call id and a start time column")
	}

	out := make([]Row, 0, len(rows)-1)
	for i, r := range rows[1:] {
		if blank(r) {
			continue
		}
		row := Row{Line: i + 2}
		row.Payload, row.Err = parseRow(r, idx, defaultProvider)
		out = append(out, row)
	}
	return out, nil
}

func detectColumns(header []string) [numColumns]int {
	var idx [numColumns]int
	for i := range idx {
		idx[i] = -1
	}
	claimed := make([]bool, len(header))
	claim := func(col column, match func(string) bool) {
		if idx[col] >= 0 {
			return
		}
		for i, h := range header {
			if !claimed[i] && match(strings.ToLower(strings.TrimSpace(h))) {
				idx[col] = i
				claimed[i] = true
				return
			}
		}
	}
	for _, m := range matchers {
		claim(m.col, m.match)
	}
	for _, m := range fallbacks {
		claim(m.col, m.match)
	}
	return idx
}

func parseRow(r []string, idx [numColumns]int, defaultProvider string) (conversations.CallPayload, error) {
	cell := func(c column) string {
		if i := idx[c]; i >= 0 && i < len(r) {
			return strings.TrimSpace(r[i])
		}
		return ""
	}

	p := conversations.CallPayload{
		Provider:       cell(colProvider),
		ProviderCallID: cell(colCallID),
		Direction:      strings.ToLower(cell(colDirection)),
		FromNumber:     cell(colFrom),
		ToNumber:       cell(colTo),
		AudioURL:       cell(colAudio),
	}
	if p.Provider == "" {
		p.Provider = defaultProvider
	}
	if p.Direction != "outbound" {
		p.Direction = "inbound"
	}
	if p.AudioURL != "" && !isURL(p.AudioURL) {
		p.AudioURL = ""
	}

	started, err := parseTime(cell(colStarted))
	if err != nil {
		return p, fmt.Errorf("start time: %w", err)
	}
	p.StartedAt = &started
	if v := cell(colEnded); v != "" {
		ended, err := parseTime(v)
		if err != nil {
			return p, fmt.Errorf("end time: %w", err)
		}
		p.EndedAt = &ended
	}
	if v := cell(colDuration); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, fmt.Errorf("duration %q is not a number", v)
		}
		secs := int(d)
		p.DurationSeconds = &secs
	}
	return p, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("empty")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", v)
}

func isURL(v string) bool {
	l := strings.ToLower(v)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func blank(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
