package transcription

import (
	"context"
	"encoding/json"
	"strings"

	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/types"
)

// Result is what an STT provider returns for one recording.
type Result struct {
	Text       string       `json:"text"`
	Turns      []types.Turn `json:"turns"`
	Language   string       `json:"language"`
	Confidence float64      `json:"confidence"`
	Provider   string       `json:"-"`
}

// Transcriber turns a recording URL into text. Implementations must honour
// ctx cancellation; the caller enforces the per-job timeout through it.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (*Result, error)
}

// New picks the mock or the HTTP provider from config. Mock mode is on with
// USE_MOCK_TRANSCRIBE=true.
func New(cfg config.ProvidersConfig, log *logger.Logger) Transcriber {
	if cfg.UseMockTranscribe {
		log.Component("transcription").Info("mock STT mode ON")
		return Mock{}
	}
	return NewClient(cfg.TranscribeURL, log)
}

// Mock returns a fixed restaurant call.
type Mock struct{}

func (Mock) Transcribe(ctx context.Context, audioURL string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turns := []types.Turn{
		{Speaker: "agent", Text: "Thanks for calling, how can I help?", StartSec: 0, EndSec: 3},
		{Speaker: "customer", Text: "I'd like a table for four tonight at seven.", StartSec: 3, EndSec: 7},
		{Speaker: "agent", Text: "We have seven thirty available. Shall I book it?", StartSec: 7, EndSec: 11},
		{Speaker: "customer", Text: "Yes please, I waited a while on hold though.", StartSec: 11, EndSec: 15},
	}
	return &Result{
		Text:       joinTurns(turns),
		Turns:      turns,
		Language:   "en",
		Confidence: 0.93,
		Provider:   "mock",
	}, nil
}

// ParseTranscript reads a downloaded transcript. Providers either return a
// JSON document or plain text with one "Speaker: words" line per turn.
func ParseTranscript(body string) Result {
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "{") {
		var doc struct {
			Result
			StructuredTurns []types.Turn `json:"structuredTurns"`
		}
		if err := json.Unmarshal([]byte(body), &doc); err == nil {
			out := doc.Result
			if len(out.Turns) == 0 {
				out.Turns = doc.StructuredTurns
			}
			if out.Text == "" {
				out.Text = joinTurns(out.Turns)
			}
			return out
		}
	}

	var turns []types.Turn
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		speaker, text, ok := strings.Cut(line, ":")
		// speaker labels are short: "Agent", "Customer 1"
		if !ok || len(speaker) > 32 || len(strings.Fields(speaker)) == 0 || len(strings.Fields(speaker)) > 2 {
			turns = append(turns, types.Turn{Text: line})
			continue
		}
		turns = append(turns, types.Turn{
			Speaker: strings.ToLower(strings.TrimSpace(speaker)),
			Text:    strings.TrimSpace(text),
		})
	}
	return Result{Text: body, Turns: turns}
}

func joinTurns(turns []types.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		if t.Speaker != "" {
			b.WriteString(t.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(t.Text)
	}
	return b.String()
}
