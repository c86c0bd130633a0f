// Package extractor turns a call transcript into structured insights through
// an LLM, and normalizes the answer against the configured vocabularies.
package extractor

import (
	"context"
	"slices"
	"strings"

	"call-insights-go/internal/config"
	"call-insights-go/internal/logger"
)

// Analysis is the provider's answer for one transcript.
type Analysis struct {
	Summary          string         `json:"summary"`
	Intent           string         `json:"intent"`
	SecondaryIntents []string       `json:"secondary_intents"`
	Outcome          string         `json:"outcome"`
	Sentiment        string         `json:"sentiment"`
	FrictionPoints   []string       `json:"friction_points"`
	Suggestions      []string       `json:"suggestions"`
	Entities         map[string]any `json:"entities"`
	QualityScore     float64        `json:"quality_score"`
	Model            string         `json:"-"`
}

type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*Analysis, error)
}

// New builds the analyzer selected by LLM_PROVIDER, or the mock when
// USE_MOCK_LLM=true.
func New(cfg config.ProvidersConfig, log *logger.Logger) Analyzer {
	log = log.Component("extractor")
	if cfg.UseMockLLM {
		log.Info("mock LLM mode ON - returning deterministic analysis")
		return Mock{}
	}
	vocab := NewNormalizer(cfg)
	if cfg.LLMProvider == "openai" {
		o := NewOpenAI(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel, log)
		o.Vocab = vocab
		return o
	}
	g := NewGateway(cfg.LLMGatewayURL, cfg.LLMAPIKey, cfg.LLMModel, log)
	g.Vocab = vocab
	return g
}

type Mock struct{}

func (Mock) Analyze(ctx context.Context, transcript string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Analysis{
		Summary:          "Customer booked a table for four; offered 7:30 instead of 7:00.",
		Intent:           "reservation",
		SecondaryIntents: []string{"availability"},
		Outcome:          "booked",
		Sentiment:        "neutral",
		FrictionPoints:   []string{"long hold time"},
		Suggestions:      []string{"Offer a callback when hold exceeds two minutes"},
		Entities:         map[string]any{"party_size": 4, "time": "19:30"},
		QualityScore:     78,
		Model:            "mock",
	}, nil
}

// Normalizer maps free-form labels onto the configured vocabularies. An empty
// list accepts any value.
type Normalizer struct {
	Intents    []string
	Outcomes   []string
	Sentiments []string
}

func NewNormalizer(cfg config.ProvidersConfig) Normalizer {
	return Normalizer{
		Intents:    lowerAll(cfg.IntentAllowlist),
		Outcomes:   lowerAll(cfg.OutcomeAllowlist),
		Sentiments: lowerAll(cfg.SentimentAllowlist),
	}
}

func (n Normalizer) Normalize(a Analysis) Analysis {
	a.Summary = strings.TrimSpace(a.Summary)
	a.Intent = pick(a.Intent, n.Intents, "other")
	a.Outcome = pick(a.Outcome, n.Outcomes, "other")
	a.Sentiment = pick(a.Sentiment, n.Sentiments, "unknown")

	secondary := make([]string, 0, len(a.SecondaryIntents))
	for _, s := range a.SecondaryIntents {
		if strings.TrimSpace(s) == "" {
			continue
		}
		if s = pick(s, n.Intents, "other"); s != a.Intent && !slices.Contains(secondary, s) {
			secondary = append(secondary, s)
		}
	}
	a.SecondaryIntents = secondary
	a.FrictionPoints = compact(a.FrictionPoints)
	a.Suggestions = compact(a.Suggestions)

	switch {
	case a.QualityScore < 0:
		a.QualityScore = 0
	case a.QualityScore > 100:
		a.QualityScore = 100
	}
	return a
}

func pick(v string, allowed []string, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return fallback
	}
	if len(allowed) > 0 && !slices.Contains(allowed, v) {
		return fallback
	}
	return v
}

func lowerAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
