package aggregator

import (
	"math"
	"sort"

	"call-insights-go/internal/pipeline"
	"call-insights-go/internal/store"
	"call-insights-go/internal/types"
)

type Count struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Summary is the per-tenant analytics view. Rates are fractions in [0,1];
// ReviewCoveragePct is a percentage.
type Summary struct {
	TotalCalls            int64            `json:"totalCalls"`
	CompletedCalls        int64            `json:"completedCalls"`
	FailedCalls           int64            `json:"failedCalls"`
	PendingCalls          int64            `json:"pendingCalls"`
	AvgDurationSeconds    float64          `json:"avgDurationSeconds"`
	P50DurationSeconds    float64          `json:"p50DurationSeconds"`
	P90DurationSeconds    float64          `json:"p90DurationSeconds"`
	P95DurationSeconds    float64          `json:"p95DurationSeconds"`
	OutcomeDistribution   map[string]int64 `json:"outcomeDistribution"`
	SentimentDistribution map[string]int64 `json:"sentimentDistribution"`
	TopIntents            []Count          `json:"topIntents"`
	TopFrictionPoints     []Count          `json:"topFrictionPoints"`
	ReviewedCalls         int64            `json:"reviewedCalls"`
	ReviewCoveragePct     float64          `json:"reviewCoveragePct"`
	AnalyzedCalls         int64            `json:"analyzedCalls"`
	NegativeRate          float64          `json:"negativeRate"`
}

// Summarize turns raw aggregates into the summary; topN bounds the intent
// and friction point lists.
func Summarize(agg *store.Aggregates, topN int) Summary {
	s := Summary{
		TotalCalls:            agg.TotalCalls,
		ReviewedCalls:         agg.Reviewed,
		OutcomeDistribution:   nonNil(agg.Outcomes),
		SentimentDistribution: nonNil(agg.Sentiments),
		TopIntents:            Top(agg.Intents, topN),
		TopFrictionPoints:     Top(agg.FrictionPoints, topN),
	}
	for status, n := range agg.Statuses {
		switch {
		case status == types.StatusCompleted:
			s.CompletedCalls += n
		case pipeline.Failed(status):
			s.FailedCalls += n
		case !pipeline.Terminal(status):
			s.PendingCalls += n
		}
	}
	if s.TotalCalls > 0 {
		s.ReviewCoveragePct = round2(float64(s.ReviewedCalls) / float64(s.TotalCalls) * 100)
	}

	durations := append([]int(nil), agg.Durations...)
	sort.Ints(durations)
	if len(durations) > 0 {
		sum := 0
		for _, d := range durations {
			sum += d
		}
		s.AvgDurationSeconds = round2(float64(sum) / float64(len(durations)))
		s.P50DurationSeconds = Percentile(durations, 50)
		s.P90DurationSeconds = Percentile(durations, 90)
		s.P95DurationSeconds = Percentile(durations, 95)
	}

	for _, n := range agg.Sentiments {
		s.AnalyzedCalls += n
	}
	if s.AnalyzedCalls > 0 {
		s.NegativeRate = float64(agg.Sentiments["negative"]) / float64(s.AnalyzedCalls)
	}
	return s
}

// Percentile interpolates linearly between the closest ranks of an ascending
// slice.
func Percentile(sorted []int, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return float64(sorted[0])
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	return round2(float64(sorted[lo]) + frac*float64(sorted[hi]-sorted[lo]))
}

// Top returns the n largest counts, ties broken by name.
func Top(counts map[string]int64, n int) []Count {
	out := make([]Count, 0, len(counts))
	for name, c := range counts {
		out = append(out, Count{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func nonNil(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
