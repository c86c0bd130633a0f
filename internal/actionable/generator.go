package actionable

import (
	"fmt"

	"call-insights-go/internal/aggregator"
)

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

const (
	negativeRateThreshold  = 0.35
	reviewCoverageFloorPct = 20.0
	frictionShareThreshold = 0.25
	failureShareThreshold  = 0.10
)

// Generate derives operator-facing highlights from a summary. It always
// returns at least one card.
func Generate(s aggregator.Summary) []ActionCard {
	var cards []ActionCard

	if s.AnalyzedCalls > 0 && s.NegativeRate >= negativeRateThreshold {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("High negative sentiment (%.0f%% of analyzed calls)", s.NegativeRate*100),
			Action:  "Review the negative calls this week and brief front-of-house staff",
			Impact:  "Fewer complaints and lost guests",
		})
	}
	if len(s.TopFrictionPoints) > 0 && s.AnalyzedCalls > 0 {
		top := s.TopFrictionPoints[0]
		if share := float64(top.Count) / float64(s.AnalyzedCalls); share >= frictionShareThreshold {
			cards = append(cards, ActionCard{
				Insight: fmt.Sprintf("Dominant friction point: %q (%.0f%% of analyzed calls)", top.Name, share*100),
				Action:  "Fix the process behind it first",
				Impact:  "Shorter calls and better outcomes",
			})
		}
	}
	if s.TotalCalls > 0 && s.FailedCalls > 0 {
		if share := float64(s.FailedCalls) / float64(s.TotalCalls); share >= failureShareThreshold {
			cards = append(cards, ActionCard{
				Insight: fmt.Sprintf("%d calls failed processing (%.0f%%)", s.FailedCalls, share*100),
				Action:  "Check recording links and provider status; retry failed calls",
				Impact:  "Complete analytics coverage",
			})
		}
	}
	if s.TotalCalls > 0 && s.ReviewCoveragePct < reviewCoverageFloorPct {
		cards = append(cards, ActionCard{
			Insight: fmt.Sprintf("Low review coverage (%.0f%%)", s.ReviewCoveragePct),
			Action:  "Assign a manager to review a sample of calls each day",
			Impact:  "Catch issues the model misses",
		})
	}

	if len(cards) == 0 {
		return []ActionCard{{
			Insight: "No strong pattern detected",
			Action:  "Monitor and collect more data",
			Impact:  "Low immediate intervention",
		}}
	}
	return cards
}
