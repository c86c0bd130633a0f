package conversations

import (
	"time"

	"gorm.io/datatypes"

	"call-insights-go/internal/actionable"
	"call-insights-go/internal/aggregator"
	"call-insights-go/internal/pii"
	"call-insights-go/internal/store"
	"call-insights-go/internal/types"
)

// SessionView is the outward form of a call session. FromNumber is always
// masked.
type SessionView struct {
	ID              string              `json:"id"`
	RestaurantID    string              `json:"restaurantId"`
	Provider        string              `json:"provider"`
	ProviderCallID  string              `json:"providerCallId"`
	Direction       types.Direction     `json:"direction"`
	FromNumber      string              `json:"fromNumber"`
	ToNumber        string              `json:"toNumber"`
	StartedAt       time.Time           `json:"startedAt"`
	EndedAt         *time.Time          `json:"endedAt,omitempty"`
	DurationSeconds int                 `json:"durationSeconds"`
	Status          types.SessionStatus `json:"status"`
	AudioURL        string              `json:"audioUrl,omitempty"`
	Metadata        datatypes.JSON      `json:"metadata,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`

	Reviewed      bool     `json:"reviewed"`
	Summary       string   `json:"summary,omitempty"`
	IntentPrimary string   `json:"intentPrimary,omitempty"`
	Outcome       string   `json:"outcome,omitempty"`
	Sentiment     string   `json:"sentiment,omitempty"`
	QualityScore  *float64 `json:"qualityScore,omitempty"`
}

func NewSessionView(cs types.CallSession) SessionView {
	return SessionView{
		ID:              cs.ID,
		RestaurantID:    cs.RestaurantID,
		Provider:        cs.Provider,
		ProviderCallID:  cs.ProviderCallID,
		Direction:       cs.Direction,
		FromNumber:      pii.MaskPhone(cs.FromNumber),
		ToNumber:        cs.ToNumber,
		StartedAt:       cs.StartedAt,
		EndedAt:         cs.EndedAt,
		DurationSeconds: cs.DurationSeconds,
		Status:          cs.Status,
		AudioURL:        cs.AudioURL,
		Metadata:        cs.Metadata,
		CreatedAt:       cs.CreatedAt,
		UpdatedAt:       cs.UpdatedAt,
	}
}

func rowView(r store.SessionRow) SessionView {
	v := NewSessionView(r.Session)
	v.Reviewed = r.Review != nil
	if in := r.Insights; in != nil {
		v.Summary = in.Summary
		v.IntentPrimary = in.IntentPrimary
		v.Outcome = in.Outcome
		v.Sentiment = in.Sentiment
		score := in.QualityScore
		v.QualityScore = &score
	}
	return v
}

type ListResult struct {
	Sessions []SessionView `json:"sessions"`
	Total    int64         `json:"total"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

// JobView is the diagnostic slice of a job shown on the detail page.
type JobView struct {
	ID         string          `json:"id"`
	Type       types.JobType   `json:"type"`
	Status     types.JobStatus `json:"status"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
	NextRunAt  *time.Time      `json:"nextRunAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// DetailsView carries the stages that exist so far; absent stages are null.
type DetailsView struct {
	Session    SessionView       `json:"session"`
	Transcript *types.Transcript `json:"transcript"`
	Insights   *types.Insights   `json:"insights"`
	Review     *types.Review     `json:"review"`
	Jobs       []JobView         `json:"jobs"`
}

func detailsView(d *store.Details) *DetailsView {
	v := &DetailsView{
		Session:    rowView(store.SessionRow{Session: d.Session, Insights: d.Insights, Review: d.Review}),
		Transcript: d.Transcript,
		Insights:   d.Insights,
		Review:     d.Review,
		Jobs:       make([]JobView, 0, len(d.Jobs)),
	}
	for _, j := range d.Jobs {
		v.Jobs = append(v.Jobs, JobView{
			ID:         j.ID,
			Type:       j.Type,
			Status:     j.Status,
			Attempts:   j.Attempts,
			LastError:  j.LastError,
			NextRunAt:  j.NextRunAt,
			FinishedAt: j.FinishedAt,
			CreatedAt:  j.CreatedAt,
		})
	}
	return v
}

type AnalyticsSummary struct {
	RestaurantID string     `json:"restaurantId"`
	From         *time.Time `json:"from,omitempty"`
	To           *time.Time `json:"to,omitempty"`
	aggregator.Summary
	Highlights []actionable.ActionCard `json:"highlights"`
}
