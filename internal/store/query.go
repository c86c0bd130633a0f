package store

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/pipeline"
	"call-insights-go/internal/types"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// SessionFilter narrows ListSessions. Zero values mean "no filter".
type SessionFilter struct {
	From        *time.Time
	To          *time.Time
	Intent      string
	Outcome     string
	Sentiment   string
	Status      types.SessionStatus
	DurationMin *int
	DurationMax *int
	Reviewed    *bool
	Search      string

	SortBy string // startedAt (default) | duration | qualityScore
	Asc    bool

	Limit  int
	Offset int
}

// ClampPage applies the paging bounds: limit in [1,100] with 0 meaning the
// default, offset never negative.
func ClampPage(limit, offset int) (int, int) {
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 1:
		limit = 1
	case limit > MaxLimit:
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

var sortColumns = map[string]string{
	"":             "call_sessions.started_at",
	"startedAt":    "call_sessions.started_at",
	"duration":     "call_sessions.duration_seconds",
	"qualityScore": "call_insights.quality_score",
}

// SessionRow is one list entry: the session plus whatever later stages have
// produced so far.
type SessionRow struct {
	Session  types.CallSession
	Insights *types.Insights
	Review   *types.Review
}

// ListSessions returns one page of a tenant's sessions and the total number
// matching the filter.
func (s *Store) ListSessions(ctx context.Context, restaurantID string, f SessionFilter) ([]SessionRow, int64, error) {
	if restaurantID == "" {
		return nil, 0, apperr.Validationf("restaurant id is required")
	}
	orderCol, ok := sortColumns[f.SortBy]
	if !ok {
		return nil, 0, apperr.Validationf("unsupported sort %q", f.SortBy)
	}
	if f.Status != "" && !pipeline.Known(f.Status) {
		return nil, 0, apperr.Validationf("unknown status %q", f.Status)
	}
	f.Limit, f.Offset = ClampPage(f.Limit, f.Offset)

	var (
		rows  []SessionRow
		total int64
	)
	err := s.snapshot(ctx, func(tx *Store) error {
		q := tx.filtered(ctx, restaurantID, f).Session(&gorm.Session{})
		if err := q.Count(&total).Error; err != nil {
			return apperr.Internal(err, "count call sessions")
		}
		if total == 0 {
			return nil
		}

		dir := " DESC"
		if f.Asc {
			dir = " ASC"
		}
		var sessions []types.CallSession
		err := q.Select("call_sessions.*").
			Order(orderCol + dir).
			Order("call_sessions.id" + dir).
			Limit(f.Limit).
			Offset(f.Offset).
			Find(&sessions).Error
		if err != nil {
			return apperr.Internal(err, "list call sessions")
		}
		rows, err = tx.attach(ctx, sessions)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// filtered builds the tenant-scoped WHERE clause shared by list and export.
func (s *Store) filtered(ctx context.Context, restaurantID string, f SessionFilter) *gorm.DB {
	q := s.conn(ctx).Model(&types.CallSession{}).
		Where("call_sessions.restaurant_id = ?", restaurantID)

	if f.From != nil {
		q = q.Where("call_sessions.started_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("call_sessions.started_at <= ?", f.To.UTC())
	}
	if f.Status != "" {
		q = q.Where("call_sessions.status = ?", f.Status)
	}
	if f.DurationMin != nil {
		q = q.Where("call_sessions.duration_seconds >= ?", *f.DurationMin)
	}
	if f.DurationMax != nil {
		q = q.Where("call_sessions.duration_seconds <= ?", *f.DurationMax)
	}

	search := strings.TrimSpace(f.Search)
	needInsights := f.Intent != "" || f.Outcome != "" || f.Sentiment != "" || search != "" || f.SortBy == "qualityScore"
	if needInsights {
		q = q.Joins("LEFT JOIN call_insights ON call_insights.call_session_id = call_sessions.id")
	}
	if f.Intent != "" {
		q = q.Where("call_insights.intent_primary = ?", normalizeTerm(f.Intent))
	}
	if f.Outcome != "" {
		q = q.Where("call_insights.outcome = ?", normalizeTerm(f.Outcome))
	}
	if f.Sentiment != "" {
		q = q.Where("call_insights.sentiment = ?", normalizeTerm(f.Sentiment))
	}
	if search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		q = q.Joins("LEFT JOIN transcripts ON transcripts.call_session_id = call_sessions.id").
			Where("(LOWER(transcripts.transcript_text) LIKE ? ESCAPE '!' OR LOWER(call_insights.summary) LIKE ? ESCAPE '!')", pattern, pattern)
	}
	if f.Reviewed != nil {
		exists := "EXISTS (SELECT 1 FROM call_reviews WHERE call_reviews.call_session_id = call_sessions.id)"
		if *f.Reviewed {
			q = q.Where(exists)
		} else {
			q = q.Where("NOT " + exists)
		}
	}
	return q
}

// attach loads insights and reviews for a page of sessions with two IN
// queries.
func (s *Store) attach(ctx context.Context, sessions []types.CallSession) ([]SessionRow, error) {
	ids := make([]string, len(sessions))
	for i, cs := range sessions {
		ids[i] = cs.ID
	}

	var insights []types.Insights
	if err := s.conn(ctx).Where("call_session_id IN ?", ids).Find(&insights).Error; err != nil {
		return nil, apperr.Internal(err, "load insights")
	}
	var reviews []types.Review
	if err := s.conn(ctx).Where("call_session_id IN ?", ids).Find(&reviews).Error; err != nil {
		return nil, apperr.Internal(err, "load reviews")
	}

	bySession := make(map[string]*types.Insights, len(insights))
	for i := range insights {
		bySession[insights[i].CallSessionID] = &insights[i]
	}
	reviewed := make(map[string]*types.Review, len(reviews))
	for i := range reviews {
		reviewed[reviews[i].CallSessionID] = &reviews[i]
	}

	rows := make([]SessionRow, len(sessions))
	for i, cs := range sessions {
		rows[i] = SessionRow{Session: cs, Insights: bySession[cs.ID], Review: reviewed[cs.ID]}
	}
	return rows, nil
}

// Details is the joined view of one session. Missing stages are nil.
type Details struct {
	Session    types.CallSession
	Transcript *types.Transcript
	Insights   *types.Insights
	Review     *types.Review
	Jobs       []types.Job
}

// SessionDetails reads a session and its related records in one snapshot so
// the status never disagrees with the rows present.
func (s *Store) SessionDetails(ctx context.Context, restaurantID, sessionID string) (*Details, error) {
	var d Details
	err := s.snapshot(ctx, func(tx *Store) error {
		cs, err := tx.GetSession(ctx, restaurantID, sessionID)
		if err != nil {
			return err
		}
		d.Session = *cs
		if d.Transcript, err = tx.transcriptFor(ctx, sessionID); err != nil {
			return err
		}
		if d.Insights, err = tx.insightsFor(ctx, sessionID); err != nil {
			return err
		}
		if d.Review, err = tx.reviewFor(ctx, sessionID, false); err != nil {
			return err
		}
		d.Jobs, err = tx.JobsForSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func normalizeTerm(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(v string) string {
	return likeEscaper.Replace(v)
}
