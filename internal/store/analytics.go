package store

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/types"
)

// Aggregates holds the raw per-tenant numbers behind the analytics summary.
// Distributions are keyed by the stored (already normalized) value.
type Aggregates struct {
	TotalCalls     int64
	Reviewed       int64
	Durations      []int
	Statuses       map[types.SessionStatus]int64
	Outcomes       map[string]int64
	Sentiments     map[string]int64
	Intents        map[string]int64
	FrictionPoints map[string]int64
}

type bucket struct {
	BucketKey   string
	BucketCount int64
}

// Aggregate computes Aggregates over the tenant's sessions whose startedAt
// falls in [from, to]; nil bounds are open. All queries run in one snapshot.
func (s *Store) Aggregate(ctx context.Context, restaurantID string, from, to *time.Time) (*Aggregates, error) {
	if restaurantID == "" {
		return nil, apperr.Validationf("restaurant id is required")
	}
	agg := &Aggregates{
		Statuses:       map[types.SessionStatus]int64{},
		Outcomes:       map[string]int64{},
		Sentiments:     map[string]int64{},
		Intents:        map[string]int64{},
		FrictionPoints: map[string]int64{},
	}
	err := s.snapshot(ctx, func(tx *Store) error {
		window := func() *gorm.DB {
			return tx.filtered(ctx, restaurantID, SessionFilter{From: from, To: to})
		}
		withInsights := func() *gorm.DB {
			return window().Joins("JOIN call_insights ON call_insights.call_session_id = call_sessions.id")
		}

		if err := window().Count(&agg.TotalCalls).Error; err != nil {
			return apperr.Internal(err, "count calls")
		}
		if agg.TotalCalls == 0 {
			return nil
		}
		if err := window().Order("call_sessions.duration_seconds ASC").
			Pluck("call_sessions.duration_seconds", &agg.Durations).Error; err != nil {
			return apperr.Internal(err, "load durations")
		}
		reviewed := true
		if err := tx.filtered(ctx, restaurantID, SessionFilter{From: from, To: to, Reviewed: &reviewed}).
			Count(&agg.Reviewed).Error; err != nil {
			return apperr.Internal(err, "count reviewed calls")
		}

		var statuses []bucket
		if err := window().
			Select("call_sessions.status AS bucket_key, COUNT(*) AS bucket_count").
			Group("call_sessions.status").
			Scan(&statuses).Error; err != nil {
			return apperr.Internal(err, "group statuses")
		}
		for _, b := range statuses {
			agg.Statuses[types.SessionStatus(b.BucketKey)] = b.BucketCount
		}

		for col, dst := range map[string]map[string]int64{
			"call_insights.outcome":        agg.Outcomes,
			"call_insights.sentiment":      agg.Sentiments,
			"call_insights.intent_primary": agg.Intents,
		} {
			var rows []bucket
			err := withInsights().
				Select(col + " AS bucket_key, COUNT(*) AS bucket_count").
				Where(col + " <> ''").
				Group(col).
				Scan(&rows).Error
			if err != nil {
				return apperr.Internal(err, "group %s", col)
			}
			for _, b := range rows {
				dst[b.BucketKey] = b.BucketCount
			}
		}

		var friction []struct {
			FrictionPoints datatypes.JSONSlice[string]
		}
		if err := withInsights().Select("call_insights.friction_points").Scan(&friction).Error; err != nil {
			return apperr.Internal(err, "load friction points")
		}
		for _, row := range friction {
			for _, p := range row.FrictionPoints {
				if p = normalizeTerm(p); p != "" {
					agg.FrictionPoints[p]++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// ExportRows returns every session in the window (newest first) with its
// insights and review, for spreadsheet export.
func (s *Store) ExportRows(ctx context.Context, restaurantID string, from, to *time.Time) ([]SessionRow, error) {
	if restaurantID == "" {
		return nil, apperr.Validationf("restaurant id is required")
	}
	var rows []SessionRow
	err := s.snapshot(ctx, func(tx *Store) error {
		var sessions []types.CallSession
		err := tx.filtered(ctx, restaurantID, SessionFilter{From: from, To: to}).
			Order("call_sessions.started_at DESC, call_sessions.id DESC").
			Find(&sessions).Error
		if err != nil {
			return apperr.Internal(err, "export call sessions")
		}
		if len(sessions) == 0 {
			return nil
		}
		rows, err = tx.attach(ctx, sessions)
		return err
	})
	return rows, err
}
