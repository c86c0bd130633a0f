package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/types"
)

// UpsertTranscript writes the transcript for a session, replacing any earlier
// one. Call it from inside CompleteJob so the write commits with the state
// change.
func (s *Store) UpsertTranscript(ctx context.Context, t *types.Transcript) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "call_session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"transcript_text", "transcript_json", "language",
			"stt_provider", "stt_confidence", "updated_at",
		}),
	}).Create(t).Error
	if err != nil {
		return apperr.Internal(err, "upsert transcript")
	}
	return nil
}

func (s *Store) UpsertInsights(ctx context.Context, in *types.Insights) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "call_session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"summary", "intent_primary", "intents_secondary", "outcome", "sentiment",
			"friction_points", "improvement_suggestions", "extracted_entities",
			"quality_score", "model", "updated_at",
		}),
	}).Create(in).Error
	if err != nil {
		return apperr.Internal(err, "upsert insights")
	}
	return nil
}

// UpsertReview replaces the review of the session wholesale. It returns the
// review it replaced, or nil for the first write. The caller is expected to
// have checked tenant ownership of the session.
func (s *Store) UpsertReview(ctx context.Context, r *types.Review) (*types.Review, error) {
	var prior *types.Review
	err := s.Transaction(ctx, func(tx *Store) error {
		existing, err := tx.reviewFor(ctx, r.CallSessionID, true)
		if err != nil {
			return err
		}
		prior = existing
		now := time.Now().UTC()
		if r.ReviewedAt.IsZero() {
			r.ReviewedAt = now
		}
		if existing != nil {
			r.ID = existing.ID
			r.CreatedAt = existing.CreatedAt
		} else if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.UpdatedAt = now
		// a concurrent first write lands on the unique session index and is
		// overwritten instead of failing
		err = tx.conn(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "call_session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"reviewed_by", "reviewed_at", "internal_notes", "tags", "follow_up_action", "updated_at",
			}),
		}).Create(r).Error
		if err != nil {
			return apperr.Internal(err, "upsert review")
		}
		if existing != nil {
			return nil
		}
		stored, err := tx.reviewFor(ctx, r.CallSessionID, false)
		if err != nil {
			return err
		}
		if stored != nil {
			r.ID = stored.ID
			r.CreatedAt = stored.CreatedAt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prior, nil
}

func (s *Store) reviewFor(ctx context.Context, sessionID string, forUpdate bool) (*types.Review, error) {
	var r types.Review
	q := s.conn(ctx)
	if forUpdate && s.db.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("call_session_id = ?", sessionID).First(&r).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "load review")
	}
	return &r, nil
}

func (s *Store) transcriptFor(ctx context.Context, sessionID string) (*types.Transcript, error) {
	var t types.Transcript
	err := s.conn(ctx).Where("call_session_id = ?", sessionID).First(&t).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "load transcript")
	}
	return &t, nil
}

func (s *Store) insightsFor(ctx context.Context, sessionID string) (*types.Insights, error) {
	var in types.Insights
	err := s.conn(ctx).Where("call_session_id = ?", sessionID).First(&in).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "load insights")
	}
	return &in, nil
}

// Transcript returns the stored transcript of a tenant's session, or nil when
// transcription has not completed.
func (s *Store) Transcript(ctx context.Context, restaurantID, sessionID string) (*types.Transcript, error) {
	if _, err := s.GetSession(ctx, restaurantID, sessionID); err != nil {
		return nil, err
	}
	return s.transcriptFor(ctx, sessionID)
}

// SetAudioURL records the recording location for a session.
func (s *Store) SetAudioURL(ctx context.Context, restaurantID, sessionID, audioURL string) error {
	res := s.conn(ctx).Model(&types.CallSession{}).
		Where("id = ? AND restaurant_id = ?", sessionID, restaurantID).
		Updates(map[string]any{"audio_url": audioURL, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return apperr.Internal(res.Error, "set audio url")
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("call session %s not found", sessionID)
	}
	return nil
}
