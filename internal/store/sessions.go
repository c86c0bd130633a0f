package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/pipeline"
	"call-insights-go/internal/types"
)

// CreateSession inserts a new session in status received. Ingestion is
// idempotent on (restaurant, provider, providerCallId): a redelivered webhook
// returns the stored session and created=false.
func (s *Store) CreateSession(ctx context.Context, cs *types.CallSession) (*types.CallSession, bool, error) {
	var out *types.CallSession
	created := false
	err := s.Transaction(ctx, func(tx *Store) error {
		existing, err := tx.findByProviderCall(ctx, cs.RestaurantID, cs.Provider, cs.ProviderCallID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}
		if cs.ID == "" {
			cs.ID = uuid.NewString()
		}
		cs.Status = types.StatusReceived
		if err := tx.conn(ctx).Create(cs).Error; err != nil {
			return apperr.Internal(err, "create call session")
		}
		out, created = cs, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *Store) findByProviderCall(ctx context.Context, restaurantID, provider, providerCallID string) (*types.CallSession, error) {
	var cs types.CallSession
	err := s.conn(ctx).
		Where("restaurant_id = ? AND provider = ? AND provider_call_id = ?", restaurantID, provider, providerCallID).
		First(&cs).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "find call session")
	}
	return &cs, nil
}

// GetSession loads a session owned by restaurantID. A session that exists
// under another restaurant is reported exactly like a missing one.
func (s *Store) GetSession(ctx context.Context, restaurantID, sessionID string) (*types.CallSession, error) {
	if restaurantID == "" {
		return nil, apperr.Validationf("restaurant id is required")
	}
	var cs types.CallSession
	err := s.conn(ctx).
		Where("id = ? AND restaurant_id = ?", sessionID, restaurantID).
		First(&cs).Error
	if isNotFound(err) {
		return nil, apperr.NotFoundf("call session %s not found", sessionID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load call session")
	}
	return &cs, nil
}

// AdvanceState moves a session from `from` to `to` only if it is currently in
// `from`. A session in any other state yields a ConflictError and nothing is
// written, so duplicate worker completions cannot double-advance.
func (s *Store) AdvanceState(ctx context.Context, sessionID string, from, to types.SessionStatus, reason string) error {
	if err := pipeline.Check(from, to); err != nil {
		return err
	}
	return s.Transaction(ctx, func(tx *Store) error {
		return tx.advance(ctx, sessionID, from, to, reason)
	})
}

func (s *Store) advance(ctx context.Context, sessionID string, from, to types.SessionStatus, reason string) error {
	if err := pipeline.Check(from, to); err != nil {
		return err
	}
	now := time.Now().UTC()
	res := s.conn(ctx).Model(&types.CallSession{}).
		Where("id = ? AND status = ?", sessionID, from).
		Updates(map[string]any{"status": to, "updated_at": now})
	if res.Error != nil {
		return apperr.Internal(res.Error, "advance call session")
	}
	if res.RowsAffected == 0 {
		var current types.CallSession
		err := s.conn(ctx).Select("id", "status").Where("id = ?", sessionID).First(&current).Error
		if isNotFound(err) {
			return apperr.NotFoundf("call session %s not found", sessionID)
		}
		if err != nil {
			return apperr.Internal(err, "load call session")
		}
		return apperr.Conflictf("call session %s is %s, expected %s", sessionID, current.Status, from)
	}
	tr := types.SessionTransition{
		CallSessionID: sessionID,
		FromState:     from,
		ToState:       to,
		Reason:        reason,
		OccurredAt:    now,
	}
	if err := s.conn(ctx).Create(&tr).Error; err != nil {
		return apperr.Internal(err, "record transition")
	}
	return nil
}

// Transitions returns the state history of a session, oldest first.
func (s *Store) Transitions(ctx context.Context, restaurantID, sessionID string) ([]types.SessionTransition, error) {
	if _, err := s.GetSession(ctx, restaurantID, sessionID); err != nil {
		return nil, err
	}
	var out []types.SessionTransition
	err := s.conn(ctx).
		Where("call_session_id = ?", sessionID).
		Order("occurred_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.Internal(err, "load transitions")
	}
	return out, nil
}
