package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/store"
	"call-insights-go/internal/store/storetest"
	"call-insights-go/internal/types"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *store.Store, restaurantID, callID string, startedAt time.Time, duration int) *types.CallSession {
	t.Helper()
	cs, created, err := s.CreateSession(context.Background(), &types.CallSession{
		RestaurantID:    restaurantID,
		Provider:        "vapi",
		ProviderCallID:  callID,
		Direction:       types.DirectionInbound,
		FromNumber:      "+1 (415) 555-0142",
		ToNumber:        "+14155550000",
		StartedAt:       startedAt,
		DurationSeconds: duration,
		AudioURL:        "https://cdn.example.com/" + callID + ".wav",
	})
	require.NoError(t, err)
	require.True(t, created)
	return cs
}

func TestCreateSessionIsIdempotentPerProviderCall(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	first := seed(t, s, "r1", "call-1", base, 30)
	assert.Equal(t, types.StatusReceived, first.Status)

	again, created, err := s.CreateSession(ctx, &types.CallSession{
		RestaurantID: "r1", Provider: "vapi", ProviderCallID: "call-1", StartedAt: base,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	// same provider call id under another tenant is a different session
	other := seed(t, s, "r2", "call-1", base, 30)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestGetSessionHidesOtherTenants(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 30)

	got, err := s.GetSession(ctx, "r1", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, "+1 (415) 555-0142", got.FromNumber)

	_, errOther := s.GetSession(ctx, "r2", cs.ID)
	_, errMissing := s.GetSession(ctx, "r1", "does-not-exist")
	assert.True(t, apperr.IsNotFound(errOther))
	assert.True(t, apperr.IsNotFound(errMissing))
	assert.Equal(t, "call session does-not-exist not found", apperr.PublicMessage(errMissing))

	_, err = s.GetSession(ctx, "", cs.ID)
	assert.True(t, apperr.IsValidation(err))
}

func TestAdvanceStateIsConditional(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 30)

	require.NoError(t, s.AdvanceState(ctx, cs.ID, types.StatusReceived, types.StatusTranscriptPending, "test"))

	err := s.AdvanceState(ctx, cs.ID, types.StatusReceived, types.StatusTranscriptPending, "duplicate")
	assert.True(t, apperr.IsConflict(err))

	err = s.AdvanceState(ctx, cs.ID, types.StatusReceived, types.StatusAnalyzing, "skip")
	assert.True(t, apperr.IsPrecondition(err))

	err = s.AdvanceState(ctx, "missing", types.StatusReceived, types.StatusTranscriptPending, "x")
	assert.True(t, apperr.IsNotFound(err))

	history, err := s.Transitions(ctx, "r1", cs.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.StatusReceived, history[0].FromState)
	assert.Equal(t, types.StatusTranscriptPending, history[0].ToState)
}
