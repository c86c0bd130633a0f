package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-insights-go/internal/store"
	"call-insights-go/internal/store/storetest"
	"call-insights-go/internal/types"
)

func analyze(t *testing.T, s *store.Store, cs *types.CallSession, transcript string, in types.Insights) {
	t.Helper()
	ctx := context.Background()

	q, _, err := s.EnqueueJob(ctx, cs.RestaurantID, cs.ID, types.JobTranscription)
	require.NoError(t, err)
	job, err := s.ClaimJob(ctx, q.ID)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, job, func(tx *store.Store) error {
		return tx.UpsertTranscript(ctx, &types.Transcript{CallSessionID: cs.ID, TranscriptText: transcript})
	}))

	q, _, err = s.EnqueueJob(ctx, cs.RestaurantID, cs.ID, types.JobAnalysis)
	require.NoError(t, err)
	job, err = s.ClaimJob(ctx, q.ID)
	require.NoError(t, err)
	in.CallSessionID = cs.ID
	require.NoError(t, s.CompleteJob(ctx, job, func(tx *store.Store) error {
		return tx.UpsertInsights(ctx, &in)
	}))
}

func ids(rows []store.SessionRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Session.ID
	}
	return out
}

func TestClampPage(t *testing.T) {
	cases := []struct{ limit, offset, wantLimit, wantOffset int }{
		{0, 0, 50, 0},
		{-5, -1, 1, 0},
		{1000, 20, 100, 20},
		{25, 3, 25, 3},
	}
	for _, tc := range cases {
		l, o := store.ClampPage(tc.limit, tc.offset)
		assert.Equal(t, tc.wantLimit, l)
		assert.Equal(t, tc.wantOffset, o)
	}
}

func TestListSessionsFiltersWithinTenant(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	long := seed(t, s, "r1", "call-1", base, 120)
	short := seed(t, s, "r1", "call-2", base.Add(time.Hour), 20)
	happy := seed(t, s, "r1", "call-3", base.Add(2*time.Hour), 90)
	pending := seed(t, s, "r1", "call-4", base.Add(3*time.Hour), 300)
	foreign := seed(t, s, "r2", "call-5", base, 500)

	analyze(t, s, long, "the pasta was cold", types.Insights{Sentiment: "negative", IntentPrimary: "complaint", Outcome: "refund", Summary: "Cold pasta"})
	analyze(t, s, short, "wrong order", types.Insights{Sentiment: "negative", IntentPrimary: "complaint", Outcome: "refund"})
	analyze(t, s, happy, "table for two at 7", types.Insights{Sentiment: "positive", IntentPrimary: "reservation", Outcome: "booked"})
	analyze(t, s, foreign, "cold food", types.Insights{Sentiment: "negative", IntentPrimary: "complaint"})

	minDur := 60
	rows, total, err := s.ListSessions(ctx, "r1", store.SessionFilter{Sentiment: "Negative", DurationMin: &minDur})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, []string{long.ID}, ids(rows))
	require.NotNil(t, rows[0].Insights)
	assert.Equal(t, "Cold pasta", rows[0].Insights.Summary)

	rows, total, err = s.ListSessions(ctx, "r1", store.SessionFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Equal(t, []string{pending.ID, happy.ID, short.ID, long.ID}, ids(rows))
	assert.Nil(t, rows[0].Insights)

	rows, _, err = s.ListSessions(ctx, "r1", store.SessionFilter{Search: "PASTA"})
	require.NoError(t, err)
	assert.Equal(t, []string{long.ID}, ids(rows))

	rows, _, err = s.ListSessions(ctx, "r1", store.SessionFilter{Search: "100%"})
	require.NoError(t, err)
	assert.Empty(t, rows)

	from, to := base.Add(30*time.Minute), base.Add(2*time.Hour)
	rows, _, err = s.ListSessions(ctx, "r1", store.SessionFilter{From: &from, To: &to, SortBy: "duration", Asc: true})
	require.NoError(t, err)
	assert.Equal(t, []string{short.ID, happy.ID}, ids(rows))

	rows, total, err = s.ListSessions(ctx, "r1", store.SessionFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	assert.Equal(t, []string{happy.ID, short.ID}, ids(rows))

	for _, r := range rows {
		assert.Equal(t, "r1", r.Session.RestaurantID)
	}

	_, _, err = s.ListSessions(ctx, "r1", store.SessionFilter{SortBy: "from_number; DROP TABLE"})
	assert.Error(t, err)
}

func TestListSessionsReviewedFilter(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	a := seed(t, s, "r1", "call-1", base, 10)
	b := seed(t, s, "r1", "call-2", base.Add(time.Minute), 10)

	_, err := s.UpsertReview(ctx, &types.Review{CallSessionID: a.ID, ReviewedBy: "u1"})
	require.NoError(t, err)

	yes, no := true, false
	rows, _, err := s.ListSessions(ctx, "r1", store.SessionFilter{Reviewed: &yes})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids(rows))
	require.NotNil(t, rows[0].Review)

	rows, _, err = s.ListSessions(ctx, "r1", store.SessionFilter{Reviewed: &no})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids(rows))
}

func TestUpsertReviewReplacesWholesale(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 10)

	prior, err := s.UpsertReview(ctx, &types.Review{
		CallSessionID: cs.ID, ReviewedBy: "u1", InternalNotes: "first", Tags: []string{"vip"}, FollowUpAction: "call back",
	})
	require.NoError(t, err)
	assert.Nil(t, prior)

	prior, err = s.UpsertReview(ctx, &types.Review{CallSessionID: cs.ID, ReviewedBy: "u2", Tags: []string{"resolved"}})
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, "first", prior.InternalNotes)

	var reviews []types.Review
	require.NoError(t, s.DB().Where("call_session_id = ?", cs.ID).Find(&reviews).Error)
	require.Len(t, reviews, 1)
	assert.Equal(t, "u2", reviews[0].ReviewedBy)
	assert.Empty(t, reviews[0].InternalNotes)
	assert.Empty(t, reviews[0].FollowUpAction)
	assert.Equal(t, []string{"resolved"}, []string(reviews[0].Tags))
}

func TestUpsertReviewConcurrentWritersKeepOneRow(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 10)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	ids := make([]string, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := &types.Review{CallSessionID: cs.ID, ReviewedBy: fmt.Sprintf("u%d", i)}
			_, errs[i] = s.UpsertReview(ctx, r)
			ids[i] = r.ID
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	var reviews []types.Review
	require.NoError(t, s.DB().Where("call_session_id = ?", cs.ID).Find(&reviews).Error)
	require.Len(t, reviews, 1)
	for _, id := range ids {
		assert.Equal(t, reviews[0].ID, id)
	}
}

func TestSessionDetailsReturnsPartialData(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 10)

	d, err := s.SessionDetails(ctx, "r1", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReceived, d.Session.Status)
	assert.Nil(t, d.Transcript)
	assert.Nil(t, d.Insights)
	assert.Nil(t, d.Review)

	_, err = s.SessionDetails(ctx, "r2", cs.ID)
	assert.Error(t, err)
}

func TestAggregateWindow(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	a := seed(t, s, "r1", "call-1", base, 30)
	b := seed(t, s, "r1", "call-2", base.Add(24*time.Hour), 90)
	seed(t, s, "r1", "call-3", base.Add(48*time.Hour), 300)
	seed(t, s, "r2", "call-4", base.Add(24*time.Hour), 10)

	analyze(t, s, a, "x", types.Insights{Sentiment: "negative", IntentPrimary: "complaint", Outcome: "refund", FrictionPoints: []string{"Long hold", "cold food"}})
	analyze(t, s, b, "y", types.Insights{Sentiment: "positive", IntentPrimary: "reservation", Outcome: "booked", FrictionPoints: []string{"long hold"}})
	_, err := s.UpsertReview(ctx, &types.Review{CallSessionID: a.ID, ReviewedBy: "u1"})
	require.NoError(t, err)

	from, to := base, base.Add(24*time.Hour)
	agg, err := s.Aggregate(ctx, "r1", &from, &to)
	require.NoError(t, err)
	assert.EqualValues(t, 2, agg.TotalCalls)
	assert.EqualValues(t, 1, agg.Reviewed)
	assert.Equal(t, []int{30, 90}, agg.Durations)
	assert.Equal(t, map[string]int64{"negative": 1, "positive": 1}, agg.Sentiments)
	assert.Equal(t, map[string]int64{"refund": 1, "booked": 1}, agg.Outcomes)
	assert.EqualValues(t, 2, agg.FrictionPoints["long hold"])
	assert.EqualValues(t, 2, agg.Statuses[types.StatusCompleted])

	all, err := s.Aggregate(ctx, "r1", nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.TotalCalls)
	assert.EqualValues(t, 1, all.Statuses[types.StatusReceived])
}
