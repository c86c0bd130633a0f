package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/store"
	"call-insights-go/internal/store/storetest"
	"call-insights-go/internal/types"
)

func countJobs(t *testing.T, s *store.Store, sessionID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.DB().Model(&types.Job{}).Where("call_session_id = ?", sessionID).Count(&n).Error)
	return n
}

func TestEnqueueJobMovesSessionAndIsIdempotent(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 30)

	job, created, err := s.EnqueueJob(ctx, "r1", cs.ID, types.JobTranscription)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.JobQueued, job.Status)

	again, created, err := s.EnqueueJob(ctx, "r1", cs.ID, types.JobTranscription)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job.ID, again.ID)

	got, err := s.GetSession(ctx, "r1", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTranscriptPending, got.Status)
	assert.EqualValues(t, 1, countJobs(t, s, cs.ID))
}

func TestEnqueueJobConcurrentCallsCreateOneJob(t *testing.T) {
	s := storetest.New(t)
	cs := seed(t, s, "r1", "call-1", base, 30)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, _, err := s.EnqueueJob(context.Background(), "r1", cs.ID, types.JobTranscription)
			if assert.NoError(t, err) {
				ids[i] = job.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.EqualValues(t, 1, countJobs(t, s, cs.ID))
}

func TestEnqueueJobInsertFailureIsInternal(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 30)
	require.NoError(t, s.DB().Exec(
		"CREATE TRIGGER jobs_reject BEFORE INSERT ON jobs BEGIN SELECT RAISE(ABORT, 'jobs table is read-only'); END",
	).Error)

	_, _, err := s.EnqueueJob(ctx, "r1", cs.ID, types.JobTranscription)
	require.Error(t, err)
	assert.False(t, apperr.IsConflict(err))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	got, err := s.GetSession(ctx, "r1", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReceived, got.Status)
	assert.Zero(t, countJobs(t, s, cs.ID))
}

func TestEnqueueJobWithRollsBackOnHookError(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 30)

	_, _, err := s.EnqueueJobWith(ctx, "r1", cs.ID, types.JobTranscription, func(tx *store.Store) error {
		require.NoError(t, tx.SetAudioURL(ctx, "r1", cs.ID, "https://cdn.example.com/new.wav"))
		return apperr.Validationf("recording rejected")
	})
	require.True(t, apperr.IsValidation(err))
	assert.Zero(t, countJobs(t, s, cs.ID))
	got, err := s.GetSession(ctx, "r1", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReceived, got.Status)
	assert.Equal(t, cs.AudioURL, got.AudioURL)

	job, created, err := s.EnqueueJobWith(ctx, "r1", cs.ID, types.JobTranscription, func(tx *store.Store) error {
		return tx.SetAudioURL(ctx, "r1", cs.ID, "https://cdn.example.com/new.wav")
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.JobQueued, job.Status)
	got, err = s.GetSession(ctx, "r1", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/new.wav", got.AudioURL)
}

func TestEnqueueAnalysisRequiresTranscript(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 30)

	_, _, err := s.EnqueueJob(ctx, "r1", cs.ID, types.JobAnalysis)
	assert.True(t, apperr.IsPrecondition(err))

	_, _, err = s.EnqueueJob(ctx, "r1", cs.ID, types.JobTranscription)
	require.NoError(t, err)
	_, _, err = s.EnqueueJob(ctx, "r1", cs.ID, types.JobAnalysis)
	assert.True(t, apperr.IsPrecondition(err))

	_, _, err = s.EnqueueJob(ctx, "r2", cs.ID, types.JobTranscription)
	assert.True(t, apperr.IsNotFound(err))
}

func TestClaimCompleteRunsOnce(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 30)
	queued, _, err := s.EnqueueJob(ctx, "r1", cs.ID, types.JobTranscription)
	require.NoError(t, err)

	job, err := s.ClaimJob(ctx, queued.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, types.JobRunning, job.Status)

	second, err := s.ClaimJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Nil(t, second)

	err = s.CompleteJob(ctx, job, func(tx *store.Store) error {
		return tx.UpsertTranscript(ctx, &types.Transcript{CallSessionID: cs.ID, TranscriptText: "hello"})
	})
	require.NoError(t, err)

	// a duplicate completion of the same attempt is rejected without writes
	err = s.CompleteJob(ctx, job, func(tx *store.Store) error {
		return tx.UpsertTranscript(ctx, &types.Transcript{CallSessionID: cs.ID, TranscriptText: "again"})
	})
	assert.True(t, apperr.IsConflict(err))

	d, err := s.SessionDetails(ctx, "r1", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTranscriptReady, d.Session.Status)
	require.NotNil(t, d.Transcript)
	assert.Equal(t, "hello", d.Transcript.TranscriptText)

	done, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSucceeded, done.Status)
	assert.Nil(t, done.ActiveKey)
	assert.NotNil(t, done.FinishedAt)
}

func TestCompleteJobRollsBackOnWriteError(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 30)
	queued, _, err := s.EnqueueJob(ctx, "r1", cs.ID, types.JobTranscription)
	require.NoError(t, err)
	job, err := s.ClaimJob(ctx, queued.ID)
	require.NoError(t, err)

	err = s.CompleteJob(ctx, job, func(tx *store.Store) error {
		if err := tx.UpsertTranscript(ctx, &types.Transcript{CallSessionID: cs.ID, TranscriptText: "partial"}); err != nil {
			return err
		}
		return apperr.Internal(nil, "disk full")
	})
	require.Error(t, err)

	d, err := s.SessionDetails(ctx, "r1", cs.ID)
	require.NoError(t, err)
	assert.Nil(t, d.Transcript)
	assert.Equal(t, types.StatusTranscriptPending, d.Session.Status)

	still, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, still.Status)
}

func TestRetryThenFailJob(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 30)
	queued, _, err := s.EnqueueJob(ctx, "r1", cs.ID, types.JobTranscription)
	require.NoError(t, err)

	job, err := s.ClaimJob(ctx, queued.ID)
	require.NoError(t, err)
	next := time.Now().Add(time.Hour)
	require.NoError(t, s.RetryJob(ctx, job, "stt timeout", next))

	due, err := s.DueJobs(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	due, err = s.DueJobs(ctx, next.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	job, err = s.ClaimJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)
	require.NoError(t, s.FailJob(ctx, job, "stt timeout"))

	failed, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, failed.Status)
	assert.Equal(t, "stt timeout", failed.LastError)

	got, err := s.GetSession(ctx, "r1", cs.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTranscriptFailed, got.Status)

	// failed sessions can be retried with a fresh job
	retry, created, err := s.EnqueueJob(ctx, "r1", cs.ID, types.JobTranscription)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, job.ID, retry.ID)
}

func TestRequeueStaleKeepsAttempts(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	cs := seed(t, s, "r1", "call-1", base, 30)
	queued, _, err := s.EnqueueJob(ctx, "r1", cs.ID, types.JobTranscription)
	require.NoError(t, err)
	job, err := s.ClaimJob(ctx, queued.ID)
	require.NoError(t, err)

	none, err := s.RequeueStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)

	requeued, err := s.RequeueStale(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, requeued, 1)
	assert.Equal(t, types.JobQueued, requeued[0].Status)
	assert.Equal(t, 1, requeued[0].Attempts)

	// the original worker can no longer commit its attempt
	err = s.RetryJob(ctx, job, "late", time.Now())
	assert.True(t, apperr.IsConflict(err))
}
