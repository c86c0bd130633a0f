package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/pipeline"
	"call-insights-go/internal/types"
)

var (
	errActiveJobExists = errors.New("active job exists")
	errEnqueueRace     = errors.New("active job created concurrently")
)

// EnqueueJob creates a queued job of type jt for the session and moves the
// session into the job's pending state. If a job of that type is already
// queued or running for the session it is returned with created=false and
// nothing is written.
func (s *Store) EnqueueJob(ctx context.Context, restaurantID, sessionID string, jt types.JobType) (*types.Job, bool, error) {
	return s.EnqueueJobWith(ctx, restaurantID, sessionID, jt, nil)
}

// EnqueueJobWith is EnqueueJob with an extra write that commits only if a new
// job is created. onCreate runs inside the enqueue transaction and must use
// the Store it is given.
func (s *Store) EnqueueJobWith(ctx context.Context, restaurantID, sessionID string, jt types.JobType, onCreate func(tx *Store) error) (*types.Job, bool, error) {
	allowed, pending := pipeline.EnqueueFrom(jt)
	if pending == "" {
		return nil, false, apperr.Validationf("unknown job type %q", jt)
	}

	var job *types.Job
	err := s.Transaction(ctx, func(tx *Store) error {
		session, err := tx.GetSession(ctx, restaurantID, sessionID)
		if err != nil {
			return err
		}
		active, err := tx.activeJob(ctx, sessionID, jt)
		if err != nil {
			return err
		}
		if active != nil {
			job = active
			return errActiveJobExists
		}

		// A pending session without an active job lost its job (crash between
		// commits); allow re-creating it without another transition.
		if !slices.Contains(allowed, session.Status) && session.Status != pending {
			if jt == types.JobAnalysis {
				return apperr.Preconditionf("transcript not ready: call session %s is %s", sessionID, session.Status)
			}
			return apperr.Preconditionf("call session %s is %s, cannot enqueue %s", sessionID, session.Status, jt)
		}

		key := types.ActiveKeyFor(sessionID, jt)
		job = &types.Job{
			ID:            uuid.NewString(),
			Type:          jt,
			CallSessionID: sessionID,
			RestaurantID:  restaurantID,
			Status:        types.JobQueued,
			ActiveKey:     &key,
		}
		if err := tx.conn(ctx).Create(job).Error; err != nil {
			job = nil
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errEnqueueRace
			}
			return apperr.Internal(err, "create job")
		}
		if onCreate != nil {
			if err := onCreate(tx); err != nil {
				job = nil
				return err
			}
		}
		if session.Status != pending {
			return tx.advance(ctx, sessionID, session.Status, pending, "enqueue "+string(jt))
		}
		return nil
	})
	if errors.Is(err, errActiveJobExists) {
		return job, false, nil
	}
	if errors.Is(err, errEnqueueRace) {
		// lost the race on the unique active key; report the winner
		active, aerr := s.activeJob(ctx, sessionID, jt)
		if aerr != nil {
			return nil, false, aerr
		}
		if active == nil {
			return nil, false, apperr.Conflictf("concurrent enqueue for call session %s", sessionID)
		}
		return active, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (s *Store) activeJob(ctx context.Context, sessionID string, jt types.JobType) (*types.Job, error) {
	var job types.Job
	err := s.conn(ctx).Where("active_key = ?", types.ActiveKeyFor(sessionID, jt)).First(&job).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "load active job")
	}
	return &job, nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	var job types.Job
	err := s.conn(ctx).Where("id = ?", jobID).First(&job).Error
	if isNotFound(err) {
		return nil, apperr.NotFoundf("job %s not found", jobID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "load job")
	}
	return &job, nil
}

// JobsForSession lists every job recorded for a session, newest first.
func (s *Store) JobsForSession(ctx context.Context, sessionID string) ([]types.Job, error) {
	var jobs []types.Job
	err := s.conn(ctx).Where("call_session_id = ?", sessionID).Order("created_at DESC").Find(&jobs).Error
	if err != nil {
		return nil, apperr.Internal(err, "list jobs")
	}
	return jobs, nil
}

// ClaimJob moves a queued job to running and bumps its attempt counter.
// It returns nil when another worker claimed it first or it is no longer
// queued.
func (s *Store) ClaimJob(ctx context.Context, jobID string) (*types.Job, error) {
	now := time.Now().UTC()
	res := s.conn(ctx).Model(&types.Job{}).
		Where("id = ? AND status = ?", jobID, types.JobQueued).
		Updates(map[string]any{
			"status":      types.JobRunning,
			"attempts":    gorm.Expr("attempts + 1"),
			"started_at":  now,
			"next_run_at": nil,
			"updated_at":  now,
		})
	if res.Error != nil {
		return nil, apperr.Internal(res.Error, "claim job")
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return s.GetJob(ctx, jobID)
}

// runningJob scopes an update to the exact attempt a worker claimed, so a
// worker whose job was swept and re-run elsewhere cannot overwrite it.
func (s *Store) runningJob(ctx context.Context, job *types.Job) *gorm.DB {
	return s.conn(ctx).Model(&types.Job{}).
		Where("id = ? AND status = ? AND attempts = ?", job.ID, types.JobRunning, job.Attempts)
}

// CompleteJob commits a successful attempt: write runs inside the same
// transaction as the state transition and the job update, so either the
// result and the new state are both visible or neither is.
func (s *Store) CompleteJob(ctx context.Context, job *types.Job, write func(tx *Store) error) error {
	running, succeeded, _ := pipeline.Outcome(job.Type)
	return s.Transaction(ctx, func(tx *Store) error {
		now := time.Now().UTC()
		res := tx.runningJob(ctx, job).Updates(map[string]any{
			"status":      types.JobSucceeded,
			"active_key":  nil,
			"last_error":  "",
			"finished_at": now,
			"updated_at":  now,
		})
		if res.Error != nil {
			return apperr.Internal(res.Error, "complete job")
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("job %s attempt %d is no longer running", job.ID, job.Attempts)
		}
		if err := write(tx); err != nil {
			return err
		}
		return tx.advance(ctx, job.CallSessionID, running, succeeded, string(job.Type)+" succeeded")
	})
}

// RetryJob puts a failed attempt back in the queue to run at nextRun.
func (s *Store) RetryJob(ctx context.Context, job *types.Job, lastErr string, nextRun time.Time) error {
	res := s.runningJob(ctx, job).Updates(map[string]any{
		"status":      types.JobQueued,
		"last_error":  lastErr,
		"next_run_at": nextRun.UTC(),
		"updated_at":  time.Now().UTC(),
	})
	if res.Error != nil {
		return apperr.Internal(res.Error, "requeue job")
	}
	if res.RowsAffected == 0 {
		return apperr.Conflictf("job %s attempt %d is no longer running", job.ID, job.Attempts)
	}
	return nil
}

// FailJob marks the job failed for good and moves the session to the
// matching terminal failure state.
func (s *Store) FailJob(ctx context.Context, job *types.Job, lastErr string) error {
	running, _, failed := pipeline.Outcome(job.Type)
	return s.Transaction(ctx, func(tx *Store) error {
		now := time.Now().UTC()
		res := tx.runningJob(ctx, job).Updates(map[string]any{
			"status":      types.JobFailed,
			"active_key":  nil,
			"last_error":  lastErr,
			"finished_at": now,
			"updated_at":  now,
		})
		if res.Error != nil {
			return apperr.Internal(res.Error, "fail job")
		}
		if res.RowsAffected == 0 {
			return apperr.Conflictf("job %s attempt %d is no longer running", job.ID, job.Attempts)
		}
		return tx.advance(ctx, job.CallSessionID, running, failed, truncate(lastErr, 255))
	})
}

// DueJobs lists queued jobs whose retry time has passed (or was never set).
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]types.Job, error) {
	var jobs []types.Job
	err := s.conn(ctx).
		Where("status = ? AND (next_run_at IS NULL OR next_run_at <= ?)", types.JobQueued, now.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, apperr.Internal(err, "list due jobs")
	}
	return jobs, nil
}

// RequeueStale returns running jobs started before cutoff to the queue.
// Their attempt counters are kept, so a job that keeps hanging still runs
// out of attempts.
func (s *Store) RequeueStale(ctx context.Context, cutoff time.Time) ([]types.Job, error) {
	var stale []types.Job
	err := s.conn(ctx).
		Where("status = ? AND started_at < ?", types.JobRunning, cutoff.UTC()).
		Find(&stale).Error
	if err != nil {
		return nil, apperr.Internal(err, "list stale jobs")
	}
	requeued := stale[:0]
	for _, job := range stale {
		res := s.runningJob(ctx, &job).Updates(map[string]any{
			"status":      types.JobQueued,
			"last_error":  "worker timed out",
			"next_run_at": nil,
			"updated_at":  time.Now().UTC(),
		})
		if res.Error != nil {
			return nil, apperr.Internal(res.Error, "requeue stale job")
		}
		if res.RowsAffected == 1 {
			job.Status = types.JobQueued
			requeued = append(requeued, job)
		}
	}
	return requeued, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
