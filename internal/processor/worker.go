package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/audit"
	"call-insights-go/internal/metrics"
	"call-insights-go/internal/pii"
	"call-insights-go/internal/store"
	"call-insights-go/internal/types"
)

func (o *Orchestrator) worker(jt types.JobType, n int) {
	defer o.wg.Done()
	log := o.log.WithField("worker", string(jt)).WithField("n", n)
	log.Debug("worker up")
	for {
		select {
		case <-o.ctx.Done():
			log.Debug("worker down")
			return
		case id := <-o.queues[jt]:
			o.run(id)
		}
	}
}

// run executes one attempt of a job. The provider call and the result write
// share the job's timeout; bookkeeping after a failure does not.
func (o *Orchestrator) run(jobID string) {
	bg := context.WithoutCancel(o.ctx)
	job, err := o.store.ClaimJob(bg, jobID)
	if err != nil {
		o.log.WithError(err).WithField("job_id", jobID).Error("claim failed")
		return
	}
	if job == nil {
		return
	}
	log := o.log.WithJob(job.ID, string(job.Type), job.CallSessionID, job.Attempts)
	log.Info("job started")

	start := time.Now()
	ctx, cancel := context.WithTimeout(o.ctx, o.timeouts[job.Type])
	switch job.Type {
	case types.JobTranscription:
		err = o.transcribe(ctx, job)
	case types.JobAnalysis:
		err = o.analyze(ctx, job)
	default:
		err = apperr.Validationf("unknown job type %q", job.Type)
	}
	cancel()
	took := time.Since(start)

	switch {
	case err == nil:
		o.metrics.ObserveJob(string(job.Type), metrics.ResultSucceeded, took)
		log.WithField("duration_ms", took.Milliseconds()).Info("job succeeded")
		if job.Type == types.JobTranscription && o.cfg.AutoAnalyze {
			if _, err := o.EnqueueAnalysis(bg, job.RestaurantID, job.CallSessionID, audit.SystemActor); err != nil {
				log.WithError(err).Warn("auto analysis not enqueued")
			}
		}
	case apperr.IsConflict(err):
		// someone else resolved this attempt (stale sweep, duplicate delivery)
		o.metrics.ObserveJob(string(job.Type), metrics.ResultConflict, took)
		log.WithError(err).Warn("job result discarded")
	case o.ctx.Err() != nil:
		log.Warn("shutting down; job left for the stale sweeper")
	default:
		o.fail(bg, job, err, took)
	}
}

func (o *Orchestrator) transcribe(ctx context.Context, job *types.Job) error {
	cs, err := o.store.GetSession(ctx, job.RestaurantID, job.CallSessionID)
	if err != nil {
		return err
	}
	if cs.AudioURL == "" {
		return apperr.Validationf("call session %s has no audio url", cs.ID)
	}
	res, err := o.stt.Transcribe(ctx, cs.AudioURL)
	if err != nil {
		return err
	}
	return o.store.CompleteJob(ctx, job, func(tx *store.Store) error {
		return tx.UpsertTranscript(ctx, &types.Transcript{
			CallSessionID:  cs.ID,
			TranscriptText: res.Text,
			TranscriptJSON: res.Turns,
			Language:       res.Language,
			STTProvider:    res.Provider,
			STTConfidence:  res.Confidence,
		})
	})
}

func (o *Orchestrator) analyze(ctx context.Context, job *types.Job) error {
	tr, err := o.store.Transcript(ctx, job.RestaurantID, job.CallSessionID)
	if err != nil {
		return err
	}
	if tr == nil || tr.TranscriptText == "" {
		return apperr.Validationf("call session %s has no transcript", job.CallSessionID)
	}
	raw, err := o.llm.Analyze(ctx, tr.TranscriptText)
	if err != nil {
		return err
	}
	a := o.norm.Normalize(*raw)

	in := &types.Insights{
		CallSessionID:          job.CallSessionID,
		Summary:                a.Summary,
		IntentPrimary:          a.Intent,
		IntentsSecondary:       a.SecondaryIntents,
		Outcome:                a.Outcome,
		Sentiment:              a.Sentiment,
		FrictionPoints:         a.FrictionPoints,
		ImprovementSuggestions: a.Suggestions,
		QualityScore:           a.QualityScore,
		Model:                  a.Model,
	}
	if len(a.Entities) > 0 {
		b, err := json.Marshal(a.Entities)
		if err != nil {
			return apperr.Validationf("entities not encodable: %v", err)
		}
		in.ExtractedEntities = datatypes.JSON(b)
	}
	return o.store.CompleteJob(ctx, job, func(tx *store.Store) error {
		return tx.UpsertInsights(ctx, in)
	})
}

// fail records a failed attempt: requeue with backoff while attempts remain,
// otherwise mark the job and the session failed. Validation errors are not
// retried.
func (o *Orchestrator) fail(ctx context.Context, job *types.Job, cause error, took time.Duration) {
	log := o.log.WithJob(job.ID, string(job.Type), job.CallSessionID, job.Attempts)
	msg := pii.ScrubText(describe(cause))

	if job.Attempts < o.cfg.MaxAttempts && !apperr.IsValidation(cause) {
		delay := o.RetryDelay(job.Attempts)
		if err := o.store.RetryJob(ctx, job, msg, time.Now().Add(delay)); err != nil {
			log.WithError(err).Error("requeue failed")
			return
		}
		o.metrics.ObserveJob(string(job.Type), metrics.ResultRetried, took)
		log.WithField("last_error", msg).WithField("retry_in", delay.String()).Warn("job attempt failed; retrying")
		o.schedule(job.Type, job.ID, delay)
		return
	}

	if err := o.store.FailJob(ctx, job, msg); err != nil {
		log.WithError(err).Error("mark failed")
		return
	}
	o.metrics.ObserveJob(string(job.Type), metrics.ResultFailed, took)
	log.WithField("last_error", msg).Error("job failed")
	o.audit.Record(ctx, audit.Entry{
		RestaurantID: job.RestaurantID,
		ActorID:      audit.SystemActor,
		Action:       audit.ActionJobFailed,
		EntityType:   "job",
		EntityID:     job.ID,
		Details: map[string]any{
			"type":          job.Type,
			"callSessionId": job.CallSessionID,
			"attempts":      job.Attempts,
			"lastError":     msg,
		},
	})
}

func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out: " + err.Error()
	}
	return err.Error()
}
