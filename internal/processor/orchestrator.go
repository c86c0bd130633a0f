// Package processor runs the asynchronous half of the call pipeline: it
// enqueues transcription and analysis jobs, drives per-type worker pools and
// applies the retry policy.
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/audit"
	"call-insights-go/internal/config"
	"call-insights-go/internal/extractor"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/metrics"
	"call-insights-go/internal/store"
	"call-insights-go/internal/transcription"
	"call-insights-go/internal/types"
)

type Orchestrator struct {
	store   *store.Store
	stt     transcription.Transcriber
	llm     extractor.Analyzer
	norm    extractor.Normalizer
	audit   audit.Sink
	metrics *metrics.Metrics
	cfg     config.JobsConfig
	log     *logger.Logger

	queues   map[types.JobType]chan string
	timeouts map[types.JobType]time.Duration

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

type Deps struct {
	Store       *store.Store
	Transcriber transcription.Transcriber
	Analyzer    extractor.Analyzer
	Normalizer  extractor.Normalizer
	Audit       audit.Sink
	Metrics     *metrics.Metrics
	Log         *logger.Logger
}

func New(cfg config.JobsConfig, d Deps) *Orchestrator {
	if d.Audit == nil {
		d.Audit = &audit.Memory{}
	}
	if d.Log == nil {
		d.Log = logger.Discard()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Orchestrator{
		store:   d.Store,
		stt:     d.Transcriber,
		llm:     d.Analyzer,
		norm:    d.Normalizer,
		audit:   d.Audit,
		metrics: d.Metrics,
		cfg:     cfg,
		log:     d.Log.Component("orchestrator"),
		queues: map[types.JobType]chan string{
			types.JobTranscription: make(chan string, size),
			types.JobAnalysis:      make(chan string, size),
		},
		timeouts: map[types.JobType]time.Duration{
			types.JobTranscription: cfg.TranscriptionTimeout,
			types.JobAnalysis:      cfg.AnalysisTimeout,
		},
	}
}

// Start launches the worker pools and re-dispatches jobs left queued by a
// previous run. Workers stop when ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.started = true
	o.mu.Unlock()

	pools := map[types.JobType]int{
		types.JobTranscription: o.cfg.TranscriptionWorkers,
		types.JobAnalysis:      o.cfg.AnalysisWorkers,
	}
	for jt, n := range pools {
		for i := 0; i < n; i++ {
			o.wg.Add(1)
			go o.worker(jt, i)
		}
	}
	o.log.WithField("transcription_workers", o.cfg.TranscriptionWorkers).
		WithField("analysis_workers", o.cfg.AnalysisWorkers).
		Info("workers started")

	n, err := o.DispatchDue(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		o.log.WithField("jobs", n).Info("re-dispatched queued jobs")
	}
	return nil
}

// Stop cancels in-flight attempts and waits for the workers to exit. A job
// interrupted this way stays running until the stale sweeper requeues it.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
}

// EnqueueTranscription queues transcription of a tenant's session. audioURL
// overrides the recording stored on the session; one of the two must be set.
// A transcription already queued or running is returned instead of a new job.
func (o *Orchestrator) EnqueueTranscription(ctx context.Context, restaurantID, sessionID, audioURL, actorID string) (*types.Job, error) {
	cs, err := o.store.GetSession(ctx, restaurantID, sessionID)
	if err != nil {
		return nil, err
	}
	if audioURL == "" {
		audioURL = cs.AudioURL
	}
	if audioURL == "" {
		return nil, apperr.Validationf("audioUrl is required")
	}

	var setAudio func(tx *store.Store) error
	if audioURL != cs.AudioURL {
		setAudio = func(tx *store.Store) error {
			return tx.SetAudioURL(ctx, restaurantID, sessionID, audioURL)
		}
	}
	job, created, err := o.store.EnqueueJobWith(ctx, restaurantID, sessionID, types.JobTranscription, setAudio)
	if err != nil {
		return nil, err
	}
	if !created {
		return job, nil
	}
	o.audit.Record(ctx, audit.Entry{
		RestaurantID: restaurantID,
		ActorID:      actorID,
		Action:       audit.ActionTranscriptionEnqueue,
		EntityType:   "call_session",
		EntityID:     sessionID,
		Details:      map[string]any{"jobId": job.ID},
	})
	o.dispatch(job.Type, job.ID)
	return job, nil
}

// EnqueueAnalysis queues analysis of a session whose transcript is ready.
// Any other state yields a PreconditionError.
func (o *Orchestrator) EnqueueAnalysis(ctx context.Context, restaurantID, sessionID, actorID string) (*types.Job, error) {
	job, created, err := o.store.EnqueueJob(ctx, restaurantID, sessionID, types.JobAnalysis)
	if err != nil {
		return nil, err
	}
	if !created {
		return job, nil
	}
	o.audit.Record(ctx, audit.Entry{
		RestaurantID: restaurantID,
		ActorID:      actorID,
		Action:       audit.ActionAnalysisEnqueue,
		EntityType:   "call_session",
		EntityID:     sessionID,
		Details:      map[string]any{"jobId": job.ID},
	})
	o.dispatch(job.Type, job.ID)
	return job, nil
}

// DispatchDue pushes queued jobs whose retry time has passed onto the worker
// queues. Dispatching a job twice is harmless; only one claim succeeds.
func (o *Orchestrator) DispatchDue(ctx context.Context) (int, error) {
	limit := o.cfg.QueueSize
	if limit <= 0 {
		limit = 256
	}
	jobs, err := o.store.DueJobs(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		o.dispatch(j.Type, j.ID)
	}
	return len(jobs), nil
}

// SweepStale requeues jobs stuck in running for longer than StaleAfter and
// dispatches them again.
func (o *Orchestrator) SweepStale(ctx context.Context) (int, error) {
	jobs, err := o.store.RequeueStale(ctx, time.Now().Add(-o.cfg.StaleAfter))
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		o.log.WithJob(j.ID, string(j.Type), j.CallSessionID, j.Attempts).Warn("requeued stale job")
		o.dispatch(j.Type, j.ID)
	}
	return len(jobs), nil
}

// RetryDelay is the wait before attempt+1: initial*multiplier^(attempt-1),
// capped at BackoffMax. No jitter.
func (o *Orchestrator) RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.BackoffInitial
	b.Multiplier = o.cfg.BackoffMultiplier
	b.MaxInterval = o.cfg.BackoffMax
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.InitialInterval
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (o *Orchestrator) dispatch(jt types.JobType, jobID string) {
	o.mu.Lock()
	ctx := o.ctx
	o.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		// not running; the job stays queued and Start picks it up
		return
	}
	select {
	case o.queues[jt] <- jobID:
	default:
		o.log.WithField("job_id", jobID).Warn("job queue full; left for the sweeper")
	}
}

func (o *Orchestrator) schedule(jt types.JobType, jobID string, delay time.Duration) {
	time.AfterFunc(delay, func() { o.dispatch(jt, jobID) })
}
