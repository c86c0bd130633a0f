// Package conversations is the tenant-facing read and annotation surface of
// the call pipeline: ingestion, listing, details, analytics and reviews.
// Every outward value passes through the views in this package, which mask
// caller numbers.
package conversations

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/datatypes"

	"call-insights-go/internal/actionable"
	"call-insights-go/internal/aggregator"
	"call-insights-go/internal/apperr"
	"call-insights-go/internal/audit"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/metrics"
	"call-insights-go/internal/store"
	"call-insights-go/internal/types"
)

// Pipeline is the job side the service hands work to.
type Pipeline interface {
	EnqueueTranscription(ctx context.Context, restaurantID, sessionID, audioURL, actorID string) (*types.Job, error)
	EnqueueAnalysis(ctx context.Context, restaurantID, sessionID, actorID string) (*types.Job, error)
}

type Options struct {
	AutoTranscribe bool
	TopIntents     int
	CacheTTL       time.Duration
}

type Service struct {
	store    *store.Store
	pipeline Pipeline
	audit    audit.Sink
	metrics  *metrics.Metrics
	opts     Options
	cache    *cache.Cache
	cacheMu  sync.Mutex
	gens     map[string]uint64
	log      *logger.Logger
}

func New(st *store.Store, p Pipeline, sink audit.Sink, m *metrics.Metrics, opts Options, log *logger.Logger) *Service {
	if sink == nil {
		sink = &audit.Memory{}
	}
	if opts.TopIntents <= 0 {
		opts.TopIntents = 5
	}
	s := &Service{
		store:    st,
		pipeline: p,
		audit:    sink,
		metrics:  m,
		opts:     opts,
		log:      log.Component("conversations"),
	}
	if opts.CacheTTL > 0 {
		s.cache = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
		s.gens = make(map[string]uint64)
	}
	return s
}

// CallPayload is what the telephony provider's webhook delivers.
type CallPayload struct {
	Provider        string          `json:"provider"`
	ProviderCallID  string          `json:"providerCallId"`
	Direction       string          `json:"direction"`
	FromNumber      string          `json:"fromNumber"`
	ToNumber        string          `json:"toNumber"`
	StartedAt       *time.Time      `json:"startedAt"`
	EndedAt         *time.Time      `json:"endedAt"`
	DurationSeconds *int            `json:"durationSeconds"`
	AudioURL        string          `json:"audioUrl"`
	Metadata        json.RawMessage `json:"metadata"`
}

func (p CallPayload) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"provider":       p.Provider,
		"providerCallId": p.ProviderCallID,
		"fromNumber":     p.FromNumber,
		"toNumber":       p.ToNumber,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if p.StartedAt == nil || p.StartedAt.IsZero() {
		missing = append(missing, "startedAt")
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return apperr.Validationf("missing required fields: %s", strings.Join(missing, ", "))
	}
	switch types.Direction(strings.ToLower(p.Direction)) {
	case types.DirectionInbound, types.DirectionOutbound, "":
	default:
		return apperr.Validationf("direction must be inbound or outbound")
	}
	if p.EndedAt != nil && p.EndedAt.Before(*p.StartedAt) {
		return apperr.Validationf("endedAt is before startedAt")
	}
	if p.DurationSeconds != nil && *p.DurationSeconds < 0 {
		return apperr.Validationf("durationSeconds must not be negative")
	}
	if len(p.Metadata) > 0 && !json.Valid(p.Metadata) {
		return apperr.Validationf("metadata is not valid JSON")
	}
	return nil
}

// IngestCall records a call reported by the telephony provider. Redelivery of
// the same provider call returns the stored session with created=false.
func (s *Service) IngestCall(ctx context.Context, restaurantID string, p CallPayload) (*SessionView, bool, error) {
	if restaurantID == "" {
		return nil, false, apperr.Validationf("restaurant id is required")
	}
	if err := p.validate(); err != nil {
		return nil, false, err
	}

	cs := &types.CallSession{
		RestaurantID:   restaurantID,
		Provider:       strings.TrimSpace(p.Provider),
		ProviderCallID: strings.TrimSpace(p.ProviderCallID),
		Direction:      types.Direction(strings.ToLower(p.Direction)),
		FromNumber:     strings.TrimSpace(p.FromNumber),
		ToNumber:       strings.TrimSpace(p.ToNumber),
		StartedAt:      p.StartedAt.UTC(),
		AudioURL:       strings.TrimSpace(p.AudioURL),
	}
	if cs.Direction == "" {
		cs.Direction = types.DirectionInbound
	}
	if p.EndedAt != nil {
		ended := p.EndedAt.UTC()
		cs.EndedAt = &ended
	}
	switch {
	case p.DurationSeconds != nil:
		cs.DurationSeconds = *p.DurationSeconds
	case cs.EndedAt != nil:
		cs.DurationSeconds = int(cs.EndedAt.Sub(cs.StartedAt).Round(time.Second).Seconds())
	}
	if len(p.Metadata) > 0 {
		cs.Metadata = datatypes.JSON(p.Metadata)
	}

	saved, created, err := s.store.CreateSession(ctx, cs)
	if err != nil {
		return nil, false, err
	}
	log := s.log.WithSession(saved.ID)
	if !created {
		log.Info("duplicate call delivery")
		v := NewSessionView(*saved)
		return &v, false, nil
	}

	s.metrics.SessionIngested()
	s.invalidate(restaurantID)
	s.audit.Record(ctx, audit.Entry{
		RestaurantID: restaurantID,
		ActorID:      saved.Provider,
		Action:       audit.ActionCallIngest,
		EntityType:   "call_session",
		EntityID:     saved.ID,
		Details:      map[string]any{"providerCallId": saved.ProviderCallID},
	})
	log.WithField("provider", saved.Provider).Info("call session created")

	if s.opts.AutoTranscribe && saved.AudioURL != "" && s.pipeline != nil {
		if _, err := s.pipeline.EnqueueTranscription(ctx, restaurantID, saved.ID, "", audit.SystemActor); err != nil {
			log.WithError(err).Warn("auto transcription not enqueued")
		} else if fresh, err := s.store.GetSession(ctx, restaurantID, saved.ID); err == nil {
			saved = fresh
		}
	}
	v := NewSessionView(*saved)
	return &v, true, nil
}

// ListSessions returns one masked page of the tenant's sessions. Limit and
// offset are clamped, never rejected.
func (s *Service) ListSessions(ctx context.Context, restaurantID string, f store.SessionFilter) (*ListResult, error) {
	if restaurantID == "" {
		return nil, apperr.Validationf("restaurant id is required")
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, apperr.Validationf("from must not be after to")
	}
	f.Limit, f.Offset = store.ClampPage(f.Limit, f.Offset)
	rows, total, err := s.store.ListSessions(ctx, restaurantID, f)
	if err != nil {
		return nil, err
	}
	out := &ListResult{Sessions: make([]SessionView, 0, len(rows)), Total: total, Limit: f.Limit, Offset: f.Offset}
	for _, r := range rows {
		out.Sessions = append(out.Sessions, rowView(r))
	}
	return out, nil
}

// GetSessionDetails returns the session with whatever stages exist. A session
// of another tenant is reported as not found.
func (s *Service) GetSessionDetails(ctx context.Context, restaurantID, sessionID string) (*DetailsView, error) {
	d, err := s.store.SessionDetails(ctx, restaurantID, sessionID)
	if err != nil {
		return nil, err
	}
	return detailsView(d), nil
}

// GetAnalyticsSummary aggregates the tenant's calls with startedAt in
// [from, to]. Results are cached for CacheTTL.
func (s *Service) GetAnalyticsSummary(ctx context.Context, restaurantID string, from, to *time.Time) (*AnalyticsSummary, error) {
	if restaurantID == "" {
		return nil, apperr.Validationf("restaurant id is required")
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, apperr.Validationf("from must not be after to")
	}
	key := cacheKey(restaurantID, from, to)
	gen := s.generation(restaurantID)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.(*AnalyticsSummary), nil
		}
	}

	agg, err := s.store.Aggregate(ctx, restaurantID, from, to)
	if err != nil {
		return nil, err
	}
	sum := aggregator.Summarize(agg, s.opts.TopIntents)
	out := &AnalyticsSummary{
		RestaurantID: restaurantID,
		From:         from,
		To:           to,
		Summary:      sum,
		Highlights:   actionable.Generate(sum),
	}
	s.remember(restaurantID, key, gen, out)
	return out, nil
}

// ReviewInput is a full replacement of a session's review.
type ReviewInput struct {
	InternalNotes  string   `json:"internalNotes"`
	Tags           []string `json:"tags"`
	FollowUpAction string   `json:"followUpAction"`
}

// AddReview upserts the review of a tenant's session. The previous review,
// if any, is replaced wholesale; the write is audit-logged with the fields
// that changed.
func (s *Service) AddReview(ctx context.Context, restaurantID, sessionID, reviewedBy string, in ReviewInput) (*types.Review, error) {
	if strings.TrimSpace(reviewedBy) == "" {
		return nil, apperr.Validationf("reviewer user id is required")
	}
	if _, err := s.store.GetSession(ctx, restaurantID, sessionID); err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		if t = strings.TrimSpace(t); t != "" && !slices.Contains(tags, t) {
			tags = append(tags, t)
		}
	}
	r := &types.Review{
		CallSessionID:  sessionID,
		ReviewedBy:     reviewedBy,
		ReviewedAt:     time.Now().UTC(),
		InternalNotes:  strings.TrimSpace(in.InternalNotes),
		Tags:           tags,
		FollowUpAction: strings.TrimSpace(in.FollowUpAction),
	}
	prior, err := s.store.UpsertReview(ctx, r)
	if err != nil {
		return nil, err
	}

	s.invalidate(restaurantID)
	s.audit.Record(ctx, audit.Entry{
		RestaurantID: restaurantID,
		ActorID:      reviewedBy,
		Action:       audit.ActionReviewUpsert,
		EntityType:   "call_session",
		EntityID:     sessionID,
		Details: map[string]any{
			"reviewId":      r.ID,
			"changedFields": changedFields(prior, r),
			"replaced":      prior != nil,
		},
	})
	return r, nil
}

// Transcribe and Analyze are the operator triggers for the pipeline.
func (s *Service) Transcribe(ctx context.Context, restaurantID, sessionID, audioURL, actorID string) (*types.Job, error) {
	if restaurantID == "" {
		return nil, apperr.Validationf("restaurant id is required")
	}
	return s.pipeline.EnqueueTranscription(ctx, restaurantID, sessionID, audioURL, actorID)
}

func (s *Service) Analyze(ctx context.Context, restaurantID, sessionID, actorID string) (*types.Job, error) {
	if restaurantID == "" {
		return nil, apperr.Validationf("restaurant id is required")
	}
	return s.pipeline.EnqueueAnalysis(ctx, restaurantID, sessionID, actorID)
}

// Export returns masked session rows plus the summary for the window.
func (s *Service) Export(ctx context.Context, restaurantID string, from, to *time.Time) ([]store.SessionRow, *AnalyticsSummary, error) {
	summary, err := s.GetAnalyticsSummary(ctx, restaurantID, from, to)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.store.ExportRows(ctx, restaurantID, from, to)
	if err != nil {
		return nil, nil, err
	}
	return rows, summary, nil
}

func changedFields(prior, next *types.Review) []string {
	if prior == nil {
		fields := []string{"reviewedBy"}
		if next.InternalNotes != "" {
			fields = append(fields, "internalNotes")
		}
		if len(next.Tags) > 0 {
			fields = append(fields, "tags")
		}
		if next.FollowUpAction != "" {
			fields = append(fields, "followUpAction")
		}
		return fields
	}
	var fields []string
	if prior.ReviewedBy != next.ReviewedBy {
		fields = append(fields, "reviewedBy")
	}
	if prior.InternalNotes != next.InternalNotes {
		fields = append(fields, "internalNotes")
	}
	if !slices.Equal(prior.Tags, next.Tags) {
		fields = append(fields, "tags")
	}
	if prior.FollowUpAction != next.FollowUpAction {
		fields = append(fields, "followUpAction")
	}
	return fields
}

func cacheKey(restaurantID string, from, to *time.Time) string {
	f, t := "", ""
	if from != nil {
		f = from.UTC().Format(time.RFC3339)
	}
	if to != nil {
		t = to.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s|%s|%s", restaurantID, f, t)
}

// generation counts invalidations per tenant. A summary computed under an
// older generation may predate a write and is not cached.
func (s *Service) generation(restaurantID string) uint64 {
	if s.cache == nil {
		return 0
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.gens[restaurantID]
}

func (s *Service) remember(restaurantID, key string, gen uint64, v *AnalyticsSummary) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.gens[restaurantID] != gen {
		return
	}
	s.cache.Set(key, v, cache.DefaultExpiration)
}

// invalidate drops every cached summary of a tenant.
func (s *Service) invalidate(restaurantID string) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gens[restaurantID]++
	prefix := restaurantID + "|"
	for k := range s.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Delete(k)
		}
	}
}
