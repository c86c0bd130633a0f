package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/audit"
	"call-insights-go/internal/config"
	"call-insights-go/internal/conversations"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/metrics"
	"call-insights-go/internal/store"
	"call-insights-go/internal/store/storetest"
	"call-insights-go/internal/types"
)

type stubPipeline struct {
	st *store.Store
}

func (p *stubPipeline) EnqueueTranscription(ctx context.Context, restaurantID, sessionID, _, _ string) (*types.Job, error) {
	job, _, err := p.st.EnqueueJob(ctx, restaurantID, sessionID, types.JobTranscription)
	return job, err
}

func (p *stubPipeline) EnqueueAnalysis(ctx context.Context, restaurantID, sessionID, _ string) (*types.Job, error) {
	job, _, err := p.st.EnqueueJob(ctx, restaurantID, sessionID, types.JobAnalysis)
	return job, err
}

const testSecret = "s3cret"

func setupTestServer(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := storetest.New(t)
	log := logger.Discard()
	svc := conversations.New(st, &stubPipeline{st: st}, &audit.Memory{}, metrics.New(), conversations.Options{}, log)
	cfg := config.Config{Environment: "test", WebhookSecret: testSecret}
	return newEngine(cfg, Deps{Service: svc, Metrics: metrics.New(), Log: log}, log), st
}

func do(engine *gin.Engine, method, path, tenant string, body any) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerWebhook, testSecret)
	if tenant != "" {
		req.Header.Set(headerRestaurant, tenant)
		req.Header.Set(headerUser, "u1")
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func ingest(t *testing.T, engine *gin.Engine, tenant, callID string, startedAt time.Time) conversations.SessionView {
	t.Helper()
	ended := startedAt.Add(90 * time.Second)
	rec := do(engine, http.MethodPost, "/webhooks/calls", tenant, conversations.CallPayload{
		Provider:       "vapi",
		ProviderCallID: callID,
		Direction:      "inbound",
		FromNumber:     "+14155550142",
		ToNumber:       "+14155550000",
		StartedAt:      &startedAt,
		EndedAt:        &ended,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var v conversations.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

var t0 = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

func TestHealthHandler(t *testing.T) {
	engine, _ := setupTestServer(t)
	rec := do(engine, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestMissingTenantIsBadRequest(t *testing.T) {
	engine, _ := setupTestServer(t)
	for _, path := range []string{"/conversations", "/conversations/analytics/summary"} {
		rec := do(engine, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestWebhookRequiresSecret(t *testing.T) {
	engine, _ := setupTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/calls", strings.NewReader(`{}`))
	req.Header.Set(headerRestaurant, "r1")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookIngestIsIdempotentAndMasked(t *testing.T) {
	engine, _ := setupTestServer(t)
	v := ingest(t, engine, "r1", "call-1", t0)
	assert.Equal(t, "***-***-0142", v.FromNumber)
	assert.NotContains(t, v.FromNumber, "555")

	startedAt := t0
	rec := do(engine, http.MethodPost, "/webhooks/calls", "r1", conversations.CallPayload{
		Provider: "vapi", ProviderCallID: "call-1", FromNumber: "+14155550142", ToNumber: "+1", StartedAt: &startedAt,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(engine, http.MethodPost, "/webhooks/calls", "r1", map[string]any{"provider": "vapi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndDetailsAreTenantScoped(t *testing.T) {
	engine, _ := setupTestServer(t)
	v := ingest(t, engine, "r1", "call-1", t0)
	ingest(t, engine, "r2", "call-2", t0)

	rec := do(engine, http.MethodGet, "/conversations?limit=500&offset=-1", "r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list conversations.ListResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.EqualValues(t, 1, list.Total)
	assert.Equal(t, store.MaxLimit, list.Limit)
	assert.Zero(t, list.Offset)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "***-***-0142", list.Sessions[0].FromNumber)
	assert.NotContains(t, rec.Body.String(), "4155550142")

	rec = do(engine, http.MethodGet, "/conversations/"+v.ID, "r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"transcript":null`)

	rec = do(engine, http.MethodGet, "/conversations/"+v.ID, "r2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(engine, http.MethodGet, "/conversations?durationMin=abc", "r1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(engine, http.MethodGet, "/conversations?sortBy=name", "r1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(engine, http.MethodGet, "/conversations?status=archived", "r1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewRoute(t *testing.T) {
	engine, _ := setupTestServer(t)
	v := ingest(t, engine, "r1", "call-1", t0)

	rec := do(engine, http.MethodPost, "/conversations/"+v.ID+"/review", "r1", conversations.ReviewInput{
		InternalNotes: "follow up", Tags: []string{"vip"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var r types.Review
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, "u1", r.ReviewedBy)

	rec = do(engine, http.MethodPost, "/conversations/missing/review", "r1", conversations.ReviewInput{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/conversations/"+v.ID+"/review", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerRestaurant, "r1")
	out := httptest.NewRecorder()
	engine.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestReviewRouteAcceptsEmptyBody(t *testing.T) {
	engine, _ := setupTestServer(t)
	v := ingest(t, engine, "r1", "call-1", t0)

	rec := do(engine, http.MethodPost, "/conversations/"+v.ID+"/review", "r1", conversations.ReviewInput{InternalNotes: "first"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(engine, http.MethodPost, "/conversations/"+v.ID+"/review", "r1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var r types.Review
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, "u1", r.ReviewedBy)
	assert.Empty(t, r.InternalNotes)

	req := httptest.NewRequest(http.MethodPost, "/conversations/"+v.ID+"/review", strings.NewReader(`{"tags":`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerRestaurant, "r1")
	req.Header.Set(headerUser, "u1")
	out := httptest.NewRecorder()
	engine.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestInternalEnqueueRoutes(t *testing.T) {
	engine, _ := setupTestServer(t)
	v := ingest(t, engine, "r1", "call-1", t0)

	rec := do(engine, http.MethodPost, "/internal/conversations/"+v.ID+"/analyze", "r1", nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = do(engine, http.MethodPost, "/internal/conversations/"+v.ID+"/transcribe", "r1", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(engine, http.MethodPost, "/internal/conversations/nope/transcribe", "r1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyticsAndExport(t *testing.T) {
	engine, _ := setupTestServer(t)
	ingest(t, engine, "r1", "call-1", t0)
	ingest(t, engine, "r1", "call-2", t0.Add(-72*time.Hour))

	rec := do(engine, http.MethodGet, "/conversations/analytics/summary?from=2025-02-28&to=2025-03-02", "r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var s conversations.AnalyticsSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.EqualValues(t, 1, s.TotalCalls)

	rec = do(engine, http.MethodGet, "/conversations/analytics/summary?from=yesterday", "r1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(engine, http.MethodGet, "/conversations/export.xlsx", "r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Sessions")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestDateOnlyUpperBoundCoversWholeDay(t *testing.T) {
	engine, _ := setupTestServer(t)
	ingest(t, engine, "r1", "call-1", t0)
	ingest(t, engine, "r1", "call-2", t0.Add(24*time.Hour))

	rec := do(engine, http.MethodGet, "/conversations/analytics/summary?from=2025-03-01&to=2025-03-01", "r1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var s conversations.AnalyticsSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.EqualValues(t, 1, s.TotalCalls)
	require.NotNil(t, s.To)
	assert.Equal(t, time.Date(2025, 3, 1, 23, 59, 59, 999999999, time.UTC), s.To.UTC())

	rec = do(engine, http.MethodGet, "/conversations?to=2025-03-01", "r1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = do(engine, http.MethodGet, "/conversations?to=2025-03-01T17:00:00Z", "r1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total":0`)
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	respondError(c, apperr.Internal(assert.AnError, "select from call_sessions"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "call_sessions")
}
