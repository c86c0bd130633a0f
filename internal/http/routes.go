package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/conversations"
	"call-insights-go/internal/dataset"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/store"
	"call-insights-go/internal/types"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type API struct {
	svc   *conversations.Service
	ready func(ctx context.Context) error
	log   *logger.Logger
}

func NewAPI(svc *conversations.Service, ready func(ctx context.Context) error, log *logger.Logger) *API {
	return &API{svc: svc, ready: ready, log: log}
}

func registerRoutes(r *gin.Engine, api *API, webhookSecret string) {
	r.GET("/healthz", api.handleHealth)

	conv := r.Group("/conversations", Tenant())
	{
		conv.GET("", api.handleListSessions)
		conv.GET("/analytics/summary", api.handleAnalyticsSummary)
		conv.GET("/export.xlsx", api.handleExport)
		conv.GET("/:id", api.handleGetSession)
		conv.POST("/:id/review", api.handleAddReview)
	}

	internal := r.Group("/internal/conversations", Tenant())
	{
		internal.POST("/:id/transcribe", api.handleTranscribe)
		internal.POST("/:id/analyze", api.handleAnalyze)
	}

	r.POST("/webhooks/calls", WebhookSecret(webhookSecret), Tenant(), api.handleIngestCall)
}

func (a *API) handleHealth(c *gin.Context) {
	if a.ready != nil {
		if err := a.ready(c.Request.Context()); err != nil {
			a.log.WithError(err).Warn("readiness check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) handleListSessions(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := a.svc.ListSessions(c.Request.Context(), c.GetString(ctxRestaurant), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) handleGetSession(c *gin.Context) {
	d, err := a.svc.GetSessionDetails(c.Request.Context(), c.GetString(ctxRestaurant), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (a *API) handleAddReview(c *gin.Context) {
	// an empty body clears the review
	var in conversations.ReviewInput
	if err := bindOptionalJSON(c, &in); err != nil {
		respondError(c, err)
		return
	}
	r, err := a.svc.AddReview(c.Request.Context(), c.GetString(ctxRestaurant), c.Param("id"), c.GetString(ctxUser), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (a *API) handleAnalyticsSummary(c *gin.Context) {
	from, to, err := parseWindow(c)
	if err != nil {
		respondError(c, err)
		return
	}
	s, err := a.svc.GetAnalyticsSummary(c.Request.Context(), c.GetString(ctxRestaurant), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a *API) handleExport(c *gin.Context) {
	from, to, err := parseWindow(c)
	if err != nil {
		respondError(c, err)
		return
	}
	rid := c.GetString(ctxRestaurant)
	rows, sum, err := a.svc.Export(c.Request.Context(), rid, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := dataset.WriteExport(&buf, rows, sum); err != nil {
		respondError(c, apperr.Internal(err, "render export"))
		return
	}
	filename := fmt.Sprintf("calls-%s-%s.xlsx", rid, time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (a *API) handleTranscribe(c *gin.Context) {
	var body struct {
		AudioURL string `json:"audioUrl"`
	}
	if err := bindOptionalJSON(c, &body); err != nil {
		respondError(c, err)
		return
	}
	job, err := a.svc.Transcribe(c.Request.Context(), c.GetString(ctxRestaurant), c.Param("id"), body.AudioURL, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (a *API) handleAnalyze(c *gin.Context) {
	job, err := a.svc.Analyze(c.Request.Context(), c.GetString(ctxRestaurant), c.Param("id"), actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (a *API) handleIngestCall(c *gin.Context) {
	var p conversations.CallPayload
	if err := c.ShouldBindJSON(&p); err != nil {
		respondError(c, apperr.Validationf("invalid call payload: %v", err))
		return
	}
	v, created, err := a.svc.IngestCall(c.Request.Context(), c.GetString(ctxRestaurant), p)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, v)
}

func actor(c *gin.Context) string {
	if u := c.GetString(ctxUser); u != "" {
		return u
	}
	return "operator"
}

// bindOptionalJSON decodes the body if there is one.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validationf("invalid body: %v", err)
	}
	return nil
}

func parseFilter(c *gin.Context) (store.SessionFilter, error) {
	var f store.SessionFilter
	var err error
	if f.From, f.To, err = parseWindow(c); err != nil {
		return f, err
	}
	f.Intent = c.Query("intent")
	f.Outcome = c.Query("outcome")
	f.Sentiment = c.Query("sentiment")
	f.Status = types.SessionStatus(c.Query("status"))
	f.Search = c.Query("search")
	f.SortBy = c.Query("sortBy")

	switch strings.ToLower(c.DefaultQuery("order", "desc")) {
	case "asc":
		f.Asc = true
	case "desc":
	default:
		return f, apperr.Validationf("order must be asc or desc")
	}
	if f.DurationMin, err = optInt(c, "durationMin"); err != nil {
		return f, err
	}
	if f.DurationMax, err = optInt(c, "durationMax"); err != nil {
		return f, err
	}
	if v := c.Query("reviewed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, apperr.Validationf("reviewed must be true or false")
		}
		f.Reviewed = &b
	}
	limit, err := optInt(c, "limit")
	if err != nil {
		return f, err
	}
	if limit != nil {
		f.Limit = *limit
	}
	offset, err := optInt(c, "offset")
	if err != nil {
		return f, err
	}
	if offset != nil {
		f.Offset = *offset
	}
	return f, nil
}

func parseWindow(c *gin.Context) (from, to *time.Time, err error) {
	if from, err = optTime(c, "from", false); err != nil {
		return nil, nil, err
	}
	if to, err = optTime(c, "to", true); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// optTime parses an RFC3339 or YYYY-MM-DD query value. A bare date used as
// an upper bound covers the whole day.
func optTime(c *gin.Context, key string, endOfDay bool) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t, nil
	}
	return nil, apperr.Validationf("%s must be RFC3339 or YYYY-MM-DD", key)
}

func optInt(c *gin.Context, key string) (*int, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, apperr.Validationf("%s must be an integer", key)
	}
	return &n, nil
}

func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err), "kind": apperr.KindOf(err)})
}
