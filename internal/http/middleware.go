package http

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"call-insights-go/internal/apperr"
	"call-insights-go/internal/logger"
)

const (
	headerRestaurant = "X-Restaurant-ID"
	headerUser       = "X-User-ID"
	headerRequestID  = "X-Request-ID"
	headerWebhook    = "X-Webhook-Secret"

	ctxRestaurant = "restaurantId"
	ctxUser       = "userId"
)

var defaultOrigins = []string{
	"http://localhost:5173",
	"http://localhost:8080",
}

func CORS(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", headerRestaurant, headerUser, headerRequestID},
		ExposeHeaders:    []string{headerRequestID, "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// RequestLogger tags each request with an id and writes one access line
// through the service logger.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(headerRequestID) == "" {
			c.Request.Header.Set(headerRequestID, uuid.NewString())
		}
		c.Header(headerRequestID, c.GetHeader(headerRequestID))
		start := time.Now()

		c.Next()

		entry := log.WithRequest(c.Request).WithFields(logrus.Fields{
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if tenant := c.GetString(ctxRestaurant); tenant != "" {
			entry = entry.WithField("restaurant_id", tenant)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request")
		}
	}
}

// Tenant reads the identity forwarded by the upstream auth layer. Requests
// without a restaurant are rejected.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(headerRestaurant))
		if rid == "" {
			respondError(c, apperr.Validationf("missing %s header", headerRestaurant))
			c.Abort()
			return
		}
		c.Set(ctxRestaurant, rid)
		c.Set(ctxUser, strings.TrimSpace(c.GetHeader(headerUser)))
		c.Next()
	}
}

// WebhookSecret guards the ingestion webhook with a shared secret. An empty
// secret disables the check.
func WebhookSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(headerWebhook)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}

func MaxBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
