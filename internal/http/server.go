// Package http exposes the conversations service over gin.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"call-insights-go/internal/config"
	"call-insights-go/internal/conversations"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/metrics"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Service *conversations.Service
	Metrics *metrics.Metrics
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(ctx context.Context) error
	Log   *logger.Logger
}

type Server struct {
	engine *gin.Engine
	srv    *http.Server
	log    *logger.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	if cfg.Environment != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := d.Log.Component("http")
	engine := newEngine(cfg, d, log)
	return &Server{
		engine: engine,
		log:    log,
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Port),
			Handler:      engine,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func newEngine(cfg config.Config, d Deps, log *logger.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(log))
	engine.Use(MaxBodySize(maxBodyBytes))
	engine.Use(CORS(cfg.CORSOrigins))

	api := NewAPI(d.Service, d.Ready, log)
	registerRoutes(engine, api, cfg.WebhookSecret)
	if d.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	return engine
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run blocks until the server stops; a graceful Shutdown is not an error.
func (s *Server) Run() error {
	s.log.WithField("addr", s.srv.Addr).Info("listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
