// Package httpapi exposes the reminder service over a small JSON API.
//
// The API is unauthenticated and intended for localhost or a trusted
// reverse proxy; the default bind address reflects that.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"remindd/internal/config"
	"remindd/internal/metrics"
	"remindd/internal/services/reminders"
	logx "remindd/pkg/logx"
)

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	srv *http.Server
	log logx.Logger
}

// New builds the server. Routes are registered immediately; nothing
// listens until Start.
func New(cfg config.HTTPConfig, svc *reminders.Service, met *metrics.Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if met == nil {
		met = metrics.Nop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(requestLog(log), gin.Recovery())

	h := &handlers{svc: svc, log: log}
	registerRoutes(engine, h, met)

	return &Server{
		srv: &http.Server{
			Addr:         cfg.EffectiveAddr(),
			Handler:      engine,
			ReadTimeout:  durationOr(cfg.ReadTimeout, 10*time.Second),
			WriteTimeout: durationOr(cfg.WriteTimeout, 30*time.Second),
			IdleTimeout:  durationOr(cfg.IdleTimeout, 120*time.Second),
		},
		log: log,
	}
}

func registerRoutes(engine *gin.Engine, h *handlers, met *metrics.Metrics) {
	engine.GET("/healthz", h.health)
	engine.GET("/metrics", gin.WrapH(met.Handler()))

	v1 := engine.Group("/v1")
	{
		v1.POST("/reminders", h.create)
		v1.GET("/reminders", h.list)
		v1.GET("/reminders/:id", h.get)
		v1.PATCH("/reminders/:id", h.update)
		v1.GET("/reminders/:id/history", h.history)
		v1.POST("/reminders/:id/cancel", h.cancel)
		v1.POST("/reminders/:id/complete", h.complete)
		v1.POST("/reminders/:id/send", h.send)

		v1.GET("/entities/:id/stats", h.entityStats)
		v1.GET("/stats", h.dashboardStats)
	}
}

// Start begins serving and returns once the listener is up; serve errors
// other than a clean shutdown land on errCh.
func (s *Server) Start(errCh chan<- error) {
	s.log.Info("http api listening", logx.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()
}

// Stop drains in-flight requests, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// requestLog is the access-log middleware. Health and metrics probes log
// at debug to keep the info stream readable.
func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		}
		switch c.Request.URL.Path {
		case "/healthz", "/metrics":
			log.Debug("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

func durationOr(raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault("http timeout", raw, def)
	if err != nil {
		return def
	}
	return d
}
