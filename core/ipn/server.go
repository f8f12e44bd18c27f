// Package ipn exposes the inbound payment notification endpoint the gateway
// posts confirmations to.
package ipn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	coreconfig "github.com/m3rciful/shopbot/core/config"
	"github.com/m3rciful/shopbot/core/domain"
	"github.com/m3rciful/shopbot/core/logger"
	"github.com/m3rciful/shopbot/core/reconcile"
)

// Processor is the part of the reconciler the endpoint needs.
type Processor interface {
	Process(ctx context.Context, ev reconcile.PaymentEvent) error
}

// Server wraps the HTTP listener around the reconciler.
type Server struct {
	srv *http.Server
}

// New builds the server. The route set is intentionally tiny: one POST route
// for the gateway plus a liveness probe.
func New(cfg coreconfig.IPNConfig, proc Processor) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.POST("/paypal-ipn", handleNotification(proc))
	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	return &Server{srv: &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Handler exposes the route set for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	logger.Info(ctx, "ipn", "server.start", slog.String("payload", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleNotification decodes the form-encoded gateway payload. The gateway
// retries on non-200 responses, so only storage faults earn a retry; malformed
// or duplicate payloads are acknowledged to stop the retry loop.
func handleNotification(proc Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		ev := reconcile.PaymentEvent{
			ExternalTxnID:    c.PostForm("txn_id"),
			CorrelationToken: c.PostForm("custom"),
			PlanLabel:        c.PostForm("item_name"),
			PayerExternalRef: c.PostForm("payer_email"),
		}
		if raw := c.PostForm("mc_gross"); raw != "" {
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				logger.Warn(c.Request.Context(), "ipn", "notification.decode",
					slog.String("status", "fail"),
					slog.String("payload", logger.SanitizeLimit(raw, 32)),
				)
				c.String(http.StatusOK, "")
				return
			}
			ev.Amount = amount
		}

		err := proc.Process(c.Request.Context(), ev)
		switch {
		case err == nil:
			c.String(http.StatusOK, "")
		case domain.IsStorageFault(err):
			c.String(http.StatusInternalServerError, "")
		default:
			// Validation problems are final; acknowledging avoids replays of
			// payloads that can never settle.
			logger.Warn(c.Request.Context(), "ipn", "notification.reject",
				slog.String("err", err.Error()),
			)
			c.String(http.StatusOK, "")
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logger.WithRID(c.Request.Context(), uuid.NewString()[:8])
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		logger.Info(ctx, "ipn", "http.request",
			slog.String("handler", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", logger.Took(start)),
		)
	}
}
