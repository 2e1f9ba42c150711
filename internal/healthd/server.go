// Package healthd is the read-only operational HTTP surface every ingestion
// daemon exposes: a liveness/readiness probe and a Prometheus scrape
// endpoint. It is explicitly not the CGI/query front end spec.md's Non-goals
// exclude — there are no train-data routes here, only process health.
// Grounded on the teacher's echo+middleware server lifecycle in
// cli/root.go, trimmed to the two routes this daemon needs.
package healthd

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// CheckFunc reports the daemon's readiness. A nil return means healthy.
type CheckFunc func() error

// Server is the /healthz + /metrics HTTP surface.
type Server struct {
	echo *echo.Echo
	addr string
	log  *logrus.Logger
}

// New builds a Server bound to addr (e.g. ":8080"). check is consulted on
// every /healthz request; pass nil to always report healthy.
func New(addr string, check CheckFunc, log *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		if check != nil {
			if err := check(); err != nil {
				return c.String(http.StatusServiceUnavailable, err.Error())
			}
		}
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return &Server{echo: e, addr: addr, log: log}
}

// Start runs the server until ctx is cancelled, then shuts it down within a
// 10s grace period (same pattern as the teacher's signal-driven shutdown).
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if s.log != nil {
			s.log.Info("health server shutting down")
		}
		return s.echo.Shutdown(shutdownCtx)
	}
}
