// Package server exposes the recovery subsystem over HTTP: staff and guest
// websockets, REST endpoints for heartbeats and session control, a
// management SSE stream, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/orvale/helpdesk/internal/metrics"
	"github.com/orvale/helpdesk/internal/notify"
	"github.com/orvale/helpdesk/internal/recovery"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	DB      *gorm.DB
	Manager *recovery.Manager
	Hub     *notify.Hub      // websocket rooms; a private hub is used when nil
	Events  *Broadcaster     // management SSE stream; optional
	Metrics *metrics.Metrics // optional
	Port    int
	Out     io.Writer
	// Reload reseeds and reloads recovery settings. Defaults to
	// Manager.ReloadSettings.
	Reload func(ctx context.Context) error
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Help desk running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// NewRouter builds the Gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("server: db is required")
	}
	if opts.Manager == nil {
		return nil, fmt.Errorf("server: recovery manager is required")
	}
	if opts.Hub == nil {
		opts.Hub = notify.NewHub()
	}
	if opts.Reload == nil {
		m := opts.Manager
		opts.Reload = func(ctx context.Context) error {
			m.ReloadSettings(ctx)
			return nil
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}
