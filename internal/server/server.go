// Package server exposes the kernel over HTTP: mutation entry points, a
// merged consistent snapshot read, and a websocket stream of snapshots plus
// commit events so consumers need not poll.
//
// Downstream collaborators (draft workers, dashboards, cockpit UIs) are
// read-only consumers of this surface; they never write ledger-managed
// paths directly.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsledger/deltakernel/internal/governor"
	"github.com/opsledger/deltakernel/internal/ledger"
	"github.com/opsledger/deltakernel/internal/registry"
)

// Server wires the coordinator, ledger, and registry behind a gin router.
type Server struct {
	store  *ledger.Store
	co     *governor.Coordinator
	reg    *registry.Registry
	clock  governor.Clock
	router *gin.Engine
}

// New builds the router. The clock is injectable so handler day math stays
// testable.
func New(store *ledger.Store, co *governor.Coordinator, reg *registry.Registry, clock governor.Clock) *Server {
	if clock == nil {
		clock = governor.SystemClock{}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		store:  store,
		co:     co,
		reg:    reg,
		clock:  clock,
		router: router,
	}

	api := router.Group("/api")
	{
		api.GET("/state", s.handleState)
		api.GET("/stream", s.handleStream)
		api.POST("/close", s.handleClose)
		api.POST("/archive", s.handleArchive)
		api.POST("/ack", s.handleAcknowledge)
		api.POST("/violation", s.handleViolation)
		api.POST("/override", s.handleOverride)
		api.POST("/refresh", s.handleRefresh)
	}

	return s
}

// Handler returns the underlying HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
