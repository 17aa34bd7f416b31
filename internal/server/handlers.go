package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsledger/deltakernel/internal/governor"
	"github.com/opsledger/deltakernel/internal/ledger"
	"github.com/opsledger/deltakernel/internal/registry"
)

// StateResponse is the merged consistent snapshot: SystemState plus the
// closure registry, read back-to-back against the same committed head.
type StateResponse struct {
	Entity   ledger.Entity    `json:"entity"`
	Mode     governor.Mode    `json:"mode"`
	Signals  governor.Signals `json:"signals"`
	Metrics  governor.Metrics `json:"metrics"`
	Streak   governor.Streak  `json:"streak"`
	Registry registry.Export  `json:"registry"`
}

type closeRequest struct {
	LoopID  string `json:"loop_id"`
	Title   string `json:"title"`
	Outcome string `json:"outcome"`
}

type overrideRequest struct {
	Mode string `json:"mode"`
}

type refreshRequest struct {
	Signals *governor.Signals `json:"signals"`
}

func (s *Server) handleState(c *gin.Context) {
	snap, err := s.store.GetSnapshot(c.Request.Context(), governor.SystemEntityID)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		s.fail(c, err)
		return
	}

	day := s.clock.Now().UTC().Format(governor.DayFormat)
	export, rerr := s.reg.Export(c.Request.Context(), day)
	if rerr != nil {
		s.fail(c, rerr)
		return
	}

	st := governor.State{Doc: snap.State}
	c.JSON(http.StatusOK, StateResponse{
		Entity:   snap.Entity,
		Mode:     st.Mode(),
		Signals:  st.Signals(),
		Metrics:  st.Metrics(),
		Streak:   st.Streak(),
		Registry: export,
	})
}

func (s *Server) handleClose(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Outcome == "" {
		req.Outcome = ledger.OutcomeClosed
	}
	if req.Outcome != ledger.OutcomeClosed && req.Outcome != ledger.OutcomeArchived {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outcome must be closed or archived"})
		return
	}

	result, err := s.co.CloseLoop(c.Request.Context(), req.LoopID, req.Title, req.Outcome)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleArchive(c *gin.Context) {
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.LoopID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "loop_id is required"})
		return
	}

	result, err := s.co.Archive(c.Request.Context(), req.LoopID, req.Title)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAcknowledge(c *gin.Context) {
	snap, err := s.co.Acknowledge(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotBody(snap))
}

func (s *Server) handleViolation(c *gin.Context) {
	snap, err := s.co.RecordViolation(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotBody(snap))
}

func (s *Server) handleOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, err := governor.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := s.co.Override(c.Request.Context(), mode)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotBody(snap))
}

func (s *Server) handleRefresh(c *gin.Context) {
	// A bare POST with no body is the plain "re-run the router" call: no
	// signal ingestion, just a recomputation.
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := s.co.RequestRefresh(c.Request.Context(), req.Signals)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotBody(snap))
}

func snapshotBody(snap ledger.Snapshot) gin.H {
	st := governor.State{Doc: snap.State}
	return gin.H{
		"entity":  snap.Entity,
		"mode":    st.Mode(),
		"signals": st.Signals(),
		"metrics": st.Metrics(),
		"streak":  st.Streak(),
	}
}

// fail maps commit errors onto HTTP status codes: REJECTED is the caller's
// fault, CONFLICT asks for a retry, TRANSIENT is on us.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case ledger.IsRejected(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case ledger.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
