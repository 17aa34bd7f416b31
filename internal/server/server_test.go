package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsledger/deltakernel/internal/governor"
	"github.com/opsledger/deltakernel/internal/ledger"
	"github.com/opsledger/deltakernel/internal/registry"
	"github.com/opsledger/deltakernel/internal/testutil"
)

var testNow = time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC)

func setupServer(t *testing.T) http.Handler {
	t.Helper()

	st, err := ledger.Open(filepath.Join(t.TempDir(), "kernel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := testutil.NewFixedClock(testNow)

	reg, err := registry.New(st)
	require.NoError(t, err)

	co := governor.New(st,
		governor.WithClock(clock),
		governor.WithRecordValidator(reg),
	)

	_, err = governor.Bootstrap(context.Background(), st, clock.Now())
	require.NoError(t, err)

	return New(st, co, reg, clock).Handler()
}

func getJSON(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

func postJSON(t *testing.T, h http.Handler, path string, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

func TestStateSnapshot(t *testing.T) {
	h := setupServer(t)

	var resp StateResponse
	w := getJSON(t, h, "/api/state", &resp)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, governor.ModeRecover, resp.Mode)
	assert.Equal(t, governor.SystemEntityID, resp.Entity.ID)
	assert.Equal(t, int64(1), resp.Entity.Version)
	assert.Equal(t, int64(0), resp.Metrics.ClosedLoopsTotal)
	assert.Equal(t, int64(0), resp.Registry.TotalClosures)
}

func TestCloseLoopEndpoint(t *testing.T) {
	h := setupServer(t)

	var result governor.CloseResult
	w := postJSON(t, h, "/api/close", `{"loop_id":"L1","title":"ship invoice"}`, &result)

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, result.Duplicate)
	assert.Equal(t, int64(1), result.Metrics.ClosedLoopsTotal)

	// Same loop again: idempotent, nothing committed.
	var dup governor.CloseResult
	w = postJSON(t, h, "/api/close", `{"loop_id":"L1","title":"ship invoice"}`, &dup)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, result.Metrics, dup.Metrics)

	var resp StateResponse
	getJSON(t, h, "/api/state", &resp)
	assert.Equal(t, int64(1), resp.Registry.TotalClosures)
	assert.Equal(t, int64(1), resp.Registry.ClosuresToday)
}

func TestCloseRejectsBadInput(t *testing.T) {
	h := setupServer(t)

	w := postJSON(t, h, "/api/close", `{"loop_id":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(t, h, "/api/close", `{"loop_id":"L1","outcome":"discarded"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestArchiveRequiresLoopID(t *testing.T) {
	h := setupServer(t)

	w := postJSON(t, h, "/api/archive", `{"title":"stale idea"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var result governor.CloseResult
	w = postJSON(t, h, "/api/archive", `{"loop_id":"L9","title":"stale idea"}`, &result)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, result.Duplicate)
}

func TestRefreshRoutesSignals(t *testing.T) {
	h := setupServer(t)

	var body map[string]json.RawMessage
	w := postJSON(t, h, "/api/refresh",
		`{"signals":{"sleep_minutes":420,"open_loops":4,"assets_shipped":0,"deep_work_blocks":0,"money_delta_cents":0}}`,
		&body)

	require.Equal(t, http.StatusOK, w.Code)
	var mode string
	require.NoError(t, json.Unmarshal(body["mode"], &mode))
	assert.Equal(t, string(governor.ModeCloseLoops), mode)
}

func TestRefreshAcceptsEmptyBody(t *testing.T) {
	h := setupServer(t)

	// No signals: just re-run the router over current state.
	var body map[string]json.RawMessage
	w := postJSON(t, h, "/api/refresh", "", &body)

	require.Equal(t, http.StatusOK, w.Code)
	var mode string
	require.NoError(t, json.Unmarshal(body["mode"], &mode))
	assert.Equal(t, string(governor.ModeRecover), mode)
}

func TestOverrideEndpoint(t *testing.T) {
	h := setupServer(t)

	var body map[string]json.RawMessage
	w := postJSON(t, h, "/api/override", `{"mode":"SCALE"}`, &body)

	require.Equal(t, http.StatusOK, w.Code)
	var mode string
	require.NoError(t, json.Unmarshal(body["mode"], &mode))
	assert.Equal(t, string(governor.ModeScale), mode)

	w = postJSON(t, h, "/api/override", `{"mode":"TURBO"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestViolationAndAcknowledge(t *testing.T) {
	h := setupServer(t)

	w := postJSON(t, h, "/api/violation", `{}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp StateResponse
	getJSON(t, h, "/api/state", &resp)
	before := resp.Entity.Version

	w = postJSON(t, h, "/api/ack", `{}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	getJSON(t, h, "/api/state", &resp)
	assert.Equal(t, before+1, resp.Entity.Version)
}
