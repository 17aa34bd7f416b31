package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/opsledger/deltakernel/internal/governor"
	"github.com/opsledger/deltakernel/internal/ledger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// streamMessage is one frame on the commit stream.
type streamMessage struct {
	Type   string              `json:"type"`
	State  *gin.H              `json:"state,omitempty"`
	Commit *ledger.CommitEvent `json:"commit,omitempty"`
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("failed to write websocket frame", "error", err)
	}
	return err
}

// handleStream upgrades to a websocket, pushes the current SystemState
// snapshot, then forwards a CommitEvent frame for every commit until the
// client disconnects.
//
// The subscription opens before the snapshot read and every forwarded frame
// is checked against the last delivered seq, so a commit landing between
// snapshot and subscribe is never lost. Gaps left by the drop-on-overflow
// fan-out are backfilled from the ledger via DeltasSince.
func (s *Server) handleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()
	slog.Info("stream client connected", "remote", ws.RemoteAddr())

	ctx := c.Request.Context()

	events := s.store.Subscribe()
	defer s.store.Unsubscribe(events)

	// Everything at or below lastSeq is covered by the snapshot sent below;
	// reading it before the snapshot means an overlap at worst, never a gap.
	lastSeq, err := s.store.LastSeq(ctx)
	if err != nil {
		slog.Error("failed to read stream position", "error", err)
		return
	}

	snap, err := s.store.GetSnapshot(ctx, governor.SystemEntityID)
	if err == nil {
		body := snapshotBody(snap)
		if err := sendJSON(ws, streamMessage{Type: "snapshot", State: &body}); err != nil {
			return
		}
	} else if !errors.Is(err, ledger.ErrNotFound) {
		slog.Error("failed to read stream snapshot", "error", err)
		return
	}

	// Drain client frames so we notice the disconnect; inbound content is
	// ignored, the stream is one-way.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Seq <= lastSeq {
				continue // already covered by the snapshot or a backfill
			}
			if ev.Seq > lastSeq+1 {
				// The fan-out dropped frames while we were behind; replay
				// the missed commits from the ledger before this one.
				missed, err := s.store.DeltasSince(ctx, lastSeq)
				if err != nil {
					slog.Error("stream backfill failed", "error", err)
					return
				}
				for _, d := range missed {
					if d.Seq >= ev.Seq {
						break
					}
					fill := d.Event()
					if err := sendJSON(ws, streamMessage{Type: "commit", Commit: &fill}); err != nil {
						return
					}
				}
			}
			if err := sendJSON(ws, streamMessage{Type: "commit", Commit: &ev}); err != nil {
				return
			}
			lastSeq = ev.Seq
		case <-done:
			slog.Info("stream client disconnected", "remote", ws.RemoteAddr())
			return
		case <-ctx.Done():
			return
		}
	}
}
