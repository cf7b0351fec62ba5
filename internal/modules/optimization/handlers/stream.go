package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/minvar/internal/modules/annealing"
	"github.com/aristath/minvar/internal/modules/optimization"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const streamSolveTimeout = 5 * time.Minute

// Stream message types
const (
	MessageLevel  = "level"
	MessageResult = "result"
	MessageError  = "error"
)

// StreamMessage is one frame of the anneal progress stream.
type StreamMessage struct {
	Type   string                         `json:"type"`
	Level  *annealing.LevelReport         `json:"level,omitempty"`
	Result *optimization.AllocationResult `json:"result,omitempty"`
	Error  string                         `json:"error,omitempty"`
	Status int                            `json:"status,omitempty"`
}

// HandleAnnealStream handles GET /api/optimizer/anneal/stream.
// The client sends one AnnealRequest, then receives a "level" frame per outer
// iteration followed by a single "result" or "error" frame.
func (h *Handler) HandleAnnealStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx, cancel := context.WithTimeout(r.Context(), streamSolveTimeout)
	defer cancel()

	var req optimization.AnnealRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		h.log.Debug().Err(err).Msg("Failed to read stream request")
		conn.Close(websocket.StatusUnsupportedData, "expected an anneal request")
		return
	}

	var writeErr error
	result, err := h.service.AnnealWithProgress(ctx, req, func(report annealing.LevelReport) {
		if writeErr != nil {
			return
		}
		if writeErr = wsjson.Write(ctx, conn, StreamMessage{Type: MessageLevel, Level: &report}); writeErr != nil {
			h.log.Debug().Err(writeErr).Msg("Stream client went away, cancelling solve")
			cancel()
		}
	})
	if writeErr != nil {
		return
	}
	if err != nil {
		_ = wsjson.Write(ctx, conn, StreamMessage{Type: MessageError, Error: err.Error(), Status: statusFor(err)})
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	if err := wsjson.Write(ctx, conn, StreamMessage{Type: MessageResult, Result: result}); err != nil {
		h.log.Debug().Err(err).Msg("Failed to write stream result")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
