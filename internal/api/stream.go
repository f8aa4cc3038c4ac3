package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/AishwaryaChandel27/Weather-Agent/internal/agent"
)

// responseDownstream writes relayed chunks straight to the client connection.
type responseDownstream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newResponseDownstream(w http.ResponseWriter) *responseDownstream {
	flusher, _ := w.(http.Flusher)
	return &responseDownstream{w: w, flusher: flusher}
}

func (d *responseDownstream) Start(contentType string) {
	header := d.w.Header()
	header.Set("Content-Type", contentType)
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	d.w.WriteHeader(http.StatusOK)
	d.started = true
	d.Flush()
}

func (d *responseDownstream) Write(p []byte) (int, error) {
	return d.w.Write(p)
}

func (d *responseDownstream) Flush() {
	if d.flusher != nil {
		d.flusher.Flush()
	}
}

// StreamHandler relays one chat turn to the weather agent. Failures before the
// first byte get a JSON error; failures after it abort the connection so the
// client never mistakes a truncated reply for a complete one.
func (h *APIHandler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	var req agent.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid stream request")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger := h.logger.With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("thread_id", req.ThreadID))

	dst := newResponseDownstream(w)
	n, err := h.relay.Pipe(r.Context(), req, dst)
	if err == nil {
		logger.Info("agent stream relayed", zap.Int64("bytes", n))
		return
	}

	if dst.started {
		logger.Warn("agent stream aborted", zap.Int64("bytes", n), zap.Error(err))
		panic(http.ErrAbortHandler)
	}

	switch {
	case errors.Is(err, agent.ErrRelayBusy):
		logger.Warn("relay saturated", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "Weather agent is busy, try again shortly")
	case errors.Is(err, agent.ErrUpstream):
		logger.Error("weather agent error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to communicate with weather agent")
	case errors.Is(err, context.Canceled):
		logger.Debug("client went away before the agent answered")
	default:
		logger.Error("agent relay failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to communicate with weather agent")
	}
}
