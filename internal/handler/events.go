package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pageforge/internal/httputil"
	"pageforge/internal/notify"
)

// keepAliveInterval paces SSE comment lines that hold idle connections open
// through proxies.
const keepAliveInterval = 15 * time.Second

// EventsHandler streams hub notifications to clients over SSE.
type EventsHandler struct {
	hub    *notify.Hub
	logger *slog.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(hub *notify.Hub, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		logger: logger,
	}
}

// StreamSession streams events for one session
// GET /api/sessions/{id}/events
func (h *EventsHandler) StreamSession(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, r.PathValue("id"))
}

// StreamAll streams events for every session
// GET /api/events
func (h *EventsHandler) StreamAll(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, "")
}

func (h *EventsHandler) stream(w http.ResponseWriter, r *http.Request, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.hub.Subscribe(sessionID)
	defer cancel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	h.logger.Debug("event stream opened", "session_id", sessionID)
	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("event stream closed", "session_id", sessionID)
			return
		case <-keepAlive.C:
			// SSE comment line; clients ignore it, proxies see traffic.
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(event.Payload)
			if err != nil {
				h.logger.Error("event encoding failed",
					"event_type", event.Type,
					"error", err,
				)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
