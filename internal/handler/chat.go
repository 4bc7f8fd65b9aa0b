package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"pageforge/internal/domain/models"
	"pageforge/internal/httputil"
	"pageforge/internal/service/chat"
)

// ChatHandler accepts user instructions. Turns run in the background; the
// caller follows progress over the event stream.
type ChatHandler struct {
	chat   *chat.Service
	logger *slog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat *chat.Service, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		chat:   chat,
		logger: logger,
	}
}

type instructionRequest struct {
	Instructions string            `json:"instructions"`
	Selection    *models.Selection `json:"selection,omitempty"`
}

// PostInstruction opens a turn for the instruction and returns immediately
// POST /api/sessions/{id}/instructions
func (h *ChatHandler) PostInstruction(w http.ResponseWriter, r *http.Request) {
	var req instructionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Instructions) == "" {
		httputil.RespondError(w, http.StatusBadRequest, "instructions are required")
		return
	}

	sessionID := r.PathValue("id")
	background := context.WithoutCancel(r.Context())
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("instruction panicked",
					"session_id", sessionID,
					"panic", rec,
				)
			}
		}()
		// Errors surface as chat-status events; there is no caller left to
		// return them to.
		_ = h.chat.HandleInstruction(background, chat.InstructionParams{
			SessionID:     sessionID,
			Instructions:  req.Instructions,
			Selection:     req.Selection,
			AllowVariants: true,
		})
	}()

	httputil.RespondJSON(w, http.StatusAccepted, map[string]string{
		"sessionId": sessionID,
		"status":    models.StatusStarted,
	})
}
