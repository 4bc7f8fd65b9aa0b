package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"pageforge/internal/domain/models"
	"pageforge/internal/httputil"
	"pageforge/internal/service/session"
	"pageforge/internal/store"
)

// SessionHandler handles session lifecycle HTTP requests.
type SessionHandler struct {
	lifecycle *session.Lifecycle
	store     *store.Store
	logger    *slog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(lifecycle *session.Lifecycle, store *store.Store, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		lifecycle: lifecycle,
		store:     store,
		logger:    logger,
	}
}

type createSessionRequest struct {
	// Nonce coalesces duplicate create requests from impatient clients.
	Nonce           string               `json:"nonce"`
	ImageGeneration bool                 `json:"imageGeneration"`
	Files           *models.FileSnapshot `json:"files,omitempty"`
}

// CreateSession creates a fresh session
// POST /api/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.lifecycle.Create(r.Context(), session.CreateParams{
		Nonce:                  req.Nonce,
		Files:                  req.Files,
		ImageGenerationAllowed: req.ImageGeneration,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, sess)
}

// GetOrCreateSession returns the session, creating it when missing
// PUT /api/sessions/{id}
func (h *SessionHandler) GetOrCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.lifecycle.GetOrCreate(r.Context(), r.PathValue("id"), req.ImageGeneration)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, sess)
}

// ListSessions lists every session
// GET /api/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.lifecycle.List(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// GetSession returns session metadata
// GET /api/sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.lifecycle.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, sess)
}

// DeleteSession removes a session and its on-disk subtree
// DELETE /api/sessions/{id}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cloneRequest struct {
	Turn    *int `json:"turn,omitempty"`
	Version *int `json:"version,omitempty"`
}

// CloneSession branches a new session at a turn or version. The response
// carries the new id immediately; hydration completes in the background.
// POST /api/sessions/{id}/clones
func (h *SessionHandler) CloneSession(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if (req.Turn == nil) == (req.Version == nil) {
		httputil.RespondError(w, http.StatusBadRequest, "exactly one of turn or version is required")
		return
	}

	var (
		clone *models.Session
		err   error
	)
	if req.Turn != nil {
		clone, err = h.lifecycle.CloneAtTurn(r.Context(), r.PathValue("id"), *req.Turn)
	} else {
		clone, err = h.lifecycle.CloneAtVersion(r.Context(), r.PathValue("id"), *req.Version)
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusAccepted, clone)
}

// UndoLastTurn removes the most recent turn
// POST /api/sessions/{id}/undo
func (h *SessionHandler) UndoLastTurn(w http.ResponseWriter, r *http.Request) {
	result, err := h.store.UndoLastTurn(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

// pathInt parses an integer path segment.
func pathInt(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	return n, err == nil && n >= 0
}
