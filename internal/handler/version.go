package handler

import (
	"log/slog"
	"net/http"

	"pageforge/internal/domain/models"
	"pageforge/internal/httputil"
	"pageforge/internal/store"
)

// VersionHandler handles version snapshot and turn ledger HTTP requests.
type VersionHandler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewVersionHandler creates a new version handler.
func NewVersionHandler(store *store.Store, logger *slog.Logger) *VersionHandler {
	return &VersionHandler{
		store:  store,
		logger: logger,
	}
}

// ReadSnapshot returns the three page files of one version
// GET /api/sessions/{id}/versions/{version}/files
func (h *VersionHandler) ReadSnapshot(w http.ResponseWriter, r *http.Request) {
	version, ok := pathInt(r, "version")
	if !ok {
		httputil.RespondError(w, http.StatusBadRequest, "version must be a non-negative integer")
		return
	}
	files, err := h.store.ReadSnapshot(r.Context(), r.PathValue("id"), version)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, files)
}

// ReadHeadSnapshot returns the HEAD page files
// GET /api/sessions/{id}/files
func (h *VersionHandler) ReadHeadSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	files, err := h.store.ReadSnapshot(r.Context(), id, sess.CurrentVersion)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"version": sess.CurrentVersion,
		"files":   files,
	})
}

type commitFilesRequest struct {
	Files models.FileSnapshot `json:"files"`
}

// CommitFiles overwrites a version's snapshot, advancing HEAD when the
// target is beyond it
// POST /api/sessions/{id}/versions/{version}/files
func (h *VersionHandler) CommitFiles(w http.ResponseWriter, r *http.Request) {
	version, ok := pathInt(r, "version")
	if !ok {
		httputil.RespondError(w, http.StatusBadRequest, "version must be a non-negative integer")
		return
	}
	var req commitFilesRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.store.CommitFiles(r.Context(), r.PathValue("id"), req.Files, version)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, sess)
}

type editFileRequest struct {
	Content string `json:"content"`
}

// EditHistoricalFile overwrites a single file of any version up to HEAD
// PUT /api/sessions/{id}/versions/{version}/files/{file}
func (h *VersionHandler) EditHistoricalFile(w http.ResponseWriter, r *http.Request) {
	version, ok := pathInt(r, "version")
	if !ok {
		httputil.RespondError(w, http.StatusBadRequest, "version must be a non-negative integer")
		return
	}
	key, err := models.ParseFileKey(r.PathValue("file"))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req editFileRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.EditHistoricalFile(r.Context(), r.PathValue("id"), version, key, req.Content); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History returns the UI-facing chat history at HEAD
// GET /api/sessions/{id}/history
func (h *VersionHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.History(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []models.ChatEntry{}
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// HistoryByTurn returns the history as it stood at the end of a turn
// GET /api/sessions/{id}/turns/{turn}/history
func (h *VersionHandler) HistoryByTurn(w http.ResponseWriter, r *http.Request) {
	turn, ok := pathInt(r, "turn")
	if !ok {
		httputil.RespondError(w, http.StatusBadRequest, "turn must be a non-negative integer")
		return
	}
	entries, err := h.store.HistoryByTurn(r.Context(), r.PathValue("id"), turn)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []models.ChatEntry{}
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ResolveVersionForTurn returns the version a turn produced (or began at)
// GET /api/sessions/{id}/turns/{turn}/version
func (h *VersionHandler) ResolveVersionForTurn(w http.ResponseWriter, r *http.Request) {
	turn, ok := pathInt(r, "turn")
	if !ok {
		httputil.RespondError(w, http.StatusBadRequest, "turn must be a non-negative integer")
		return
	}
	version, err := h.store.ResolveVersionForTurn(r.Context(), r.PathValue("id"), turn)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]int{"version": version})
}
