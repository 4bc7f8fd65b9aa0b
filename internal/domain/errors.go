package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrNothingToUndo = errors.New("nothing to undo")
)

// NotInitializedError indicates a commit was attempted against a version
// whose directory was never materialized via InitNextVersion. This is a
// programmer error in the calling sequence, not a user-facing condition.
type NotInitializedError struct {
	SessionID string
	Version   int
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("version %d of session %s is not initialized; call InitNextVersion before committing", e.Version, e.SessionID)
}

func (e *NotInitializedError) StatusCode() int { return http.StatusConflict }

// VersionExceedsHeadError indicates a request for a version beyond the
// session's current HEAD.
type VersionExceedsHeadError struct {
	SessionID string
	Version   int
	Head      int
}

func (e *VersionExceedsHeadError) Error() string {
	return fmt.Sprintf("version %d exceeds head %d of session %s", e.Version, e.Head, e.SessionID)
}

func (e *VersionExceedsHeadError) StatusCode() int { return http.StatusBadRequest }

// VersionNotFoundError indicates a read of a version whose snapshot was never
// materialized and is not the in-memory HEAD.
type VersionNotFoundError struct {
	SessionID string
	Version   int
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("no snapshot for version %d of session %s", e.Version, e.SessionID)
}

func (e *VersionNotFoundError) StatusCode() int { return http.StatusNotFound }

func (e *VersionNotFoundError) Is(target error) bool { return target == ErrNotFound }

// SessionNotFoundError indicates an unknown session id.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

func (e *SessionNotFoundError) StatusCode() int { return http.StatusNotFound }

func (e *SessionNotFoundError) Is(target error) bool { return target == ErrNotFound }

// NothingToUndoError indicates UndoLastTurn was called on a session with no
// removable turn.
type NothingToUndoError struct {
	SessionID string
}

func (e *NothingToUndoError) Error() string {
	return fmt.Sprintf("session %s has no turn to undo", e.SessionID)
}

func (e *NothingToUndoError) StatusCode() int { return http.StatusConflict }

func (e *NothingToUndoError) Is(target error) bool { return target == ErrNothingToUndo }

// CloneSourceInvalidError indicates a clone-at-turn/version target that does
// not exist in the source session's history.
type CloneSourceInvalidError struct {
	SessionID string
	Message   string
}

func (e *CloneSourceInvalidError) Error() string {
	return fmt.Sprintf("cannot clone session %s: %s", e.SessionID, e.Message)
}

func (e *CloneSourceInvalidError) StatusCode() int { return http.StatusBadRequest }
