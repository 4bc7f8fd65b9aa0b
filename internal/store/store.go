package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"pageforge/internal/domain"
	"pageforge/internal/domain/models"
)

// Store owns the session metadata cache and the on-disk version tree. The
// in-memory map is the authoritative cache, lazily hydrated from disk on
// first access and written back on every mutating call; the disk tree is the
// source of truth across process restarts.
//
// All access to the map and to session state goes through the store's mutex.
// The store does not serialize concurrent writers to the same session id -
// callers must not run two instructions against one session at a time.
// Writers to different sessions own disjoint directory subtrees and are safe.
type Store struct {
	fs     afero.Afero
	root   string
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState pairs persisted metadata with the in-memory HEAD snapshot.
type sessionState struct {
	meta  models.Session
	files models.FileSnapshot
}

// New creates a store rooted at dir on the given filesystem.
func New(fs afero.Fs, root string, logger *slog.Logger) *Store {
	return &Store{
		fs:       afero.Afero{Fs: fs},
		root:     root,
		logger:   logger,
		sessions: make(map[string]*sessionState),
	}
}

// CreateSession materializes a new session with version 0 holding the given
// snapshot and empty history/context logs.
func (s *Store) CreateSession(ctx context.Context, id string, group int, imageGenerationAllowed bool, files models.FileSnapshot) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return nil, fmt.Errorf("session already exists: %s", id)
	}
	if exists, _ := s.fs.DirExists(s.sessionDir(id)); exists {
		return nil, fmt.Errorf("session directory already exists: %s", id)
	}

	state := &sessionState{
		meta: models.Session{
			ID:                     id,
			Group:                  group,
			CurrentVersion:         0,
			LastTurn:               0,
			ImageGenerationAllowed: imageGenerationAllowed,
			UpdatedAt:              time.Now(),
		},
		files: files,
	}

	dir := s.versionDir(id, 0)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create version directory: %w", err)
	}
	if err := s.writeSnapshotDir(dir, files); err != nil {
		return nil, err
	}
	if err := s.writeLog(dir, messagesLogName, nil); err != nil {
		return nil, err
	}
	if err := s.writeLog(dir, contextLogName, nil); err != nil {
		return nil, err
	}
	if err := s.persistLocked(state); err != nil {
		return nil, err
	}

	s.sessions[id] = state
	s.logger.Info("session created",
		"session_id", id,
		"group", group,
		"image_generation", imageGenerationAllowed,
	)

	out := state.meta
	return &out, nil
}

// AdoptClone registers metadata for a session whose version subtree was
// already populated by CloneSubtree, with HEAD at the clone's cut version.
// LastTurn is recovered from the adopted HEAD logs the same way hydration
// does after a restart.
func (s *Store) AdoptClone(ctx context.Context, id string, group int, imageGenerationAllowed bool, headVersion int) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exists, err := s.fs.DirExists(s.versionDir(id, headVersion)); err != nil {
		return nil, fmt.Errorf("check version directory: %w", err)
	} else if !exists {
		return nil, &domain.VersionNotFoundError{SessionID: id, Version: headVersion}
	}

	record := models.SessionRecord{
		ID:                     id,
		Group:                  group,
		CurrentVersion:         headVersion,
		ImageGenerationAllowed: imageGenerationAllowed,
		UpdatedAt:              time.Now(),
	}
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session metadata: %w", err)
	}
	if err := s.fs.WriteFile(s.sessionFile(id), raw, 0o644); err != nil {
		return nil, fmt.Errorf("write session metadata: %w", err)
	}

	delete(s.sessions, id)
	state, err := s.stateLocked(id)
	if err != nil {
		return nil, err
	}
	out := state.meta
	return &out, nil
}

// GetSession returns the session metadata, hydrating from disk if needed.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return nil, err
	}
	out := state.meta
	return &out, nil
}

// ListSessions returns metadata for every session present on disk.
func (s *Store) ListSessions(ctx context.Context) ([]models.Session, error) {
	entries, err := s.fs.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read store root: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		state, err := s.stateLocked(entry.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable session directory",
				"session_id", entry.Name(),
				"error", err,
			)
			continue
		}
		out = append(out, state.meta)
	}
	return out, nil
}

// DeleteSession removes the session and its whole on-disk subtree. This is
// the only way a session is ever destroyed; there is no automatic expiry.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.stateLocked(id); err != nil {
		return err
	}
	delete(s.sessions, id)
	if err := s.fs.RemoveAll(s.sessionDir(id)); err != nil {
		return fmt.Errorf("remove session subtree: %w", err)
	}
	s.logger.Info("session deleted", "session_id", id)
	return nil
}

// stateLocked returns the cached state for id, hydrating from session.json
// and the HEAD version directory on first access. Caller holds s.mu.
func (s *Store) stateLocked(id string) (*sessionState, error) {
	if state, ok := s.sessions[id]; ok {
		return state, nil
	}

	raw, err := s.fs.ReadFile(s.sessionFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &domain.SessionNotFoundError{SessionID: id}
		}
		return nil, fmt.Errorf("read session metadata: %w", err)
	}

	var record models.SessionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode session metadata: %w", err)
	}

	headDir := s.versionDir(id, record.CurrentVersion)
	files, err := s.readSnapshotDir(headDir)
	if err != nil {
		return nil, fmt.Errorf("hydrate head snapshot: %w", err)
	}

	// LastTurn is not persisted in session.json; recover it from the
	// model-context log of the HEAD version.
	contextLog, err := s.readLog(headDir, contextLogName)
	if err != nil {
		return nil, err
	}
	lastTurn := 0
	for _, entry := range contextLog {
		if entry.Turn > lastTurn {
			lastTurn = entry.Turn
		}
	}

	state := &sessionState{
		meta: models.Session{
			ID:                     record.ID,
			Group:                  record.Group,
			CurrentVersion:         record.CurrentVersion,
			LastTurn:               lastTurn,
			ImageGenerationAllowed: record.ImageGenerationAllowed,
			UpdatedAt:              record.UpdatedAt,
		},
		files: files,
	}
	s.sessions[id] = state

	s.logger.Debug("session hydrated from disk",
		"session_id", id,
		"current_version", record.CurrentVersion,
		"last_turn", lastTurn,
	)
	return state, nil
}

// persistLocked writes session.json, refreshing UpdatedAt. Caller holds s.mu.
func (s *Store) persistLocked(state *sessionState) error {
	state.meta.UpdatedAt = time.Now()
	raw, err := json.MarshalIndent(state.meta.Record(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	if err := s.fs.MkdirAll(s.sessionDir(state.meta.ID), 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if err := s.fs.WriteFile(s.sessionFile(state.meta.ID), raw, 0o644); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}
	return nil
}

// writeSnapshotDir writes the three page files into a version directory.
func (s *Store) writeSnapshotDir(dir string, files models.FileSnapshot) error {
	for key, content := range files.Files() {
		if err := s.fs.WriteFile(filepath.Join(dir, string(key)), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
	}
	return nil
}

// readSnapshotDir reads the three page files from a version directory.
// Missing files read as empty; a generated page may legitimately have an
// empty script or stylesheet.
func (s *Store) readSnapshotDir(dir string) (models.FileSnapshot, error) {
	files := make(map[models.FileKey]string, len(models.FileKeys))
	for _, key := range models.FileKeys {
		raw, err := s.fs.ReadFile(filepath.Join(dir, string(key)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return models.FileSnapshot{}, fmt.Errorf("read %s: %w", key, err)
		}
		files[key] = string(raw)
	}
	return models.SnapshotFromFiles(files), nil
}
