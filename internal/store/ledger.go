package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pageforge/internal/domain"
	"pageforge/internal/domain/models"
)

// The turn ledger lives inside the version directories: messages.json (UI
// history) and context.json (full model context) hold the conversation as of
// that version. InitNextVersion deep-copies them forward, so undo is a HEAD
// pointer reset plus a tail strip of the restored logs.

// UndoResult carries UI state recovered from the removed user message.
type UndoResult struct {
	RestoredSelection *models.Selection `json:"restoredSelection,omitempty"`
	RestoredInput     string            `json:"restoredInput,omitempty"`
}

// BeginTurn appends the user entry to both logs and increments the turn
// counter. The entry records the version that is HEAD at turn start; if the
// turn later commits a new version, CommitFiles retags the mapping.
func (s *Store) BeginTurn(ctx context.Context, id string, entry models.ChatEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return 0, err
	}

	turn := state.meta.LastTurn + 1
	entry.Role = models.RoleUser
	entry.Turn = turn
	entry.Version = state.meta.CurrentVersion
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	headDir := s.versionDir(id, state.meta.CurrentVersion)
	if err := s.appendToLog(headDir, messagesLogName, entry); err != nil {
		return 0, err
	}
	if err := s.appendToLog(headDir, contextLogName, entry); err != nil {
		return 0, err
	}

	state.meta.LastTurn = turn
	if err := s.persistLocked(state); err != nil {
		return 0, err
	}

	s.logger.Info("turn started",
		"session_id", id,
		"turn", turn,
		"version", entry.Version,
	)
	return turn, nil
}

// ResolveVersionForTurn returns the version recorded for a turn at its
// creation (fixed up once if the turn committed). Turn 0 is the session's
// initial generation and always maps to version 0.
func (s *Store) ResolveVersionForTurn(ctx context.Context, id string, turn int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return 0, err
	}
	return s.resolveVersionLocked(id, state, turn)
}

func (s *Store) resolveVersionLocked(id string, state *sessionState, turn int) (int, error) {
	if turn == 0 {
		return 0, nil
	}
	if turn < 0 || turn > state.meta.LastTurn {
		return 0, fmt.Errorf("%w: session %s has no turn %d", domain.ErrNotFound, id, turn)
	}

	headDir := s.versionDir(id, state.meta.CurrentVersion)
	contextLog, err := s.readLog(headDir, contextLogName)
	if err != nil {
		return 0, err
	}
	for _, entry := range contextLog {
		if entry.Turn == turn && entry.Role == models.RoleUser {
			return entry.Version, nil
		}
	}
	return 0, fmt.Errorf("%w: session %s has no turn %d", domain.ErrNotFound, id, turn)
}

// UndoLastTurn removes the most recent user turn and everything attached to
// it from both logs, resetting HEAD and the turn counter to the prior turn's
// recorded state. Version snapshots are never deleted - storage is cheap and
// the HEAD pointer decides visibility.
func (s *Store) UndoLastTurn(ctx context.Context, id string) (*UndoResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return nil, err
	}
	if state.meta.LastTurn == 0 {
		return nil, &domain.NothingToUndoError{SessionID: id}
	}

	last := state.meta.LastTurn
	headDir := s.versionDir(id, state.meta.CurrentVersion)
	contextLog, err := s.readLog(headDir, contextLogName)
	if err != nil {
		return nil, err
	}

	result := &UndoResult{}
	for _, entry := range contextLog {
		if entry.Turn == last && entry.Role == models.RoleUser {
			result.RestoredInput = entry.Content
			result.RestoredSelection = entry.Selection
			break
		}
	}

	priorTurn := last - 1
	priorVersion, err := s.resolveVersionLocked(id, state, priorTurn)
	if err != nil {
		return nil, err
	}

	// The restored version's logs still carry the undone turn's user entry
	// (BeginTurn wrote it there before any version was materialized).
	restoredDir, err := s.ensureVersionDirLocked(id, state, priorVersion)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{messagesLogName, contextLogName} {
		entries, err := s.readLog(restoredDir, name)
		if err != nil {
			return nil, err
		}
		kept := entries[:0]
		for _, entry := range entries {
			if entry.Turn < last {
				kept = append(kept, entry)
			}
		}
		if err := s.writeLog(restoredDir, name, kept); err != nil {
			return nil, err
		}
	}

	files, err := s.readSnapshotDir(restoredDir)
	if err != nil {
		return nil, err
	}
	state.files = files
	state.meta.CurrentVersion = priorVersion
	state.meta.LastTurn = priorTurn
	if err := s.persistLocked(state); err != nil {
		return nil, err
	}

	s.logger.Info("turn undone",
		"session_id", id,
		"removed_turn", last,
		"restored_version", priorVersion,
	)
	return result, nil
}

// AppendAssistantEntries merges model output into both logs, tagging each
// entry with the current turn and version. Entries with no rendered text are
// kept in context but dropped from history; user-role entries always reach
// history.
func (s *Store) AppendAssistantEntries(ctx context.Context, id string, entries []models.ChatEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return err
	}

	headDir := s.versionDir(id, state.meta.CurrentVersion)
	now := time.Now()
	for i := range entries {
		entries[i].Turn = state.meta.LastTurn
		entries[i].Version = state.meta.CurrentVersion
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
		if err := s.appendToLog(headDir, contextLogName, entries[i]); err != nil {
			return err
		}
		if entries[i].VisibleInHistory() {
			if err := s.appendToLog(headDir, messagesLogName, entries[i]); err != nil {
				return err
			}
		}
	}
	return s.persistLocked(state)
}

// History returns the UI-facing log as of HEAD.
func (s *Store) History(ctx context.Context, id string) ([]models.ChatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return nil, err
	}
	return s.readLog(s.versionDir(id, state.meta.CurrentVersion), messagesLogName)
}

// HistoryByTurn returns the UI-facing log as it stood at the end of a turn.
func (s *Store) HistoryByTurn(ctx context.Context, id string, turn int) ([]models.ChatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return nil, err
	}
	version, err := s.resolveVersionLocked(id, state, turn)
	if err != nil {
		return nil, err
	}
	dir, err := s.ensureVersionDirLocked(id, state, version)
	if err != nil {
		return nil, err
	}
	entries, err := s.readLog(dir, messagesLogName)
	if err != nil {
		return nil, err
	}
	kept := entries[:0]
	for _, entry := range entries {
		if entry.Turn <= turn {
			kept = append(kept, entry)
		}
	}
	return kept, nil
}

// ContextLog returns the full model-facing log as of HEAD.
func (s *Store) ContextLog(ctx context.Context, id string) ([]models.ChatEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return nil, err
	}
	return s.readLog(s.versionDir(id, state.meta.CurrentVersion), contextLogName)
}

// TruncateAfterTurn drops every log entry with a turn beyond the cut point
// from the HEAD logs. Used when hydrating a clone taken at a past turn.
func (s *Store) TruncateAfterTurn(ctx context.Context, id string, turn int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return err
	}

	headDir := s.versionDir(id, state.meta.CurrentVersion)
	for _, name := range []string{messagesLogName, contextLogName} {
		entries, err := s.readLog(headDir, name)
		if err != nil {
			return err
		}
		kept := entries[:0]
		for _, entry := range entries {
			if entry.Turn <= turn {
				kept = append(kept, entry)
			}
		}
		if err := s.writeLog(headDir, name, kept); err != nil {
			return err
		}
	}
	if turn < state.meta.LastTurn {
		state.meta.LastTurn = turn
	}
	return s.persistLocked(state)
}

// retagTurnLocked rewrites the version recorded for a turn in the logs of
// the (new) HEAD version directory. Caller holds s.mu.
func (s *Store) retagTurnLocked(id string, state *sessionState, turn, version int) error {
	dir := s.versionDir(id, version)
	for _, name := range []string{messagesLogName, contextLogName} {
		entries, err := s.readLog(dir, name)
		if err != nil {
			return err
		}
		changed := false
		for i := range entries {
			if entries[i].Turn == turn && entries[i].Version != version {
				entries[i].Version = version
				changed = true
			}
		}
		if changed {
			if err := s.writeLog(dir, name, entries); err != nil {
				return err
			}
		}
	}
	return nil
}

// Log file helpers.

func (s *Store) readLog(dir, name string) ([]models.ChatEntry, error) {
	raw, err := s.fs.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	var entries []models.ChatEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return entries, nil
}

func (s *Store) writeLog(dir string, name string, entries []models.ChatEntry) error {
	if entries == nil {
		entries = []models.ChatEntry{}
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := s.fs.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Store) appendToLog(dir, name string, entry models.ChatEntry) error {
	entries, err := s.readLog(dir, name)
	if err != nil {
		return err
	}
	return s.writeLog(dir, name, append(entries, entry))
}
