package store

import (
	"context"
	"fmt"
	"path/filepath"

	"pageforge/internal/domain"
	"pageforge/internal/domain/models"
)

// InitNextVersion idempotently materializes currentVersion+1 as a deep copy
// of the HEAD version directory (page files, logs and any generated image
// assets). It returns the next version number without moving HEAD; only
// CommitFiles advances HEAD. Calling it again within the same turn is a
// no-op returning the same number.
func (s *Store) InitNextVersion(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return 0, err
	}

	next := state.meta.CurrentVersion + 1
	nextDir := s.versionDir(id, next)
	if exists, err := s.fs.DirExists(nextDir); err != nil {
		return 0, fmt.Errorf("check version directory: %w", err)
	} else if exists {
		return next, nil
	}

	if err := s.copyDir(s.versionDir(id, state.meta.CurrentVersion), nextDir); err != nil {
		return 0, fmt.Errorf("materialize version %d: %w", next, err)
	}

	s.logger.Debug("next version initialized",
		"session_id", id,
		"version", next,
	)
	return next, nil
}

// CommitFiles overwrites targetVersion's snapshot and, if targetVersion is
// beyond HEAD, advances HEAD to it. This is the only way HEAD advances.
// Fails with NotInitializedError when InitNextVersion was skipped.
func (s *Store) CommitFiles(ctx context.Context, id string, files models.FileSnapshot, targetVersion int) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return nil, err
	}

	dir := s.versionDir(id, targetVersion)
	if exists, err := s.fs.DirExists(dir); err != nil {
		return nil, fmt.Errorf("check version directory: %w", err)
	} else if !exists {
		return nil, &domain.NotInitializedError{SessionID: id, Version: targetVersion}
	}

	if err := s.writeSnapshotDir(dir, files); err != nil {
		return nil, err
	}

	if targetVersion >= state.meta.CurrentVersion {
		state.files = files
	}
	if targetVersion > state.meta.CurrentVersion {
		// The target directory may have been materialized before this turn's
		// latest log appends (or by an earlier turn that never committed).
		// Refresh the logs from the outgoing HEAD so the ledger stays
		// continuous across the pointer move.
		oldDir := s.versionDir(id, state.meta.CurrentVersion)
		for _, name := range []string{messagesLogName, contextLogName} {
			entries, err := s.readLog(oldDir, name)
			if err != nil {
				return nil, err
			}
			if err := s.writeLog(dir, name, entries); err != nil {
				return nil, err
			}
		}
		state.meta.CurrentVersion = targetVersion
		// The open turn's version mapping was recorded against the old
		// HEAD at BeginTurn; the commit fixes it to the version the turn
		// actually produced.
		if err := s.retagTurnLocked(id, state, state.meta.LastTurn, targetVersion); err != nil {
			return nil, err
		}
	}
	if err := s.persistLocked(state); err != nil {
		return nil, err
	}

	s.logger.Info("files committed",
		"session_id", id,
		"version", targetVersion,
		"head", state.meta.CurrentVersion,
	)

	out := state.meta
	return &out, nil
}

// ReadSnapshot reads the snapshot for a version. Disk wins; the in-memory
// HEAD snapshot is the fallback for the current version only. Versions below
// HEAD whose directory was never written are lazily materialized from the
// nearest prior snapshot.
func (s *Store) ReadSnapshot(ctx context.Context, id string, version int) (models.FileSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return models.FileSnapshot{}, err
	}
	if version > state.meta.CurrentVersion {
		return models.FileSnapshot{}, &domain.VersionExceedsHeadError{
			SessionID: id,
			Version:   version,
			Head:      state.meta.CurrentVersion,
		}
	}

	dir, err := s.ensureVersionDirLocked(id, state, version)
	if err != nil {
		if version == state.meta.CurrentVersion {
			return state.files, nil
		}
		return models.FileSnapshot{}, err
	}
	return s.readSnapshotDir(dir)
}

// EditHistoricalFile writes a single file of an arbitrary version <= HEAD.
// Editing a non-HEAD version deliberately breaks snapshot immutability for
// user convenience; clones read from disk, so branches still see the edited
// bytes.
func (s *Store) EditHistoricalFile(ctx context.Context, id string, version int, key models.FileKey, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.stateLocked(id)
	if err != nil {
		return err
	}
	if version > state.meta.CurrentVersion {
		return &domain.VersionExceedsHeadError{
			SessionID: id,
			Version:   version,
			Head:      state.meta.CurrentVersion,
		}
	}

	dir, err := s.ensureVersionDirLocked(id, state, version)
	if err != nil {
		return err
	}
	if err := s.fs.WriteFile(filepath.Join(dir, string(key)), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	if version == state.meta.CurrentVersion {
		state.files = state.files.Set(key, content)
	}
	if err := s.persistLocked(state); err != nil {
		return err
	}

	s.logger.Info("historical file edited",
		"session_id", id,
		"version", version,
		"file", string(key),
		"head", state.meta.CurrentVersion,
	)
	return nil
}

// CloneSubtree duplicates version directories 0..upToVersion from source to
// target. The source is never mutated.
func (s *Store) CloneSubtree(ctx context.Context, sourceID, targetID string, upToVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srcState, err := s.stateLocked(sourceID)
	if err != nil {
		return err
	}
	if upToVersion > srcState.meta.CurrentVersion {
		return &domain.CloneSourceInvalidError{
			SessionID: sourceID,
			Message:   fmt.Sprintf("version %d beyond head %d", upToVersion, srcState.meta.CurrentVersion),
		}
	}

	for v := 0; v <= upToVersion; v++ {
		srcDir := s.versionDir(sourceID, v)
		if exists, err := s.fs.DirExists(srcDir); err != nil {
			return fmt.Errorf("check version directory: %w", err)
		} else if !exists {
			// Sparse version; readers materialize it lazily on either side.
			continue
		}
		if err := s.copyDir(srcDir, s.versionDir(targetID, v)); err != nil {
			return fmt.Errorf("clone version %d: %w", v, err)
		}
	}

	s.logger.Info("version subtree cloned",
		"source_session_id", sourceID,
		"target_session_id", targetID,
		"up_to_version", upToVersion,
	)
	return nil
}

// ensureVersionDirLocked returns the directory for a version <= HEAD,
// materializing it from the nearest prior on-disk version when missing.
// Caller holds s.mu.
func (s *Store) ensureVersionDirLocked(id string, state *sessionState, version int) (string, error) {
	dir := s.versionDir(id, version)
	exists, err := s.fs.DirExists(dir)
	if err != nil {
		return "", fmt.Errorf("check version directory: %w", err)
	}
	if exists {
		return dir, nil
	}

	for prior := version - 1; prior >= 0; prior-- {
		priorDir := s.versionDir(id, prior)
		if exists, err := s.fs.DirExists(priorDir); err != nil {
			return "", fmt.Errorf("check version directory: %w", err)
		} else if exists {
			if err := s.copyDir(priorDir, dir); err != nil {
				return "", fmt.Errorf("materialize version %d: %w", version, err)
			}
			s.logger.Debug("version lazily materialized",
				"session_id", id,
				"version", version,
				"from", prior,
			)
			return dir, nil
		}
	}
	return "", &domain.VersionNotFoundError{SessionID: id, Version: version}
}

// copyDir recursively duplicates a directory, including auxiliary assets
// such as generated images.
func (s *Store) copyDir(src, dst string) error {
	if err := s.fs.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := s.fs.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := s.copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		raw, err := s.fs.ReadFile(srcPath)
		if err != nil {
			return err
		}
		if err := s.fs.WriteFile(dstPath, raw, entry.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}
