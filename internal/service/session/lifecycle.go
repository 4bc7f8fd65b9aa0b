package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"

	"pageforge/internal/domain"
	"pageforge/internal/domain/models"
	"pageforge/internal/domain/services"
	"pageforge/internal/store"
)

// groupRange bounds the random display group tag used for UI clustering.
const groupRange = 1000

// Lifecycle creates, clones and deletes sessions. Creation is deduplicated
// process-wide: concurrent create requests carrying the same nonce resolve to
// the same new session, and the in-flight handle is cleared once the creation
// settles so later calls start fresh.
type Lifecycle struct {
	store    *store.Store
	notifier services.Notifier
	logger   *slog.Logger

	creations singleflight.Group
	hydration conc.WaitGroup
}

// NewLifecycle creates a session lifecycle service.
func NewLifecycle(store *store.Store, notifier services.Notifier, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateParams controls session creation.
type CreateParams struct {
	// Nonce coalesces concurrent create requests; empty disables dedup.
	Nonce string
	// Files seeds version 0. Nil uses the starter page.
	Files                  *models.FileSnapshot
	ImageGenerationAllowed bool
}

// Create makes a fresh session with a new id and a random display group.
func (l *Lifecycle) Create(ctx context.Context, params CreateParams) (*models.Session, error) {
	key := params.Nonce
	if key == "" {
		key = uuid.NewString()
	}

	result, err, _ := l.creations.Do(key, func() (any, error) {
		files := StarterSnapshot()
		if params.Files != nil {
			files = *params.Files
		}
		return l.store.CreateSession(ctx, uuid.NewString(), RandomGroup(), params.ImageGenerationAllowed, files)
	})
	l.creations.Forget(key)
	if err != nil {
		return nil, err
	}
	return result.(*models.Session), nil
}

// Get returns session metadata.
func (l *Lifecycle) Get(ctx context.Context, id string) (*models.Session, error) {
	return l.store.GetSession(ctx, id)
}

// GetOrCreate returns the session with the given id, creating it with the
// starter page when it does not exist yet.
func (l *Lifecycle) GetOrCreate(ctx context.Context, id string, imageGenerationAllowed bool) (*models.Session, error) {
	session, err := l.store.GetSession(ctx, id)
	if err == nil {
		return session, nil
	}
	var notFound *domain.SessionNotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	result, createErr, _ := l.creations.Do("get-or-create:"+id, func() (any, error) {
		return l.store.CreateSession(ctx, id, RandomGroup(), imageGenerationAllowed, StarterSnapshot())
	})
	l.creations.Forget("get-or-create:" + id)
	if createErr != nil {
		return nil, createErr
	}
	return result.(*models.Session), nil
}

// List returns metadata for every session.
func (l *Lifecycle) List(ctx context.Context) ([]models.Session, error) {
	return l.store.ListSessions(ctx)
}

// Delete removes a session and its on-disk subtree.
func (l *Lifecycle) Delete(ctx context.Context, id string) error {
	return l.store.DeleteSession(ctx, id)
}

// CloneAtTurn allocates a new session seeded from the source as it stood at
// the end of the given turn. The id and group return immediately; the version
// subtree is hydrated on a background task, and hydration failures surface as
// an error chat-status event keyed by the new id.
func (l *Lifecycle) CloneAtTurn(ctx context.Context, sourceID string, turn int) (*models.Session, error) {
	source, err := l.store.GetSession(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	version, err := l.store.ResolveVersionForTurn(ctx, sourceID, turn)
	if err != nil {
		return nil, err
	}
	return l.startClone(ctx, source, turn, version), nil
}

// CloneAtVersion is CloneAtTurn keyed by version: the cut turn is the last
// turn whose recorded version does not exceed the requested one.
func (l *Lifecycle) CloneAtVersion(ctx context.Context, sourceID string, version int) (*models.Session, error) {
	source, err := l.store.GetSession(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if version > source.CurrentVersion {
		return nil, &domain.CloneSourceInvalidError{
			SessionID: sourceID,
			Message:   fmt.Sprintf("version %d beyond head %d", version, source.CurrentVersion),
		}
	}

	contextLog, err := l.store.ContextLog(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	turn := 0
	for _, entry := range contextLog {
		if entry.Role == models.RoleUser && entry.Version <= version && entry.Turn > turn {
			turn = entry.Turn
		}
	}
	return l.startClone(ctx, source, turn, version), nil
}

// HydrateClone synchronously seeds a pre-allocated session id from the
// source as it stood at the end of the given turn. The branch coordinator
// drives this from its own background tasks; the direct clone operations go
// through CloneAtTurn/CloneAtVersion instead.
func (l *Lifecycle) HydrateClone(ctx context.Context, sourceID, newID string, group, turn int) (*models.Session, error) {
	source, err := l.store.GetSession(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	version, err := l.store.ResolveVersionForTurn(ctx, sourceID, turn)
	if err != nil {
		return nil, err
	}
	clone := &models.Session{
		ID:                     newID,
		Group:                  group,
		CurrentVersion:         version,
		LastTurn:               turn,
		ImageGenerationAllowed: source.ImageGenerationAllowed,
	}
	if err := l.hydrate(ctx, source, clone, turn, version); err != nil {
		return nil, err
	}
	return l.store.GetSession(ctx, newID)
}

// Wait blocks until every background hydration settles. Tests and shutdown
// use it; request paths never do.
func (l *Lifecycle) Wait() {
	l.hydration.Wait()
}

// startClone allocates the clone's identity synchronously and schedules the
// subtree copy in the background.
func (l *Lifecycle) startClone(ctx context.Context, source *models.Session, turn, version int) *models.Session {
	clone := &models.Session{
		ID:                     uuid.NewString(),
		Group:                  RandomGroup(),
		CurrentVersion:         version,
		LastTurn:               turn,
		ImageGenerationAllowed: source.ImageGenerationAllowed,
	}

	background := context.WithoutCancel(ctx)
	l.hydration.Go(func() {
		if err := l.hydrate(background, source, clone, turn, version); err != nil {
			l.logger.Error("clone hydration failed",
				"source_session_id", source.ID,
				"new_session_id", clone.ID,
				"error", err,
			)
			l.notifier.ChatStatus(background, models.ChatStatusEvent{
				SessionID: clone.ID,
				Status:    models.StatusError,
				Message:   "failed to prepare the cloned session",
				Details:   err.Error(),
			})
		}
	})

	l.logger.Info("clone scheduled",
		"source_session_id", source.ID,
		"new_session_id", clone.ID,
		"turn", turn,
		"version", version,
	)
	return clone
}

func (l *Lifecycle) hydrate(ctx context.Context, source, clone *models.Session, turn, version int) error {
	if err := l.store.CloneSubtree(ctx, source.ID, clone.ID, version); err != nil {
		return err
	}
	if _, err := l.store.AdoptClone(ctx, clone.ID, clone.Group, clone.ImageGenerationAllowed, version); err != nil {
		return err
	}
	if err := l.store.TruncateAfterTurn(ctx, clone.ID, turn); err != nil {
		return err
	}
	l.notifier.SessionCreated(ctx, models.SessionCreatedEvent{
		SourceSessionID: source.ID,
		NewSessionID:    clone.ID,
		Group:           clone.Group,
	})
	return nil
}

// RandomGroup picks a display group tag for a new session or sibling.
func RandomGroup() int {
	return rand.Intn(groupRange)
}
