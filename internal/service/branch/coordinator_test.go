package branch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"pageforge/internal/domain/models"
	"pageforge/internal/service/agent"
	"pageforge/internal/service/chat"
	"pageforge/internal/service/session"
	"pageforge/internal/store"
)

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []models.ChatStatusEvent
	created  []models.SessionCreatedEvent
}

func (n *recordingNotifier) ChatStatus(ctx context.Context, event models.ChatStatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, event)
}

func (n *recordingNotifier) SessionCreated(ctx context.Context, event models.SessionCreatedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, event)
}

// committingHandler plays the instruction path: it records the call and
// advances the sibling by one committed version.
type committingHandler struct {
	store *store.Store

	mu      sync.Mutex
	handled []chat.InstructionParams
}

func (h *committingHandler) HandleInstruction(ctx context.Context, params chat.InstructionParams) error {
	h.mu.Lock()
	h.handled = append(h.handled, params)
	h.mu.Unlock()

	if _, err := h.store.BeginTurn(ctx, params.SessionID, models.ChatEntry{Content: params.Instructions}); err != nil {
		return err
	}
	target, err := h.store.InitNextVersion(ctx, params.SessionID)
	if err != nil {
		return err
	}
	files := session.StarterSnapshot().Set(models.FileStyles, "/* "+params.Instructions+" */\n")
	_, err = h.store.CommitFiles(ctx, params.SessionID, files, target)
	return err
}

func TestDispatch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.New(afero.NewMemMapFs(), "data", logger)
	notifier := &recordingNotifier{}
	lifecycle := session.NewLifecycle(s, notifier, logger)
	handler := &committingHandler{store: s}
	coordinator := NewCoordinator(lifecycle, handler, notifier, logger)

	ctx := context.Background()
	source, err := lifecycle.Create(ctx, session.CreateParams{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Turn 1 commits version 1; turn 2 is the one that requested variants.
	if err := handler.HandleInstruction(ctx, chat.InstructionParams{SessionID: source.ID, Instructions: "base layout"}); err != nil {
		t.Fatalf("setup turn: %v", err)
	}
	if _, err := s.BeginTurn(ctx, source.ID, models.ChatEntry{Content: "try some variants"}); err != nil {
		t.Fatalf("BeginTurn: %v", err)
	}

	coordinator.Dispatch(ctx, source.ID, 2, agent.VariantRequest{
		Count:        3,
		Instructions: []string{"dark theme", "pastel theme", "brutalist theme"},
	})
	coordinator.Wait()

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 4 {
		t.Fatalf("%d sessions on disk, want source + 3 siblings", len(sessions))
	}

	// The source counter is untouched by the fan-out.
	src, _ := s.GetSession(ctx, source.ID)
	if src.CurrentVersion != 1 {
		t.Errorf("source HEAD = %d, want 1", src.CurrentVersion)
	}

	// Each sibling was cloned at the turn before the trigger and advanced
	// independently.
	for _, sess := range sessions {
		if sess.ID == source.ID {
			continue
		}
		if sess.CurrentVersion != 2 {
			t.Errorf("sibling %s HEAD = %d, want 2", sess.ID, sess.CurrentVersion)
		}
		contextLog, _ := s.ContextLog(ctx, sess.ID)
		for _, entry := range contextLog {
			if entry.Content == "try some variants" {
				t.Errorf("sibling %s inherited the triggering instruction", sess.ID)
			}
		}
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.handled) != 4 {
		t.Fatalf("handled %d instructions, want setup + 3 siblings", len(handler.handled))
	}
	seen := make(map[string]bool)
	for _, params := range handler.handled[1:] {
		if params.AllowVariants {
			t.Error("sibling run allowed nested variants")
		}
		seen[params.Instructions] = true
	}
	for _, want := range []string{"dark theme", "pastel theme", "brutalist theme"} {
		if !seen[want] {
			t.Errorf("no sibling ran with instruction %q", want)
		}
	}

	notifier.mu.Lock()
	created := len(notifier.created)
	notifier.mu.Unlock()
	if created != 3 {
		t.Errorf("session-created events = %d, want 3", created)
	}
}

func TestDispatchHydrationFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.New(afero.NewMemMapFs(), "data", logger)
	notifier := &recordingNotifier{}
	lifecycle := session.NewLifecycle(s, notifier, logger)
	coordinator := NewCoordinator(lifecycle, &committingHandler{store: s}, notifier, logger)

	// Unknown source: hydration fails, surfacing as an error event keyed by
	// the sibling id.
	coordinator.Dispatch(context.Background(), "ghost", 1, agent.VariantRequest{
		Count:        2,
		Instructions: []string{"a", "b"},
	})
	coordinator.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	errorsSeen := 0
	for _, status := range notifier.statuses {
		if status.Status == models.StatusError && status.SessionID != "ghost" {
			errorsSeen++
		}
	}
	if errorsSeen != 2 {
		t.Errorf("error events on sibling ids = %d, want 2", errorsSeen)
	}
}
