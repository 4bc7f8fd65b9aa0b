package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"pageforge/internal/domain/models"
	"pageforge/internal/domain/services"
	"pageforge/internal/service/agent"
	"pageforge/internal/store"
)

// scriptedEngine plays back a fixed sequence of completion steps.
type scriptedEngine struct {
	steps []scriptedStep
	step  int
}

type scriptedStep struct {
	text  string
	calls []services.ToolCallRequest
	err   error
}

func (e *scriptedEngine) StreamStep(ctx context.Context, req *services.StepRequest) (<-chan services.StreamEvent, error) {
	var step scriptedStep
	if e.step < len(e.steps) {
		step = e.steps[e.step]
	}
	e.step++

	ch := make(chan services.StreamEvent, len(step.calls)+3)
	if step.err != nil {
		ch <- services.StreamEvent{Err: step.err}
		close(ch)
		return ch, nil
	}
	if step.text != "" {
		ch <- services.StreamEvent{TextDelta: step.text}
	}
	for i := range step.calls {
		call := step.calls[i]
		ch <- services.StreamEvent{ToolCall: &call}
	}
	ch <- services.StreamEvent{Usage: &services.TokenUsage{InputTokens: 50, OutputTokens: 10}}
	close(ch)
	return ch, nil
}

func (e *scriptedEngine) Name() string { return "scripted" }

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []models.ChatStatusEvent
}

func (n *recordingNotifier) ChatStatus(ctx context.Context, event models.ChatStatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, event)
}

func (n *recordingNotifier) SessionCreated(ctx context.Context, event models.SessionCreatedEvent) {}

func (n *recordingNotifier) statusValues() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.statuses))
	for i, status := range n.statuses {
		out[i] = status.Status
	}
	return out
}

type recordingDispatcher struct {
	mu       sync.Mutex
	sourceID string
	turn     int
	request  *agent.VariantRequest
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, sourceID string, triggeringTurn int, req agent.VariantRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sourceID = sourceID
	d.turn = triggeringTurn
	d.request = &req
}

func newTestService(t *testing.T, engine services.CompletionEngine) (*Service, *store.Store, *recordingNotifier) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := store.New(afero.NewMemMapFs(), "data", logger)
	notifier := &recordingNotifier{}
	loop := agent.NewLoop(engine, s, nil, agent.NopProgress{}, logger)
	return NewService(s, loop, notifier, logger), s, notifier
}

func createSession(t *testing.T, s *store.Store, id string) {
	t.Helper()
	files := models.FileSnapshot{
		Markup: "<html><body></body></html>\n",
		Styles: "body { background: white; }\n",
		Script: "",
	}
	if _, err := s.CreateSession(context.Background(), id, 1, false, files); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
}

func TestHandleInstructionCommitsEdit(t *testing.T) {
	engine := &scriptedEngine{steps: []scriptedStep{
		{calls: []services.ToolCallRequest{{
			ID:   "c1",
			Name: "edit_file",
			Input: map[string]any{
				"file":      "styles.css",
				"oldString": "white",
				"newString": "blue",
			},
		}}},
		{calls: []services.ToolCallRequest{{
			ID:    "c2",
			Name:  "summary",
			Input: map[string]any{"message": "Made the background blue."},
		}}},
	}}
	service, s, notifier := newTestService(t, engine)
	ctx := context.Background()
	createSession(t, s, "s1")

	err := service.HandleInstruction(ctx, InstructionParams{
		SessionID:    "s1",
		Instructions: "make background blue",
	})
	if err != nil {
		t.Fatalf("HandleInstruction: %v", err)
	}

	sess, _ := s.GetSession(ctx, "s1")
	if sess.CurrentVersion != 1 || sess.LastTurn != 1 {
		t.Errorf("session at version %d / turn %d, want 1/1", sess.CurrentVersion, sess.LastTurn)
	}

	files, err := s.ReadSnapshot(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if files.Styles != "body { background: blue; }\n" {
		t.Errorf("committed styles = %q", files.Styles)
	}

	history, _ := s.History(ctx, "s1")
	if len(history) != 2 {
		t.Fatalf("history entries = %d, want user + summary", len(history))
	}
	for _, entry := range history {
		if entry.Turn != 1 || entry.Version != 1 {
			t.Errorf("%s entry tagged turn=%d version=%d, want 1/1", entry.Role, entry.Turn, entry.Version)
		}
	}

	statuses := notifier.statusValues()
	if len(statuses) < 2 || statuses[0] != models.StatusStarted || statuses[len(statuses)-1] != models.StatusCompleted {
		t.Errorf("status sequence = %v", statuses)
	}
}

func TestHandleInstructionPureQA(t *testing.T) {
	engine := &scriptedEngine{steps: []scriptedStep{
		{text: "The background is already white."},
	}}
	service, s, _ := newTestService(t, engine)
	ctx := context.Background()
	createSession(t, s, "s1")

	if err := service.HandleInstruction(ctx, InstructionParams{
		SessionID:    "s1",
		Instructions: "what color is the background?",
	}); err != nil {
		t.Fatalf("HandleInstruction: %v", err)
	}

	sess, _ := s.GetSession(ctx, "s1")
	if sess.CurrentVersion != 0 {
		t.Errorf("Q&A turn advanced HEAD to %d", sess.CurrentVersion)
	}
	if sess.LastTurn != 1 {
		t.Errorf("turn counter = %d, want 1", sess.LastTurn)
	}
}

func TestHandleInstructionSkipsEmpty(t *testing.T) {
	service, s, notifier := newTestService(t, &scriptedEngine{})
	createSession(t, s, "s1")

	if err := service.HandleInstruction(context.Background(), InstructionParams{
		SessionID:    "s1",
		Instructions: "   ",
	}); err != nil {
		t.Fatalf("HandleInstruction: %v", err)
	}

	statuses := notifier.statusValues()
	if len(statuses) != 1 || statuses[0] != models.StatusSkipped {
		t.Errorf("status sequence = %v, want a single skipped event", statuses)
	}
}

func TestHandleInstructionEngineFailure(t *testing.T) {
	engine := &scriptedEngine{steps: []scriptedStep{
		{err: errors.New("provider unavailable")},
	}}
	service, s, notifier := newTestService(t, engine)
	ctx := context.Background()
	createSession(t, s, "s1")

	if err := service.HandleInstruction(ctx, InstructionParams{
		SessionID:    "s1",
		Instructions: "make it blue",
	}); err != nil {
		t.Fatalf("HandleInstruction: %v", err)
	}

	sess, _ := s.GetSession(ctx, "s1")
	if sess.CurrentVersion != 0 {
		t.Errorf("failed turn advanced HEAD to %d", sess.CurrentVersion)
	}

	statuses := notifier.statusValues()
	if len(statuses) == 0 || statuses[len(statuses)-1] != models.StatusError {
		t.Errorf("status sequence = %v, want error last", statuses)
	}

	// The failure summary still lands in history so the user sees it.
	history, _ := s.History(ctx, "s1")
	if len(history) != 2 {
		t.Errorf("history entries = %d, want user + failure summary", len(history))
	}
}

func TestHandleInstructionDispatchesVariants(t *testing.T) {
	engine := &scriptedEngine{steps: []scriptedStep{
		{calls: []services.ToolCallRequest{{
			ID:   "v1",
			Name: "generate_variants",
			Input: map[string]any{
				"count":        2,
				"instructions": []any{"dark theme", "light theme"},
			},
		}}},
	}}
	service, s, _ := newTestService(t, engine)
	dispatcher := &recordingDispatcher{}
	service.SetVariantDispatcher(dispatcher)
	ctx := context.Background()
	createSession(t, s, "s1")

	if err := service.HandleInstruction(ctx, InstructionParams{
		SessionID:     "s1",
		Instructions:  "show me some options",
		AllowVariants: true,
	}); err != nil {
		t.Fatalf("HandleInstruction: %v", err)
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if dispatcher.request == nil {
		t.Fatal("variant request was not dispatched")
	}
	if dispatcher.sourceID != "s1" || dispatcher.turn != 1 {
		t.Errorf("dispatched source=%s turn=%d, want s1/1", dispatcher.sourceID, dispatcher.turn)
	}
	if dispatcher.request.Count != 2 {
		t.Errorf("dispatched count = %d", dispatcher.request.Count)
	}
}
