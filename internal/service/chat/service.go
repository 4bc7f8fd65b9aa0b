package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pageforge/internal/domain/models"
	"pageforge/internal/domain/services"
	"pageforge/internal/service/agent"
	"pageforge/internal/store"
)

// VariantDispatcher fans a variant request out into sibling sessions. The
// branch coordinator implements it; the setter breaks the construction cycle
// between the two services.
type VariantDispatcher interface {
	Dispatch(ctx context.Context, sourceID string, triggeringTurn int, req agent.VariantRequest)
}

// Service is the instruction-handling path: it opens the turn, runs the
// agent loop, commits the resulting files when the turn mutated anything, and
// merges the loop's transcript back into the session logs.
type Service struct {
	store    *store.Store
	loop     *agent.Loop
	notifier services.Notifier
	logger   *slog.Logger
	variants VariantDispatcher
}

// NewService creates the chat service.
func NewService(store *store.Store, loop *agent.Loop, notifier services.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		loop:     loop,
		notifier: notifier,
		logger:   logger,
	}
}

// SetVariantDispatcher wires the branch coordinator in after construction.
// Without one, variant requests complete the turn but fan nothing out.
func (s *Service) SetVariantDispatcher(d VariantDispatcher) {
	s.variants = d
}

// InstructionParams is one user instruction against one session.
type InstructionParams struct {
	SessionID    string
	Instructions string
	// Selection is the element the user had selected when sending the
	// instruction, if any.
	Selection *models.Selection
	// AllowVariants permits the generate_variants tool. Sibling runs started
	// by the branch coordinator pass false; fan-out is one level deep.
	AllowVariants bool
}

// HandleInstruction runs one full turn. Callers must not issue two
// concurrent instructions against the same session id.
func (s *Service) HandleInstruction(ctx context.Context, params InstructionParams) error {
	if strings.TrimSpace(params.Instructions) == "" {
		s.notifier.ChatStatus(ctx, models.ChatStatusEvent{
			SessionID: params.SessionID,
			Status:    models.StatusSkipped,
			Message:   "empty instruction",
		})
		return nil
	}

	s.notifier.ChatStatus(ctx, models.ChatStatusEvent{
		SessionID: params.SessionID,
		Status:    models.StatusStarted,
	})

	session, err := s.store.GetSession(ctx, params.SessionID)
	if err != nil {
		return s.fail(ctx, params.SessionID, "session lookup failed", err)
	}

	// The loop receives the conversation as it stood before this turn; the
	// instruction itself travels separately.
	prior, err := s.store.ContextLog(ctx, params.SessionID)
	if err != nil {
		return s.fail(ctx, params.SessionID, "context read failed", err)
	}

	turn, err := s.store.BeginTurn(ctx, params.SessionID, models.ChatEntry{
		Content:   params.Instructions,
		Selection: params.Selection,
	})
	if err != nil {
		return s.fail(ctx, params.SessionID, "turn creation failed", err)
	}

	snapshot, err := s.store.ReadSnapshot(ctx, params.SessionID, session.CurrentVersion)
	if err != nil {
		return s.fail(ctx, params.SessionID, "snapshot read failed", err)
	}

	result := s.loop.Run(ctx, agent.RunRequest{
		SessionID:              params.SessionID,
		Instructions:           enrich(params.Instructions, params.Selection),
		Snapshot:               snapshot,
		Context:                prior,
		CurrentVersion:         session.CurrentVersion,
		ImageGenerationAllowed: session.ImageGenerationAllowed,
		AllowVariants:          params.AllowVariants,
	})

	if result.TargetVersion != nil && result.Files != nil {
		if _, err := s.store.CommitFiles(ctx, params.SessionID, *result.Files, *result.TargetVersion); err != nil {
			return s.fail(ctx, params.SessionID, "commit failed", err)
		}
	}

	if err := s.store.AppendAssistantEntries(ctx, params.SessionID, result.ContextEntries); err != nil {
		return s.fail(ctx, params.SessionID, "history merge failed", err)
	}

	if result.Outcome == agent.OutcomeFailed {
		s.notifier.ChatStatus(ctx, models.ChatStatusEvent{
			SessionID: params.SessionID,
			Status:    models.StatusError,
			Message:   result.Summary,
		})
		return nil
	}

	if result.VariantRequest != nil && s.variants != nil {
		s.variants.Dispatch(ctx, params.SessionID, turn, *result.VariantRequest)
	}

	s.notifier.ChatStatus(ctx, models.ChatStatusEvent{
		SessionID: params.SessionID,
		Status:    models.StatusCompleted,
		Message:   result.Summary,
	})

	s.logger.Info("instruction handled",
		"session_id", params.SessionID,
		"turn", turn,
		"outcome", string(result.Outcome),
	)
	return nil
}

// fail reports a turn-level failure through the notifier and returns the
// error to the caller.
func (s *Service) fail(ctx context.Context, sessionID, message string, err error) error {
	s.logger.Error("instruction failed",
		"session_id", sessionID,
		"message", message,
		"error", err,
	)
	s.notifier.ChatStatus(ctx, models.ChatStatusEvent{
		SessionID: sessionID,
		Status:    models.StatusError,
		Message:   message,
		Details:   err.Error(),
	})
	return fmt.Errorf("%s: %w", message, err)
}

// enrich appends the selected-element context to the instruction text.
func enrich(instructions string, selection *models.Selection) string {
	if selection == nil || selection.Selector == "" {
		return instructions
	}
	return fmt.Sprintf("%s\n\nThe user has selected the element matching %q; focus the change there.", instructions, selection.Selector)
}
