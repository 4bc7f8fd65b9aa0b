package branch

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"pageforge/internal/domain/models"
	"pageforge/internal/domain/services"
	"pageforge/internal/service/agent"
	"pageforge/internal/service/chat"
	"pageforge/internal/service/session"
)

// InstructionHandler is the per-sibling re-entry point into the instruction
// path. chat.Service satisfies it.
type InstructionHandler interface {
	HandleInstruction(ctx context.Context, params chat.InstructionParams) error
}

// Coordinator is the system's only fan-out concurrency: on a variant request
// it allocates sibling sessions synchronously and hydrates plus generates
// each one on a background task. Each sibling owns a disjoint directory
// subtree, so the tasks never contend.
type Coordinator struct {
	lifecycle *session.Lifecycle
	handler   InstructionHandler
	notifier  services.Notifier
	logger    *slog.Logger

	tasks conc.WaitGroup
}

// NewCoordinator creates a branch coordinator.
func NewCoordinator(lifecycle *session.Lifecycle, handler InstructionHandler, notifier services.Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		lifecycle: lifecycle,
		handler:   handler,
		notifier:  notifier,
		logger:    logger,
	}
}

var _ chat.VariantDispatcher = (*Coordinator)(nil)

// sibling pairs a pre-allocated identity with its variant instruction.
type sibling struct {
	id           string
	group        int
	instructions string
}

// Dispatch implements chat.VariantDispatcher. Ids and groups are allocated
// before returning; each sibling is cloned from the source at the turn before
// the one that triggered variant generation, then runs its own instruction
// with variants disabled. Fan-out is exactly one level deep.
func (c *Coordinator) Dispatch(ctx context.Context, sourceID string, triggeringTurn int, req agent.VariantRequest) {
	siblings := make([]sibling, 0, req.Count)
	for i := 0; i < req.Count && i < len(req.Instructions); i++ {
		siblings = append(siblings, sibling{
			id:           uuid.NewString(),
			group:        session.RandomGroup(),
			instructions: req.Instructions[i],
		})
	}

	c.logger.Info("variant fan-out started",
		"source_session_id", sourceID,
		"count", len(siblings),
		"triggering_turn", triggeringTurn,
	)

	background := context.WithoutCancel(ctx)
	for _, sib := range siblings {
		sib := sib
		c.tasks.Go(func() {
			c.generate(background, sourceID, triggeringTurn, sib)
		})
	}
}

// Wait blocks until every in-flight sibling settles. Tests and shutdown use
// it.
func (c *Coordinator) Wait() {
	c.tasks.Wait()
}

func (c *Coordinator) generate(ctx context.Context, sourceID string, triggeringTurn int, sib sibling) {
	// Clone at the turn before the variant request so the sibling's history
	// does not contain the triggering turn.
	if _, err := c.lifecycle.HydrateClone(ctx, sourceID, sib.id, sib.group, triggeringTurn-1); err != nil {
		c.logger.Error("sibling hydration failed",
			"source_session_id", sourceID,
			"sibling_session_id", sib.id,
			"error", err,
		)
		c.notifier.ChatStatus(ctx, models.ChatStatusEvent{
			SessionID: sib.id,
			Status:    models.StatusError,
			Message:   "failed to prepare the variant session",
			Details:   err.Error(),
		})
		return
	}

	if err := c.handler.HandleInstruction(ctx, chat.InstructionParams{
		SessionID:     sib.id,
		Instructions:  sib.instructions,
		AllowVariants: false,
	}); err != nil {
		c.logger.Error("sibling generation failed",
			"source_session_id", sourceID,
			"sibling_session_id", sib.id,
			"error", err,
		)
	}
}
