package services

import (
	"context"

	"pageforge/internal/domain/models"
)

// Notifier is the outbound push-notification collaborator. The core only
// announces state changes through it; delivery, retention and fan-out to
// clients are the collaborator's concern.
type Notifier interface {
	ChatStatus(ctx context.Context, event models.ChatStatusEvent)
	SessionCreated(ctx context.Context, event models.SessionCreatedEvent)
}

// NopNotifier discards every event. Useful in tests and batch tooling.
type NopNotifier struct{}

func (NopNotifier) ChatStatus(context.Context, models.ChatStatusEvent)         {}
func (NopNotifier) SessionCreated(context.Context, models.SessionCreatedEvent) {}
