package chat

import (
	"context"

	"pageforge/internal/domain/models"
	"pageforge/internal/domain/services"
)

// StatusProgress adapts the agent loop's progress sink onto the notifier:
// each flushed line becomes a generating chat-status event.
type StatusProgress struct {
	notifier services.Notifier
}

// NewStatusProgress creates the adapter.
func NewStatusProgress(notifier services.Notifier) *StatusProgress {
	return &StatusProgress{notifier: notifier}
}

// Progress implements agent.ProgressSink.
func (p *StatusProgress) Progress(ctx context.Context, sessionID, line string) {
	p.notifier.ChatStatus(ctx, models.ChatStatusEvent{
		SessionID: sessionID,
		Status:    models.StatusGenerating,
		Message:   line,
	})
}
