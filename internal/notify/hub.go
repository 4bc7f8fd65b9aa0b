package notify

import (
	"context"
	"log/slog"
	"sync"

	"pageforge/internal/domain/models"
)

// Event type names on the wire.
const (
	EventChatStatus     = "chat-status"
	EventSessionCreated = "session-created"
)

// subscriberBuffer bounds each subscriber's queue. A subscriber that falls
// behind loses its oldest events rather than stalling publishers.
const subscriberBuffer = 32

// Event is one outbound notification.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub is the in-process notification collaborator: it fans announced state
// changes out to subscribers over bounded channels. It implements
// services.Notifier.
type Hub struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
}

type subscriber struct {
	sessionID string // empty subscribes to every session
	ch        chan Event
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[int]*subscriber),
	}
}

// Subscribe registers interest in events for one session (or every session
// when sessionID is empty). The returned cancel func must be called exactly
// once; the channel closes after cancellation.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	sub := &subscriber{
		sessionID: sessionID,
		ch:        make(chan Event, subscriberBuffer),
	}
	h.subscribers[id] = sub

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// ChatStatus implements services.Notifier.
func (h *Hub) ChatStatus(ctx context.Context, event models.ChatStatusEvent) {
	h.publish(event.SessionID, Event{Type: EventChatStatus, Payload: event})
}

// SessionCreated implements services.Notifier. The event is routed by the
// source session so watchers of the original learn about new branches.
func (h *Hub) SessionCreated(ctx context.Context, event models.SessionCreatedEvent) {
	h.publish(event.SourceSessionID, Event{Type: EventSessionCreated, Payload: event})
}

func (h *Hub) publish(sessionID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subscribers {
		if sub.sessionID != "" && sub.sessionID != sessionID {
			continue
		}
		for {
			select {
			case sub.ch <- event:
			default:
				// Full queue: drop the oldest event and retry.
				select {
				case <-sub.ch:
					h.logger.Debug("notification dropped for slow subscriber",
						"session_id", sessionID,
						"event_type", event.Type,
					)
				default:
				}
				continue
			}
			break
		}
	}
}
