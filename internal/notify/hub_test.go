package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"pageforge/internal/domain/models"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHubRoutesBySession(t *testing.T) {
	hub := newTestHub()
	ctx := context.Background()

	mine, cancelMine := hub.Subscribe("s1")
	defer cancelMine()
	other, cancelOther := hub.Subscribe("s2")
	defer cancelOther()
	all, cancelAll := hub.Subscribe("")
	defer cancelAll()

	hub.ChatStatus(ctx, models.ChatStatusEvent{SessionID: "s1", Status: models.StatusStarted})

	select {
	case event := <-mine:
		if event.Type != EventChatStatus {
			t.Errorf("event type = %s", event.Type)
		}
	default:
		t.Fatal("session subscriber missed its event")
	}

	select {
	case <-other:
		t.Fatal("event leaked to another session's subscriber")
	default:
	}

	select {
	case <-all:
	default:
		t.Fatal("wildcard subscriber missed the event")
	}
}

func TestHubSessionCreatedRoutesBySource(t *testing.T) {
	hub := newTestHub()

	source, cancel := hub.Subscribe("src")
	defer cancel()

	hub.SessionCreated(context.Background(), models.SessionCreatedEvent{
		SourceSessionID: "src",
		NewSessionID:    "clone",
	})

	select {
	case event := <-source:
		if event.Type != EventSessionCreated {
			t.Errorf("event type = %s", event.Type)
		}
	default:
		t.Fatal("source watcher missed the session-created event")
	}
}

func TestHubDropsOldestWhenFull(t *testing.T) {
	hub := newTestHub()
	ctx := context.Background()

	events, cancel := hub.Subscribe("s1")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.ChatStatus(ctx, models.ChatStatusEvent{SessionID: "s1", Status: models.StatusGenerating})
	}

	// The queue holds the newest subscriberBuffer events; publishing never
	// blocked.
	received := 0
	for {
		select {
		case <-events:
			received++
			continue
		default:
		}
		break
	}
	if received != subscriberBuffer {
		t.Errorf("received %d events, want %d", received, subscriberBuffer)
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := newTestHub()

	events, cancel := hub.Subscribe("s1")
	cancel()

	if _, open := <-events; open {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic.
	hub.ChatStatus(context.Background(), models.ChatStatusEvent{SessionID: "s1", Status: models.StatusCompleted})
}
