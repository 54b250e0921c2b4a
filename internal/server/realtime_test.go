package server

import (
	"context"
	"testing"
	"time"
)

func TestDeckEventDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDeckEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "alice")
	defer cleanup()

	dispatcher.Publish(DeckEvent{
		Owner:     "alice",
		EventType: DeckEventCardsChanged,
		DeckID:    7,
		CardIDs:   []string{"card-a", "card-b"},
		Timestamp: time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.EventType != DeckEventCardsChanged {
			t.Fatalf("expected event type %s, got %s", DeckEventCardsChanged, received.EventType)
		}
		if received.DeckID != 7 || len(received.CardIDs) != 2 {
			t.Fatalf("unexpected event payload %+v", received)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected deck event within deadline")
	}
}

func TestDeckEventDispatcherIsolatedByOwner(t *testing.T) {
	dispatcher := NewDeckEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aliceStream, aliceCleanup := dispatcher.Subscribe(ctx, "alice")
	defer aliceCleanup()
	bobStream, bobCleanup := dispatcher.Subscribe(ctx, "bob")
	defer bobCleanup()

	dispatcher.Publish(DeckEvent{Owner: "bob", EventType: DeckEventDeckDeleted, DeckID: 3, Timestamp: time.Now().UTC()})

	select {
	case <-aliceStream:
		t.Fatal("did not expect deck event for unrelated owner")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case event := <-bobStream:
		if event.Owner != "bob" {
			t.Fatalf("expected bob, received %s", event.Owner)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected deck event for subscribed owner")
	}
}

func TestDeckEventDispatcherDropsSubscriberOnCancel(t *testing.T) {
	dispatcher := NewDeckEventDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	_, cleanup := dispatcher.Subscribe(ctx, "alice")
	cancel()
	cleanup()

	dispatcher.mu.RLock()
	defer dispatcher.mu.RUnlock()
	if _, ok := dispatcher.subscribers["alice"]; ok {
		t.Fatalf("expected subscriber to be removed")
	}
}
