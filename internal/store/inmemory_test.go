package store

import (
	"context"
	"testing"
)

func TestSaveAndRecentEvents(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, ev := range []Event{EventSessionStarted, EventUtteranceStarted, EventResponseStarted} {
		if err := s.SaveEvent(ctx, TurnEvent{SessionID: "s1", Event: ev}); err != nil {
			t.Fatalf("SaveEvent(%s) error = %v, want nil", ev, err)
		}
	}
	if err := s.SaveEvent(ctx, TurnEvent{SessionID: "other", Event: EventSessionStarted}); err != nil {
		t.Fatalf("SaveEvent() error = %v, want nil", err)
	}

	events, err := s.RecentEvents(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v, want nil", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Event != EventUtteranceStarted || events[1].Event != EventResponseStarted {
		t.Fatalf("events = [%s %s], want chronological tail [utterance_started response_started]",
			events[0].Event, events[1].Event)
	}
	if events[0].ID == "" {
		t.Fatalf("event ID = empty, want generated uuid")
	}
	if events[0].CreatedAt.IsZero() {
		t.Fatalf("CreatedAt = zero, want populated")
	}
}

func TestRecentEventsUnknownSession(t *testing.T) {
	s := NewInMemoryStore()
	events, err := s.RecentEvents(context.Background(), "ghost", 10)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v, want nil", err)
	}
	if len(events) != 0 {
		t.Fatalf("len(events) = %d, want 0", len(events))
	}
}
