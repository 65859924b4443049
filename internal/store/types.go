package store

import (
	"context"
	"time"
)

// Event names the turn-engine moments worth persisting.
type Event string

const (
	EventSessionStarted      Event = "session_started"
	EventUtteranceStarted    Event = "utterance_started"
	EventResponseStarted     Event = "response_started"
	EventResponseCompleted   Event = "response_completed"
	EventResponseInterrupted Event = "response_interrupted"
	EventSessionEnded        Event = "session_ended"
)

// TurnEvent is one persisted turn-engine transition.
type TurnEvent struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Event      Event     `json:"event"`
	Source     string    `json:"source,omitempty"`
	ChunksSent int64     `json:"chunks_sent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists and retrieves turn events.
type Store interface {
	SaveEvent(ctx context.Context, event TurnEvent) error
	RecentEvents(ctx context.Context, sessionID string, limit int) ([]TurnEvent, error)
	Close() error
}
