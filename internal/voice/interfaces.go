package voice

import (
	"context"
	"time"

	"github.com/antoniostano/parley/internal/turn"
)

// Conn is the duplex transport owned by one session. Receive returns
// transport.ErrTimeout when the bounded wait elapses and transport.ErrClosed
// once the peer is gone; Send serializes writes internally.
type Conn interface {
	Receive(timeout time.Duration) ([]byte, error)
	Send(v any) error
	Close() error
}

// Classifier decides speech/not-speech for one fixed-size audio frame.
type Classifier interface {
	Classify(frame []byte) bool
}

// Task is an in-flight playback handle with the reporting the driver needs
// for persistence and metrics.
type Task interface {
	turn.Task
	ChunksSent() int64
	Source() string
}

// Streamer starts playback tasks for one session.
type Streamer interface {
	Start(ctx context.Context) (Task, error)
}
