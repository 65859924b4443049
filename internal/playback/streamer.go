package playback

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/antoniostano/parley/internal/protocol"
)

// Sender delivers one outbound envelope to the client. Implementations
// serialize writes; a send error means the transport is gone and the
// streamer stops without treating it as a failure.
type Sender interface {
	Send(v any) error
}

// Streamer turns a library source into a real-time paced stream of audio
// chunk messages. One Streamer serves one session; each Start produces an
// independent Task.
type Streamer struct {
	library       Library
	sender        Sender
	outputRate    int
	chunkDuration time.Duration
}

func NewStreamer(library Library, sender Sender, outputRate int, chunkDuration time.Duration) *Streamer {
	return &Streamer{
		library:       library,
		sender:        sender,
		outputRate:    outputRate,
		chunkDuration: chunkDuration,
	}
}

// Task is one in-flight playback. It is owned by the session while active;
// after Wait returns no further chunks are emitted.
type Task struct {
	source     string
	cancel     context.CancelFunc
	done       chan struct{}
	cancelled  atomic.Bool
	chunksSent atomic.Int64
}

// Cancel requests a prompt stop. Safe to call more than once and after the
// task has finished; cancellation latency is bounded by one chunk duration.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Wait blocks until the task has observably stopped. No chunk is emitted
// after Wait returns.
func (t *Task) Wait() {
	<-t.done
}

// Finished reports whether the task has stopped, for any reason.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Cancelled reports whether Cancel was called, distinguishing an
// interrupted playback from one that ran out of source audio.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// ChunksSent reports how many chunks have been emitted so far.
func (t *Task) ChunksSent() int64 {
	return t.chunksSent.Load()
}

// Source reports the name of the source being played.
func (t *Task) Source() string {
	return t.source
}

// Start picks a source, decodes it, and begins streaming it in fixed
// duration chunks. Selection and decoding happen synchronously so a missing
// source fails the start (ErrNoSource) instead of surfacing mid-stream.
func (s *Streamer) Start(ctx context.Context) (*Task, error) {
	name, err := s.library.Pick()
	if err != nil {
		return nil, err
	}
	pcm, err := s.library.Decode(name, s.outputRate)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		source: name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(runCtx, task, pcm)
	return task, nil
}

// chunkBytes is the byte count of one chunkDuration of output audio
// (16-bit mono), so the same duration means different byte counts at
// different rates.
func (s *Streamer) chunkBytes() int {
	samples := int(float64(s.outputRate) * s.chunkDuration.Seconds())
	if samples < 1 {
		samples = 1
	}
	return samples * 2
}

func (s *Streamer) run(ctx context.Context, task *Task, pcm []byte) {
	defer task.cancel()
	defer close(task.done)

	size := s.chunkBytes()
	start := time.Now()
	sent := 0

	for off := 0; off < len(pcm); off += size {
		// Cancellation is observed at every iteration boundary, before
		// the send.
		if ctx.Err() != nil {
			return
		}

		end := off + size
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := s.sender.Send(protocol.AudioChunk(pcm[off:end], s.outputRate)); err != nil {
			// Transport closure mid-stream ends the playback quietly.
			log.Printf("playback: send stopped (%v), ending stream of %s", err, task.source)
			return
		}
		sent++
		task.chunksSent.Add(1)

		// Drift-corrected pacing: sleep until the absolute deadline
		// t0 + n*chunkDuration instead of a relative chunk duration,
		// so delays in individual sends never accumulate.
		next := start.Add(time.Duration(sent) * s.chunkDuration)
		if d := time.Until(next); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}
