package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/parley/internal/observability"
	"github.com/antoniostano/parley/internal/playback"
	"github.com/antoniostano/parley/internal/protocol"
	"github.com/antoniostano/parley/internal/session"
	"github.com/antoniostano/parley/internal/store"
	"github.com/antoniostano/parley/internal/transport"
)

// Prometheus collectors register globally, so the package shares one set.
var testMetrics = observability.NewMetrics("parley_driver_test")

const testFrameBytes = 4

var (
	speechFrame  = []byte{1, 0, 0, 0}
	silenceFrame = []byte{0, 0, 0, 0}
)

// firstByteClassifier calls a frame speech iff its first byte is nonzero.
type firstByteClassifier struct{}

func (firstByteClassifier) Classify(frame []byte) bool {
	return len(frame) == testFrameBytes && frame[0] != 0
}

type fakeConn struct {
	mu        sync.Mutex
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	sent      []protocol.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Receive(timeout time.Duration) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	default:
	}
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-time.After(timeout):
		return nil, transport.ErrTimeout
	}
}

func (c *fakeConn) Send(v any) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	env, ok := v.(protocol.Envelope)
	if !ok {
		return errors.New("unexpected message type")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) interruptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, env := range c.sent {
		if env.Data.ServerContent.Interrupted {
			n++
		}
	}
	return n
}

type fakeDriverTask struct {
	source    string
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	cancelled bool
	chunks    int64
}

func newFakeDriverTask(source string) *fakeDriverTask {
	return &fakeDriverTask{source: source, done: make(chan struct{})}
}

func (t *fakeDriverTask) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *fakeDriverTask) finish() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *fakeDriverTask) Wait() { <-t.done }

func (t *fakeDriverTask) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *fakeDriverTask) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *fakeDriverTask) ChunksSent() int64 { return t.chunks }
func (t *fakeDriverTask) Source() string    { return t.source }

type fakeStreamer struct {
	mu       sync.Mutex
	startErr error
	tasks    []*fakeDriverTask
	startAt  []time.Time
}

func (s *fakeStreamer) Start(_ context.Context) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startAt = append(s.startAt, time.Now())
	if s.startErr != nil {
		return nil, s.startErr
	}
	task := newFakeDriverTask("clip.wav")
	task.chunks = 7
	s.tasks = append(s.tasks, task)
	return task, nil
}

func (s *fakeStreamer) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *fakeStreamer) setStartErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = err
}

func (s *fakeStreamer) firstStartAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startAt[0]
}

func (s *fakeStreamer) lastTask() *fakeDriverTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return nil
	}
	return s.tasks[len(s.tasks)-1]
}

type harness struct {
	driver   *Driver
	sessions *session.Manager
	store    *store.InMemoryStore
	sess     *session.Session
	conn     *fakeConn
	streamer *fakeStreamer
	done     chan error
}

func newHarness(t *testing.T, silenceThreshold time.Duration) *harness {
	t.Helper()
	sessions := session.NewManager()
	st := store.NewInMemoryStore()
	h := &harness{
		driver:   NewDriver(sessions, st, testMetrics, testFrameBytes, silenceThreshold, 5*time.Millisecond),
		sessions: sessions,
		store:    st,
		sess:     sessions.Create("test-peer"),
		conn:     newFakeConn(),
		streamer: &fakeStreamer{},
		done:     make(chan error, 1),
	}
	go func() {
		h.done <- h.driver.RunSession(context.Background(), h.sess, h.conn, firstByteClassifier{}, h.streamer)
	}()
	t.Cleanup(func() {
		h.conn.Close()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Errorf("driver did not stop within 2s of connection close")
		}
	})
	return h
}

func (h *harness) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) events(t *testing.T) []store.TurnEvent {
	t.Helper()
	events, err := h.store.RecentEvents(context.Background(), h.sess.ID, 0)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v, want nil", err)
	}
	return events
}

func hasEvent(events []store.TurnEvent, ev store.Event) bool {
	for _, e := range events {
		if e.Event == ev {
			return true
		}
	}
	return false
}

func TestDriverSilenceNeverResponds(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	for i := 0; i < 32; i++ {
		h.conn.inbound <- silenceFrame
	}
	time.Sleep(200 * time.Millisecond)

	if n := h.conn.interruptCount(); n != 0 {
		t.Fatalf("interrupt notices = %d, want 0 for pure silence", n)
	}
	if n := h.streamer.startCount(); n != 0 {
		t.Fatalf("playback starts = %d, want 0 for pure silence", n)
	}
}

func TestDriverUtteranceTriggersOneNoticeThenPlayback(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	spokeAt := time.Now()
	h.conn.inbound <- speechFrame
	h.conn.inbound <- speechFrame // immediate follow-up must not double the notice
	h.waitFor(t, "interrupt notice", func() bool { return h.conn.interruptCount() >= 1 })

	h.waitFor(t, "playback start", func() bool { return h.streamer.startCount() == 1 })
	if elapsed := h.streamer.firstStartAt().Sub(spokeAt); elapsed < 45*time.Millisecond {
		t.Fatalf("playback started %s after speech, want >= silence threshold", elapsed)
	}
	if n := h.conn.interruptCount(); n != 1 {
		t.Fatalf("interrupt notices = %d, want exactly 1 per utterance", n)
	}

	events := h.events(t)
	if !hasEvent(events, store.EventUtteranceStarted) {
		t.Fatalf("events = %v, want utterance_started", events)
	}
	if !hasEvent(events, store.EventResponseStarted) {
		t.Fatalf("events = %v, want response_started", events)
	}
}

func TestDriverPlaybackCompletionReturnsToListening(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)

	h.conn.inbound <- speechFrame
	h.waitFor(t, "playback start", func() bool { return h.streamer.startCount() == 1 })

	h.streamer.lastTask().finish()
	h.waitFor(t, "turn recorded", func() bool {
		s, err := h.sessions.Get(h.sess.ID)
		return err == nil && s.TurnCount == 1
	})
	if !hasEvent(h.events(t), store.EventResponseCompleted) {
		t.Fatalf("events = %v, want response_completed", h.events(t))
	}

	// Back in LISTENING: a fresh utterance sends a second notice.
	h.conn.inbound <- speechFrame
	h.waitFor(t, "second interrupt notice", func() bool { return h.conn.interruptCount() == 2 })
}

func TestDriverBargeInCancelsPlayback(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)

	h.conn.inbound <- speechFrame
	h.waitFor(t, "playback start", func() bool { return h.streamer.startCount() == 1 })
	task := h.streamer.lastTask()

	h.conn.inbound <- speechFrame
	h.waitFor(t, "playback cancellation", func() bool { return task.Cancelled() })
	h.waitFor(t, "second interrupt notice", func() bool { return h.conn.interruptCount() == 2 })

	h.waitFor(t, "interruption recorded", func() bool {
		s, err := h.sessions.Get(h.sess.ID)
		return err == nil && s.InterruptionCount == 1
	})
	if !hasEvent(h.events(t), store.EventResponseInterrupted) {
		t.Fatalf("events = %v, want response_interrupted", h.events(t))
	}

	// The barge-in re-armed the silence timer: a second playback follows.
	h.waitFor(t, "second playback", func() bool { return h.streamer.startCount() == 2 })
	if !task.Finished() {
		t.Fatalf("first task Finished() = false at second start, want joined before new task")
	}
}

func TestDriverNoSourceFallsBackToListening(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)
	h.streamer.setStartErr(playback.ErrNoSource)

	h.conn.inbound <- speechFrame
	h.waitFor(t, "playback start attempt", func() bool {
		h.streamer.mu.Lock()
		defer h.streamer.mu.Unlock()
		return len(h.streamer.startAt) >= 1
	})

	// Fresh speech must be treated as a new utterance (LISTENING again).
	h.conn.inbound <- speechFrame
	h.waitFor(t, "second interrupt notice", func() bool { return h.conn.interruptCount() == 2 })

	if hasEvent(h.events(t), store.EventResponseStarted) {
		t.Fatalf("events contain response_started, want none when no source exists")
	}
}

func TestDriverTeardownCancelsActivePlayback(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)

	h.conn.inbound <- speechFrame
	h.waitFor(t, "playback start", func() bool { return h.streamer.startCount() == 1 })
	task := h.streamer.lastTask()

	h.conn.Close()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("RunSession() error = %v, want nil on transport closure", err)
		}
		h.done <- nil // keep cleanup happy
	case <-time.After(2 * time.Second):
		t.Fatalf("RunSession() did not return after transport closure")
	}

	if !task.Cancelled() || !task.Finished() {
		t.Fatalf("task cancelled/finished = %v/%v after teardown, want true/true", task.Cancelled(), task.Finished())
	}
	s, err := h.sessions.Get(h.sess.ID)
	if err != nil {
		t.Fatalf("Get() error = %v, want nil", err)
	}
	if s.Status != session.StatusEnded {
		t.Fatalf("session status = %v, want ended", s.Status)
	}
	if !hasEvent(h.events(t), store.EventSessionEnded) {
		t.Fatalf("events = %v, want session_ended", h.events(t))
	}
}

func TestDriverPartialFramesAreBuffered(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)

	// Speech frame split across two receives: no notice until complete.
	h.conn.inbound <- speechFrame[:2]
	time.Sleep(50 * time.Millisecond)
	if n := h.conn.interruptCount(); n != 0 {
		t.Fatalf("interrupt notices = %d for half a frame, want 0", n)
	}
	h.conn.inbound <- speechFrame[2:]
	h.waitFor(t, "interrupt notice", func() bool { return h.conn.interruptCount() == 1 })
}
