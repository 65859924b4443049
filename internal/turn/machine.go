// Package turn owns the per-session turn-taking state machine. The machine
// decides state transitions and returns the side effects the session driver
// must perform; it never touches the transport itself.
package turn

import (
	"errors"
	"time"
)

// Phase names the three turn-taking states.
type Phase string

const (
	PhaseListening         Phase = "LISTENING"
	PhaseWaitingForSilence Phase = "WAITING_FOR_SILENCE"
	PhaseResponding        Phase = "RESPONDING"
)

// Task is the handle of an in-flight playback the machine tracks while
// responding. Cancel must be idempotent; Wait must block until the task has
// observably stopped and will emit nothing further.
type Task interface {
	Cancel()
	Wait()
	Finished() bool
	Cancelled() bool
}

// Effect is a side-effect request returned by a transition. The driver
// executes effects in the order it receives them, one transition per frame.
type Effect int

const (
	// EffectNone: no side effect.
	EffectNone Effect = iota
	// EffectUtteranceStarted: a fresh utterance began while listening.
	// The driver must send exactly one interrupt notice.
	EffectUtteranceStarted
	// EffectPlaybackInterrupted: user spoke over the agent. The active
	// playback has already been cancelled and joined by the time this is
	// returned; the driver must send one interrupt notice.
	EffectPlaybackInterrupted
)

var ErrNotWaiting = errors.New("turn: not waiting for silence")

// Internal tagged states. RESPONDING without a task and
// WAITING_FOR_SILENCE without a speech timestamp are unrepresentable.
type state interface{ phase() Phase }

type listening struct{}

type waitingForSilence struct{ since time.Time }

type responding struct{ task Task }

func (listening) phase() Phase         { return PhaseListening }
func (waitingForSilence) phase() Phase { return PhaseWaitingForSilence }
func (responding) phase() Phase        { return PhaseResponding }

// Machine is a single-session turn state machine. It is driven from one
// goroutine (the session driver) and needs no locking.
type Machine struct {
	silenceThreshold time.Duration
	st               state
}

// NewMachine creates a machine in LISTENING with the given end-of-speech
// silence threshold.
func NewMachine(silenceThreshold time.Duration) *Machine {
	return &Machine{silenceThreshold: silenceThreshold, st: listening{}}
}

// Phase reports the current state.
func (m *Machine) Phase() Phase {
	return m.st.phase()
}

// OnFrame consumes one classification result in frame-arrival order and
// applies at most one transition.
//
// Speech while RESPONDING synchronously cancels and joins the active
// playback before the transition completes, so no two playback tasks can
// ever overlap: by the time the driver sees EffectPlaybackInterrupted the
// old task has fully stopped. The interrupted path re-enters as a fresh
// utterance (straight to WAITING_FOR_SILENCE, interrupt notice inline)
// rather than bouncing through LISTENING first.
func (m *Machine) OnFrame(speech bool, now time.Time) Effect {
	if !speech {
		return EffectNone
	}

	switch st := m.st.(type) {
	case listening:
		m.st = waitingForSilence{since: now}
		return EffectUtteranceStarted
	case waitingForSilence:
		// More speech just re-arms the silence timer; the interrupt
		// notice was already sent when the utterance started.
		m.st = waitingForSilence{since: now}
		return EffectNone
	case responding:
		st.task.Cancel()
		st.task.Wait()
		m.st = waitingForSilence{since: now}
		return EffectPlaybackInterrupted
	default:
		return EffectNone
	}
}

// SilenceElapsed reports whether the machine is waiting for silence and the
// user has been quiet for at least the threshold. The driver checks this
// once per iteration, before consuming newly received bytes.
func (m *Machine) SilenceElapsed(now time.Time) bool {
	st, ok := m.st.(waitingForSilence)
	if !ok {
		return false
	}
	return now.Sub(st.since) >= m.silenceThreshold
}

// BeginResponding completes the WAITING_FOR_SILENCE → RESPONDING transition
// once the driver has started a playback task.
func (m *Machine) BeginResponding(task Task) error {
	if _, ok := m.st.(waitingForSilence); !ok {
		return ErrNotWaiting
	}
	if task == nil {
		return errors.New("turn: nil playback task")
	}
	m.st = responding{task: task}
	return nil
}

// PlaybackStartFailed falls back to LISTENING when no playback could be
// started (e.g. no source available).
func (m *Machine) PlaybackStartFailed() {
	if _, ok := m.st.(waitingForSilence); ok {
		m.st = listening{}
	}
}

// ObservePlaybackFinished runs the RESPONDING → LISTENING transition when
// the active task ran to completion (not cancelled), releasing the handle.
// It reports whether the transition happened.
func (m *Machine) ObservePlaybackFinished() bool {
	st, ok := m.st.(responding)
	if !ok {
		return false
	}
	if !st.task.Finished() || st.task.Cancelled() {
		return false
	}
	m.st = listening{}
	return true
}

// ActiveTask returns the in-flight playback handle, or nil when not
// responding. Used by the driver for teardown.
func (m *Machine) ActiveTask() Task {
	if st, ok := m.st.(responding); ok {
		return st.task
	}
	return nil
}
