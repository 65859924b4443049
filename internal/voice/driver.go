package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/observability"
	"github.com/antoniostano/parley/internal/protocol"
	"github.com/antoniostano/parley/internal/session"
	"github.com/antoniostano/parley/internal/store"
	"github.com/antoniostano/parley/internal/transport"
	"github.com/antoniostano/parley/internal/turn"
)

const saveEventTimeout = 2 * time.Second

// Driver runs the per-connection turn-taking loop. One Driver serves the
// whole process; every session gets its own machine, frame buffer, and
// playback task, so sessions share no mutable state.
type Driver struct {
	sessions *session.Manager
	store    store.Store
	metrics  *observability.Metrics

	frameBytes       int
	silenceThreshold time.Duration
	pollInterval     time.Duration
}

func NewDriver(
	sessions *session.Manager,
	st store.Store,
	metrics *observability.Metrics,
	frameBytes int,
	silenceThreshold time.Duration,
	pollInterval time.Duration,
) *Driver {
	return &Driver{
		sessions:         sessions,
		store:            st,
		metrics:          metrics,
		frameBytes:       frameBytes,
		silenceThreshold: silenceThreshold,
		pollInterval:     pollInterval,
	}
}

// RunSession drives one connection until its transport closes or ctx is
// cancelled. It always tears the session down: any active playback is
// cancelled and joined, the registry entry is ended, and the connection is
// closed. A panic in the loop ends this session only.
func (d *Driver) RunSession(ctx context.Context, sess *session.Session, conn Conn, classifier Classifier, streamer Streamer) (err error) {
	machine := turn.NewMachine(d.silenceThreshold)
	buffer := audio.NewFrameBuffer(d.frameBytes)

	// Reporting-only view of the in-flight playback; the machine remains
	// the source of truth for whether one exists.
	var active Task
	var lastSpeechAt time.Time

	d.saveEvent(sess.ID, store.EventSessionStarted, "", 0)
	d.metrics.SessionEvents.WithLabelValues("started").Inc()
	d.metrics.ActiveSessions.Set(float64(d.sessions.ActiveCount()))

	defer func() {
		if task := machine.ActiveTask(); task != nil {
			task.Cancel()
			task.Wait()
			d.metrics.PlaybackTasks.WithLabelValues("abandoned").Inc()
		}
		if active != nil {
			d.metrics.PlaybackChunks.Add(float64(active.ChunksSent()))
		}
		d.saveEvent(sess.ID, store.EventSessionEnded, "", 0)
		if _, endErr := d.sessions.End(sess.ID); endErr != nil {
			log.Printf("session %s: end failed: %v", sess.ID, endErr)
		}
		d.metrics.SessionEvents.WithLabelValues("ended").Inc()
		d.metrics.ActiveSessions.Set(float64(d.sessions.ActiveCount()))
		_ = conn.Close()
	}()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("session %s: driver fault: %v", sess.ID, r)
			err = fmt.Errorf("driver fault: %v", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		now := time.Now()

		// End of speech: the user has been quiet long enough, respond.
		// Checked before consuming new bytes so continuous inbound
		// traffic cannot starve the transition.
		if machine.SilenceElapsed(now) {
			buffer.Clear()
			task, startErr := streamer.Start(ctx)
			if startErr != nil {
				log.Printf("session %s: playback start failed: %v", sess.ID, startErr)
				d.metrics.PlaybackTasks.WithLabelValues("start_failed").Inc()
				machine.PlaybackStartFailed()
			} else {
				if beginErr := machine.BeginResponding(task); beginErr != nil {
					task.Cancel()
					task.Wait()
					return beginErr
				}
				active = task
				d.metrics.TurnTransitions.WithLabelValues("response_started").Inc()
				if !lastSpeechAt.IsZero() {
					d.metrics.ObserveResponseLatency(now.Sub(lastSpeechAt.Add(d.silenceThreshold)))
				}
				d.saveEvent(sess.ID, store.EventResponseStarted, task.Source(), 0)
				log.Printf("session %s: end of speech, streaming %s", sess.ID, task.Source())
			}
		}

		// Playback ran out of source audio: back to listening.
		if machine.ObservePlaybackFinished() {
			d.metrics.TurnTransitions.WithLabelValues("response_completed").Inc()
			d.metrics.PlaybackTasks.WithLabelValues("completed").Inc()
			if active != nil {
				d.metrics.PlaybackChunks.Add(float64(active.ChunksSent()))
				d.saveEvent(sess.ID, store.EventResponseCompleted, active.Source(), active.ChunksSent())
				active = nil
			}
			if recordErr := d.sessions.RecordTurn(sess.ID); recordErr != nil {
				log.Printf("session %s: record turn failed: %v", sess.ID, recordErr)
			}
		}

		// Bounded wait for inbound audio keeps the checks above live
		// even when the client goes quiet.
		data, recvErr := conn.Receive(d.pollInterval)
		switch {
		case recvErr == nil:
			buffer.Append(data)
			if touchErr := d.sessions.Touch(sess.ID); touchErr != nil {
				log.Printf("session %s: touch failed: %v", sess.ID, touchErr)
			}
		case errors.Is(recvErr, transport.ErrTimeout):
			// Nothing arrived; loop around for the state checks.
		case errors.Is(recvErr, transport.ErrClosed):
			return nil
		default:
			return fmt.Errorf("receive: %w", recvErr)
		}

		// Drain complete frames in arrival order, applying at most one
		// transition's side effects per frame.
		for {
			frame, ok := buffer.TakeFrame()
			if !ok {
				break
			}
			speech := classifier.Classify(frame)
			if speech {
				d.metrics.FramesClassified.WithLabelValues("speech").Inc()
				lastSpeechAt = time.Now()
			} else {
				d.metrics.FramesClassified.WithLabelValues("silence").Inc()
			}

			switch machine.OnFrame(speech, time.Now()) {
			case turn.EffectUtteranceStarted:
				d.metrics.TurnTransitions.WithLabelValues("utterance_started").Inc()
				d.saveEvent(sess.ID, store.EventUtteranceStarted, "", 0)
				log.Printf("session %s: sustained voice detected, waiting for end of speech", sess.ID)
				if sendErr := d.sendInterrupt(conn); sendErr != nil {
					return nil
				}
			case turn.EffectPlaybackInterrupted:
				// The machine already cancelled and joined the task.
				d.metrics.TurnTransitions.WithLabelValues("response_interrupted").Inc()
				d.metrics.PlaybackTasks.WithLabelValues("interrupted").Inc()
				if active != nil {
					d.metrics.PlaybackChunks.Add(float64(active.ChunksSent()))
					d.saveEvent(sess.ID, store.EventResponseInterrupted, active.Source(), active.ChunksSent())
					active = nil
				}
				if recordErr := d.sessions.RecordInterruption(sess.ID); recordErr != nil {
					log.Printf("session %s: record interruption failed: %v", sess.ID, recordErr)
				}
				log.Printf("session %s: playback interrupted by user speech", sess.ID)
				if sendErr := d.sendInterrupt(conn); sendErr != nil {
					return nil
				}
			}
		}
	}
}

// sendInterrupt delivers the interrupt notice. A closed transport is an
// expected terminal condition, reported as a non-nil error so the caller
// stops the loop; it is never logged as a failure.
func (d *Driver) sendInterrupt(conn Conn) error {
	return conn.Send(protocol.InterruptNotice())
}

func (d *Driver) saveEvent(sessionID string, event store.Event, source string, chunks int64) {
	ctx, cancel := context.WithTimeout(context.Background(), saveEventTimeout)
	defer cancel()
	err := d.store.SaveEvent(ctx, store.TurnEvent{
		SessionID:  sessionID,
		Event:      event,
		Source:     source,
		ChunksSent: chunks,
	})
	if err != nil {
		log.Printf("session %s: save %s event failed: %v", sessionID, event, err)
	}
}
