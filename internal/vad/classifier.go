package vad

import (
	"log"

	"github.com/antoniostano/parley/internal/audio"
)

// Classifier adapts a Detector to the per-frame boolean decision the turn
// engine consumes. It is fail-safe: frames of the wrong length and detector
// errors both classify as not-speech so a bad frame can never start or hold
// a turn.
type Classifier struct {
	detector   Detector
	frameBytes int
	threshold  float64
}

// NewClassifier wires a detector to a fixed frame size (in bytes) and a
// speech probability threshold.
func NewClassifier(detector Detector, frameBytes int, threshold float64) *Classifier {
	return &Classifier{
		detector:   detector,
		frameBytes: frameBytes,
		threshold:  threshold,
	}
}

// Classify reports whether the frame contains speech. The frame must be
// exactly the configured size; anything else is treated as not-speech
// without reaching the detector.
func (c *Classifier) Classify(frame []byte) bool {
	if len(frame) != c.frameBytes {
		return false
	}
	p, err := c.detector.Probability(audio.BytesToSamples(frame))
	if err != nil {
		log.Printf("vad: detector error, treating frame as silence: %v", err)
		return false
	}
	return p > c.threshold
}

// FrameBytes reports the frame size the classifier requires.
func (c *Classifier) FrameBytes() int {
	return c.frameBytes
}
