package vad

import (
	"fmt"
	"math"
)

// EnergyDetector scores speech probability from RMS energy. It is the
// built-in Detector; the probability contract matches what an ONNX-backed
// model (e.g. Silero) would return, so one can be swapped in without
// touching the classifier.
type EnergyDetector struct {
	windowSize int
	smoothing  float64
	last       float64
	hasLast    bool
}

// referenceRMS is the RMS of full-scale int16 speech used to normalize the
// probability; quiet room noise lands well below it.
const referenceRMS = 10000.0

// NewEnergyDetector creates a detector for windows of windowSize samples.
func NewEnergyDetector(windowSize int) (*EnergyDetector, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}
	return &EnergyDetector{windowSize: windowSize, smoothing: 0.3}, nil
}

// Probability returns the smoothed, normalized RMS energy of the window.
func (d *EnergyDetector) Probability(samples []int16) (float64, error) {
	if len(samples) != d.windowSize {
		return 0, fmt.Errorf("expected %d samples, got %d", d.windowSize, len(samples))
	}

	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	rms := math.Sqrt(energy / float64(len(samples)))

	p := rms / referenceRMS
	if p > 1 {
		p = 1
	}

	if d.hasLast {
		p = d.smoothing*p + (1-d.smoothing)*d.last
	}
	d.last = p
	d.hasLast = true
	return p, nil
}

// Reset clears smoothing state between utterances or sessions.
func (d *EnergyDetector) Reset() {
	d.last = 0
	d.hasLast = false
}
