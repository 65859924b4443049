package vad

import (
	"errors"
	"testing"

	"github.com/antoniostano/parley/internal/audio"
)

type scriptedDetector struct {
	prob  float64
	err   error
	calls int
}

func (d *scriptedDetector) Probability(_ []int16) (float64, error) {
	d.calls++
	return d.prob, d.err
}

func TestClassifyAboveThreshold(t *testing.T) {
	det := &scriptedDetector{prob: 0.9}
	c := NewClassifier(det, 8, 0.5)
	if !c.Classify(make([]byte, 8)) {
		t.Fatalf("Classify() = false, want true for probability 0.9")
	}
}

func TestClassifyAtThresholdIsSilence(t *testing.T) {
	det := &scriptedDetector{prob: 0.5}
	c := NewClassifier(det, 8, 0.5)
	if c.Classify(make([]byte, 8)) {
		t.Fatalf("Classify() = true at threshold, want false (strict greater-than)")
	}
}

func TestClassifyWrongLengthNeverReachesDetector(t *testing.T) {
	det := &scriptedDetector{prob: 1.0}
	c := NewClassifier(det, 8, 0.5)
	if c.Classify(make([]byte, 7)) {
		t.Fatalf("Classify(short frame) = true, want false")
	}
	if c.Classify(make([]byte, 9)) {
		t.Fatalf("Classify(long frame) = true, want false")
	}
	if det.calls != 0 {
		t.Fatalf("detector calls = %d, want 0 for malformed frames", det.calls)
	}
}

func TestClassifyDetectorErrorIsSilence(t *testing.T) {
	det := &scriptedDetector{prob: 0.9, err: errors.New("model exploded")}
	c := NewClassifier(det, 8, 0.5)
	if c.Classify(make([]byte, 8)) {
		t.Fatalf("Classify() = true on detector error, want false")
	}
}

func TestEnergyDetectorSeparatesLoudFromQuiet(t *testing.T) {
	det, err := NewEnergyDetector(512)
	if err != nil {
		t.Fatalf("NewEnergyDetector() error = %v, want nil", err)
	}

	quiet := make([]int16, 512)
	p, err := det.Probability(quiet)
	if err != nil {
		t.Fatalf("Probability(quiet) error = %v, want nil", err)
	}
	if p > 0.01 {
		t.Fatalf("Probability(quiet) = %v, want ~0", p)
	}

	det.Reset()
	loud := make([]int16, 512)
	for i := range loud {
		if i%2 == 0 {
			loud[i] = 20000
		} else {
			loud[i] = -20000
		}
	}
	p, err = det.Probability(loud)
	if err != nil {
		t.Fatalf("Probability(loud) error = %v, want nil", err)
	}
	if p < 0.9 {
		t.Fatalf("Probability(loud) = %v, want >= 0.9", p)
	}
}

func TestEnergyDetectorRejectsWrongWindow(t *testing.T) {
	det, err := NewEnergyDetector(512)
	if err != nil {
		t.Fatalf("NewEnergyDetector() error = %v, want nil", err)
	}
	if _, err := det.Probability(make([]int16, 256)); err == nil {
		t.Fatalf("Probability(256 samples) error = nil, want window size error")
	}
}

func TestEnergyDetectorRejectsBadWindowSize(t *testing.T) {
	if _, err := NewEnergyDetector(0); err == nil {
		t.Fatalf("NewEnergyDetector(0) error = nil, want error")
	}
}

func TestClassifyLoudPCMFrame(t *testing.T) {
	det, err := NewEnergyDetector(512)
	if err != nil {
		t.Fatalf("NewEnergyDetector() error = %v, want nil", err)
	}
	c := NewClassifier(det, 1024, 0.5)

	loud := make([]int16, 512)
	for i := range loud {
		loud[i] = 15000
	}
	if !c.Classify(audio.SamplesToBytes(loud)) {
		t.Fatalf("Classify(loud frame) = false, want true")
	}
}
