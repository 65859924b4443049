package vad

// Detector scores one fixed-size window of audio samples with a speech
// probability in [0, 1]. Implementations are injected into each session
// rather than shared through package state, so sessions never depend on
// load-time ordering. A Detector may keep internal smoothing state and is
// called from a single goroutine per session.
type Detector interface {
	Probability(samples []int16) (float64, error)
}
