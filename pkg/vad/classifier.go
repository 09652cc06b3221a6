package vad

import (
	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
)

// FrameClassifier decides whether one fixed-size PCM frame contains speech.
// Implementations must be safe for use from a single goroutine at a time.
type FrameClassifier interface {
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

// DefaultEnergyThreshold is the normalized RMS above which a frame counts
// as speech for the energy classifier.
const DefaultEnergyThreshold = 0.015

// EnergyClassifier labels frames by RMS energy. It is the built-in
// classifier; wire a model-backed one through the same interface.
type EnergyClassifier struct {
	Threshold float64
}

// NewEnergyClassifier builds an energy classifier, applying the default
// threshold when the given one is not positive.
func NewEnergyClassifier(threshold float64) EnergyClassifier {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return EnergyClassifier{Threshold: threshold}
}

func (c EnergyClassifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	rms := audio.RMS(audio.Float32FromPCM16(frame))
	return rms >= c.Threshold, nil
}

// NopClassifier reports every frame as non-speech. Paired with
// DisabledRatioThreshold it keeps sessions on the fixed chunk cadence
// instead of re-enabling pause triggering with a zero ratio.
type NopClassifier struct{}

func (NopClassifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	return false, nil
}
