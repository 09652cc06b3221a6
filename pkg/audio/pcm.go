package audio

import (
	"encoding/binary"
	"math"
)

// Float32FromPCM16 converts little-endian 16-bit PCM bytes to normalized
// float32 samples in [-1, 1). A trailing odd byte is dropped.
func Float32FromPCM16(pcm []byte) []float32 {
	n := len(pcm) / SampleWidth
	if n == 0 {
		return nil
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*SampleWidth:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// RMS returns the root mean square of normalized samples.
// Empty input yields 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
