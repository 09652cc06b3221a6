// Generates a WAV of tone at the service sample rate, optionally
// alternating with silence, for poking the stream and transcribe
// endpoints without a microphone.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
)

func main() {
	out := flag.String("out", "tone.wav", "")
	seconds := flag.Float64("seconds", 5.0, "")
	freq := flag.Float64("freq", 440.0, "")
	gap := flag.Float64("gap", 0.0, "tone/silence alternation period in seconds; 0 keeps a continuous tone")
	flag.Parse()

	freqHz := *freq
	gapSec := *gap
	total := int(*seconds * float64(audio.SampleRate))
	samples := make([]float32, total)
	for i := range samples {
		t := float64(i) / float64(audio.SampleRate)
		if gapSec > 0 && int(t/gapSec)%2 == 1 {
			continue
		}
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*freqHz*t))
	}

	wav := audio.EncodeWAV(samples, audio.SampleRate)
	if err := os.WriteFile(*out, wav, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%.1fs)\n", *out, *seconds)
}
