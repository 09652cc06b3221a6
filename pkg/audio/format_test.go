package audio

import (
	"math"
	"strings"
	"testing"
)

func TestNormalizeEncodingAliases(t *testing.T) {
	if got := NormalizeEncoding(" MP4 "); got != "m4a" {
		t.Fatalf("expected mp4 alias to resolve to m4a, got %q", got)
	}
	if got := NormalizeEncoding("WebM"); got != "webm" {
		t.Fatalf("expected lowercase webm, got %q", got)
	}
}

func TestValidateEncoding(t *testing.T) {
	normalized, err := ValidateEncoding("FLAC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if normalized != "flac" {
		t.Fatalf("expected flac, got %q", normalized)
	}

	if _, err := ValidateEncoding("aiff"); err == nil {
		t.Fatal("expected error for unsupported format")
	} else if !strings.Contains(err.Error(), "supported formats") {
		t.Fatalf("expected supported list in error, got %v", err)
	}
}

func TestNeedsConversion(t *testing.T) {
	if NewFormat("s16le", 16000).NeedsConversion() {
		t.Fatal("canonical raw PCM must not need conversion")
	}
	if !NewFormat("s16le", 8000).NeedsConversion() {
		t.Fatal("raw PCM at a foreign rate needs resampling")
	}
	if !NewFormat("webm", 16000).NeedsConversion() {
		t.Fatal("containers always need decoding")
	}
	if !NewFormat("f32le", 16000).NeedsConversion() {
		t.Fatal("f32le needs sample format conversion")
	}
}

func TestNewFormatDefaultsRate(t *testing.T) {
	f := NewFormat("webm", 0)
	if f.SampleRate != SampleRate {
		t.Fatalf("expected default rate %d, got %d", SampleRate, f.SampleRate)
	}
}

func TestFloat32FromPCM16(t *testing.T) {
	// 0x0000, 0x7FFF (max positive), 0x8000 (min negative).
	pcm := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	samples := Float32FromPCM16(pcm)
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	if samples[0] != 0 {
		t.Fatalf("expected silence sample 0, got %f", samples[0])
	}
	if math.Abs(float64(samples[1])-32767.0/32768.0) > 1e-6 {
		t.Fatalf("unexpected max sample %f", samples[1])
	}
	if samples[2] != -1.0 {
		t.Fatalf("expected min sample -1, got %f", samples[2])
	}
}

func TestFloat32FromPCM16DropsOddByte(t *testing.T) {
	samples := Float32FromPCM16([]byte{0x01, 0x00, 0x7F})
	if len(samples) != 1 {
		t.Fatalf("expected trailing odd byte dropped, got %d samples", len(samples))
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("expected 0 for empty input, got %f", got)
	}
	samples := []float32{0.5, -0.5, 0.5, -0.5}
	if got := RMS(samples); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected RMS 0.5, got %f", got)
	}
}
