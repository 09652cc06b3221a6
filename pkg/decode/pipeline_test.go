package decode

import (
	"encoding/binary"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
)

func TestArgsContainer(t *testing.T) {
	args, err := Args(audio.NewFormat("webm", 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-f webm -i pipe:0") {
		t.Fatalf("expected webm demuxer args, got %q", joined)
	}
	if !strings.HasSuffix(joined, "-ac 1 -ar 16000 -f s16le pipe:1") {
		t.Fatalf("expected canonical output args, got %q", joined)
	}
}

func TestArgsM4AUsesMP4Demuxer(t *testing.T) {
	args, err := Args(audio.NewFormat("m4a", 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-f mp4 -i pipe:0") {
		t.Fatalf("expected mp4 demuxer for m4a, got %q", joined)
	}
}

func TestArgsRawPCM(t *testing.T) {
	args, err := Args(audio.Format{Encoding: "s16le", SampleRate: 8000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-f s16le -ar 8000 -ac 1 -i pipe:0") {
		t.Fatalf("expected raw input args with source rate, got %q", joined)
	}
}

func TestArgsRawRequiresRate(t *testing.T) {
	if _, err := Args(audio.Format{Encoding: "f32le"}); err == nil {
		t.Fatal("expected error for raw PCM without a sample rate")
	}
}

func TestArgsUnsupportedFormat(t *testing.T) {
	if _, err := Args(audio.NewFormat("aiff", 0)); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestStopBeforeStart(t *testing.T) {
	p := NewPipeline(Config{Format: audio.NewFormat("webm", 0)})
	p.Stop()
	p.Stop()
}

func TestCloseInputBeforeStart(t *testing.T) {
	p := NewPipeline(Config{Format: audio.NewFormat("webm", 0)})
	p.CloseInput()
}

func TestFeedAfterStopIsDropped(t *testing.T) {
	// A nonexistent binary would surface as a start error if Feed tried
	// to launch the decoder after Stop.
	p := NewPipeline(Config{
		Format: audio.NewFormat("webm", 0),
		Binary: "/nonexistent/ffmpeg",
	})
	p.Stop()
	if err := p.Feed([]byte{1, 2, 3}); err != nil {
		t.Fatalf("expected post-stop feed to be dropped, got %v", err)
	}
}

func TestPipelineDecodesRawPCM(t *testing.T) {
	if _, err := exec.LookPath(DefaultBinary); err != nil {
		t.Skip("ffmpeg not installed")
	}

	var mu sync.Mutex
	var decoded []byte
	exited := make(chan error, 1)

	p := NewPipeline(Config{
		Format: audio.Format{Encoding: "s16le", SampleRate: 8000},
		Sink: func(pcm []byte) {
			mu.Lock()
			decoded = append(decoded, pcm...)
			mu.Unlock()
		},
		OnExit: func(err error) { exited <- err },
	})

	// One second of a quiet tone at 8kHz.
	in := make([]byte, 8000*2)
	for i := 0; i < len(in); i += 2 {
		binary.LittleEndian.PutUint16(in[i:], 1000)
	}
	if err := p.Feed(in); err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	p.CloseInput()

	select {
	case err := <-exited:
		if err != nil {
			t.Fatalf("decoder exited abnormally: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("decoder did not drain in time")
	}

	mu.Lock()
	total := len(decoded)
	mu.Unlock()
	if total == 0 {
		t.Fatal("expected resampled PCM output")
	}
	if total%audio.SampleWidth != 0 {
		t.Fatalf("expected whole samples, got %d bytes", total)
	}
	p.Stop()
}
