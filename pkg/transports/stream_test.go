package transports

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/dispatch"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine/fake"
	"github.com/sherwinwater/speech-to-text-service/pkg/events"
	"github.com/sherwinwater/speech-to-text-service/pkg/metrics"
	"github.com/sherwinwater/speech-to-text-service/pkg/stream"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []events.TranscriptEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.TranscriptEvent) error {
	p.mu.Lock()
	p.published = append(p.published, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) snapshot() []events.TranscriptEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.TranscriptEvent, len(p.published))
	copy(out, p.published)
	return out
}

func newTestCore(t *testing.T, pub events.Publisher) (Core, *metrics.Metrics) {
	t.Helper()
	if pub == nil {
		pub = events.Nop{}
	}
	m := metrics.New(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Core{
		Dispatcher: dispatch.New(fake.New(fake.Config{}), m, logger, dispatch.Options{DefaultModelSize: "small"}),
		Policy:     stream.DefaultPolicy(),
		Metrics:    m,
		Publisher:  pub,
		Logger:     logger,
	}, m
}

func loudSecond() []byte {
	buf := make([]byte, audio.BytesPerSecond)
	for i := 0; i < len(buf); i += 2 {
		binary.LittleEndian.PutUint16(buf[i:], uint16(int16(8192)))
	}
	return buf
}

func TestStreamDirectModeCountsAndBuffers(t *testing.T) {
	core, m := newTestCore(t, nil)

	s, err := core.NewStream(audio.NewFormat("s16le", 16000), "small", "ws")
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	defer s.Teardown()

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Fatalf("expected 1 active session, got %v", got)
	}

	pcm := loudSecond()
	s.Ingest(pcm)
	if s.BufferedBytes() != len(pcm) {
		t.Fatalf("expected %d buffered bytes, got %d", len(pcm), s.BufferedBytes())
	}
	if got := testutil.ToFloat64(m.BytesIngested); got != float64(len(pcm)) {
		t.Fatalf("expected %d ingested bytes, got %v", len(pcm), got)
	}
}

func TestStreamTeardownIsIdempotent(t *testing.T) {
	core, m := newTestCore(t, nil)

	s, err := core.NewStream(audio.NewFormat("s16le", 16000), "small", "ws")
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	s.Teardown()
	s.Teardown()

	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Fatalf("expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsClosed); got != 1 {
		t.Fatalf("teardown must count once, got %v", got)
	}
}

func TestStreamPublishesDeltaAndFinalEvents(t *testing.T) {
	pub := &recordingPublisher{}
	core, _ := newTestCore(t, pub)

	s, err := core.NewStream(audio.NewFormat("s16le", 16000), "small", "ws")
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	defer s.Teardown()

	s.Ingest(loudSecond())
	delta, err := s.Process(context.Background(), true)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if delta == nil {
		t.Fatalf("expected forced delta")
	}
	s.PublishFinal()

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := pub.snapshot()
		var haveDelta, haveFinal bool
		for _, ev := range snap {
			switch ev.Type {
			case events.TypeDelta:
				haveDelta = ev.SessionID == s.ID && ev.Text == "hello world"
			case events.TypeFinal:
				haveFinal = ev.SessionID == s.ID
			}
		}
		if haveDelta && haveFinal {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("missing events, saw %+v", snap)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
