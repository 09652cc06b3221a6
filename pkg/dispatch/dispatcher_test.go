package dispatch

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
	"github.com/sherwinwater/speech-to-text-service/pkg/metrics"
	"github.com/sherwinwater/speech-to-text-service/pkg/resilience"
	"github.com/sherwinwater/speech-to-text-service/pkg/stream"
)

type stubEngine struct {
	calls   int
	lastReq engine.Request
	result  engine.Result
	err     error
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Transcribe(ctx context.Context, req engine.Request) (engine.Result, error) {
	s.calls++
	s.lastReq = req
	return s.result, s.err
}

func (s *stubEngine) Close() error { return nil }

func loudSession(ms int) *stream.Session {
	sess := stream.NewSession(stream.DefaultPolicy(), nil)
	data := make([]byte, audio.BytesPerSecond/1000*ms)
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], 8192)
	}
	sess.Append(data)
	return sess
}

func newTestDispatcher(eng engine.Engine, opts Options) *Dispatcher {
	return New(eng, metrics.New(prometheus.NewRegistry()), nil, opts)
}

func TestProcessEmitsDelta(t *testing.T) {
	eng := &stubEngine{result: engine.Result{
		Text:     " recognized text ",
		Segments: []engine.Segment{{Start: 0, End: 2.5, Text: "recognized text"}},
	}}
	d := newTestDispatcher(eng, Options{})
	sess := loudSession(2500)

	delta, err := d.Process(context.Background(), sess, Cycle{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta == nil {
		t.Fatal("expected a delta")
	}
	if delta.Append != "recognized text" {
		t.Fatalf("expected trimmed text, got %q", delta.Append)
	}
	if len(delta.Segments) != 1 {
		t.Fatalf("expected segments forwarded, got %+v", delta.Segments)
	}
	if eng.lastReq.SampleRate != audio.SampleRate {
		t.Fatalf("expected canonical rate, got %d", eng.lastReq.SampleRate)
	}
	if eng.lastReq.ModelSize != engine.DefaultModelSize {
		t.Fatalf("expected default model size, got %q", eng.lastReq.ModelSize)
	}
}

func TestProcessSkipsWhenNotReady(t *testing.T) {
	eng := &stubEngine{}
	d := newTestDispatcher(eng, Options{})
	sess := loudSession(500)

	delta, err := d.Process(context.Background(), sess, Cycle{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta != nil {
		t.Fatalf("expected no delta below minimum chunk, got %+v", delta)
	}
	if eng.calls != 0 {
		t.Fatalf("expected engine untouched, got %d calls", eng.calls)
	}
}

func TestProcessSuppressesSilentWindow(t *testing.T) {
	eng := &stubEngine{}
	d := newTestDispatcher(eng, Options{})

	sess := stream.NewSession(stream.DefaultPolicy(), nil)
	sess.Append(make([]byte, audio.BytesPerSecond*3))

	delta, err := d.Process(context.Background(), sess, Cycle{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta != nil {
		t.Fatal("expected silence suppressed")
	}
	if eng.calls != 0 {
		t.Fatalf("expected engine untouched for silence, got %d calls", eng.calls)
	}
}

func TestProcessEmptyTextYieldsNoDelta(t *testing.T) {
	eng := &stubEngine{result: engine.Result{Text: "   "}}
	d := newTestDispatcher(eng, Options{})
	sess := loudSession(2500)

	delta, err := d.Process(context.Background(), sess, Cycle{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta != nil {
		t.Fatalf("expected no delta for whitespace text, got %+v", delta)
	}
	if eng.calls != 1 {
		t.Fatalf("expected one recognition call, got %d", eng.calls)
	}
}

func TestProcessModelSizeOverride(t *testing.T) {
	eng := &stubEngine{result: engine.Result{Text: "ok"}}
	d := newTestDispatcher(eng, Options{DefaultModelSize: "small"})
	sess := loudSession(2500)

	if _, err := d.Process(context.Background(), sess, Cycle{ModelSize: "base"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eng.lastReq.ModelSize != "base" {
		t.Fatalf("expected override, got %q", eng.lastReq.ModelSize)
	}
}

func TestProcessFailureIsFatal(t *testing.T) {
	eng := &stubEngine{err: errors.New("backend down")}
	d := newTestDispatcher(eng, Options{})
	sess := loudSession(2500)

	_, err := d.Process(context.Background(), sess, Cycle{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonDispatchFailed) {
		t.Fatalf("expected dispatch_failed reason, got %v", errorsx.Reason(err))
	}
}

func TestProcessBreakerOpensAfterRateLimits(t *testing.T) {
	eng := &stubEngine{err: resilience.RateLimitError{Backend: "stub"}}
	d := newTestDispatcher(eng, Options{BreakerThreshold: 2, BreakerCooldown: time.Minute})

	for i := 0; i < 2; i++ {
		sess := loudSession(2500)
		if _, err := d.Process(context.Background(), sess, Cycle{}); err == nil {
			t.Fatal("expected rate limit error")
		}
	}

	sess := loudSession(2500)
	calls := eng.calls
	_, err := d.Process(context.Background(), sess, Cycle{})
	if err == nil {
		t.Fatal("expected circuit open error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonEngineCircuitOpen) {
		t.Fatalf("expected circuit open reason, got %v", errorsx.Reason(err))
	}
	if eng.calls != calls {
		t.Fatalf("expected engine untouched while open, got %d extra calls", eng.calls-calls)
	}
}

func TestProcessForcedFinalWindow(t *testing.T) {
	eng := &stubEngine{result: engine.Result{Text: "tail"}}
	d := newTestDispatcher(eng, Options{})
	sess := loudSession(600)

	delta, err := d.Process(context.Background(), sess, Cycle{Force: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delta == nil || delta.Append != "tail" {
		t.Fatalf("expected forced tail delta, got %+v", delta)
	}
}
