package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
	"github.com/sherwinwater/speech-to-text-service/pkg/logging"
	"github.com/sherwinwater/speech-to-text-service/pkg/metrics"
	"github.com/sherwinwater/speech-to-text-service/pkg/protocol"
	"github.com/sherwinwater/speech-to-text-service/pkg/resilience"
	"github.com/sherwinwater/speech-to-text-service/pkg/stream"
)

// Options tunes recognition dispatch across all sessions.
type Options struct {
	DefaultModelSize string
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Dispatcher runs recognition passes over session buffers and shapes the
// results into deltas. One dispatcher serves every session on an engine;
// the circuit breaker it carries is shared so a rate-limited backend gets
// a cooldown instead of per-session hammering.
type Dispatcher struct {
	engine  engine.Engine
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	opts    Options
}

func New(eng engine.Engine, m *metrics.Metrics, logger *slog.Logger, opts Options) *Dispatcher {
	if opts.DefaultModelSize == "" {
		opts.DefaultModelSize = engine.DefaultModelSize
	}
	return &Dispatcher{
		engine:  eng,
		breaker: resilience.NewCircuitBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		metrics: m,
		logger:  logging.NewComponentLogger(logger, "dispatch"),
		opts:    opts,
	}
}

// Cycle describes one dispatch attempt for a session.
type Cycle struct {
	// Force extracts whatever is unread, used at finalization.
	Force bool
	// ModelSize is the session override; empty applies the default.
	ModelSize string
}

// Process runs one readiness check and, when a window is due, one
// blocking recognition pass. Returns nil without error when nothing is
// due, the window was silent, or the recognizer produced no text.
// Recognition failures are fatal to the calling session.
func (d *Dispatcher) Process(ctx context.Context, sess *stream.Session, cyc Cycle) (*protocol.Delta, error) {
	if !sess.ShouldTranscribe(cyc.Force) {
		return nil, nil
	}
	window := sess.ExtractChunk()
	if window == nil {
		d.metrics.WindowsSuppressed.Inc()
		return nil, nil
	}

	if !d.breaker.Allow() {
		return nil, errorsx.Wrap(fmt.Errorf("recognizer cooling down after rate limits"), errorsx.ReasonEngineCircuitOpen)
	}

	size := cyc.ModelSize
	if size == "" {
		size = d.opts.DefaultModelSize
	}

	d.metrics.WindowsDispatched.Inc()
	started := time.Now()
	result, err := d.engine.Transcribe(ctx, engine.Request{
		Samples:    window,
		SampleRate: audio.SampleRate,
		ModelSize:  size,
	})
	d.metrics.RecognitionDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		d.breaker.OnError(err)
		d.metrics.RecognitionFailures.Inc()
		d.logger.Error("recognition_failed", "engine", d.engine.Name(), "error", err)
		return nil, errorsx.Wrap(err, errorsx.ReasonDispatchFailed)
	}
	d.breaker.OnSuccess()

	// History is released only after a successful pass so a failed
	// window stays available.
	sess.Trim()

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return nil, nil
	}

	d.metrics.DeltasEmitted.Inc()
	d.logger.Debug("delta_ready",
		"engine", d.engine.Name(),
		"chars", len(text),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	delta := protocol.NewDelta(text, result.Segments)
	return &delta, nil
}

// Engine exposes the backing recognizer for composition and teardown.
func (d *Dispatcher) Engine() engine.Engine { return d.engine }
