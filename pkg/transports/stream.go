package transports

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/decode"
	"github.com/sherwinwater/speech-to-text-service/pkg/dispatch"
	"github.com/sherwinwater/speech-to-text-service/pkg/events"
	"github.com/sherwinwater/speech-to-text-service/pkg/protocol"
	"github.com/sherwinwater/speech-to-text-service/pkg/stream"
)

// FinalizeGrace is how long a finalizing session waits for the decoder to
// flush buffered output before the forced last extraction.
const FinalizeGrace = 150 * time.Millisecond

// publishTimeout bounds one best-effort event publish.
const publishTimeout = 5 * time.Second

// Stream is one live audio session: a buffer, an optional decoder
// subprocess, and serial dispatch against the shared recognizer.
type Stream struct {
	ID string

	core      Core
	transport string
	modelSize string
	session   *stream.Session
	pipeline  *decode.Pipeline
	logger    *slog.Logger
	startedAt time.Time
	torn      atomic.Bool
}

// NewStream opens a session for one connection. When the inbound format is
// not canonical PCM a decoder subprocess is started immediately; a decoder
// that cannot start fails the session before any audio is accepted.
func (c Core) NewStream(format audio.Format, modelSize, transport string) (*Stream, error) {
	s := &Stream{
		ID:        uuid.NewString(),
		core:      c,
		transport: transport,
		modelSize: modelSize,
		session:   stream.NewSession(c.Policy, c.Analyzer),
		startedAt: time.Now(),
	}
	s.logger = c.Logger.With(
		slog.String("session_id", s.ID),
		slog.String("transport", transport),
	)

	if format.NeedsConversion() {
		s.pipeline = decode.NewPipeline(decode.Config{
			Format: format,
			Binary: c.DecodeBinary,
			Sink:   s.session.Append,
			OnExit: func(err error) {
				if err != nil {
					c.Metrics.DecoderFailures.Inc()
				}
			},
			Logger: s.logger,
		})
		if err := s.pipeline.Start(); err != nil {
			return nil, err
		}
	}

	c.Metrics.ActiveSessions.Inc()
	c.Metrics.SessionsStarted.WithLabelValues(transport).Inc()
	s.logger.Info("session_created",
		slog.String("format", format.Encoding),
		slog.Int("rate", format.SampleRate),
		slog.String("model_size", modelSize),
	)
	return s, nil
}

// Ingest accepts one inbound audio payload. Canonical PCM is appended
// directly; anything else goes through the decoder. A decoder write failure
// is logged and swallowed: the session keeps running and simply hears
// silence from then on.
func (s *Stream) Ingest(data []byte) {
	if len(data) == 0 {
		return
	}
	s.core.Metrics.BytesIngested.Add(float64(len(data)))
	if s.pipeline == nil {
		s.session.Append(data)
		return
	}
	if err := s.pipeline.Feed(data); err != nil {
		s.logger.Warn("decoder_feed_failed", "error", err)
	}
}

// Process runs one readiness check and, when a window is due, one dispatch.
// A non-nil delta has already been published to the event sinks.
func (s *Stream) Process(ctx context.Context, force bool) (*protocol.Delta, error) {
	delta, err := s.core.Dispatcher.Process(ctx, s.session, dispatch.Cycle{
		Force:     force,
		ModelSize: s.modelSize,
	})
	if err != nil {
		return nil, err
	}
	if delta != nil {
		s.publish(events.NewDeltaEvent(s.ID, s.transport, s.engineName(), delta.Append, delta.Segments))
	}
	return delta, nil
}

// Finalize drains the decoder and forces one last extraction over whatever
// audio remains, ignoring the minimum-size and pause gates.
func (s *Stream) Finalize(ctx context.Context) (*protocol.Delta, error) {
	if s.pipeline != nil {
		s.pipeline.CloseInput()
		time.Sleep(FinalizeGrace)
	}
	return s.Process(ctx, true)
}

// PublishFinal records the end of the transcript on the event sinks. Called
// once the final frame has actually been sent.
func (s *Stream) PublishFinal() {
	s.publish(events.NewFinalEvent(s.ID, s.transport, s.engineName()))
}

// Teardown releases the session exactly once. Safe whether or not a decoder
// was started, and safe to call from any exit path.
func (s *Stream) Teardown() {
	if !s.torn.CompareAndSwap(false, true) {
		return
	}
	if s.pipeline != nil {
		s.pipeline.Stop()
	}
	duration := time.Since(s.startedAt)
	s.core.Metrics.ActiveSessions.Dec()
	s.core.Metrics.SessionsClosed.Inc()
	s.core.Metrics.SessionDuration.Observe(duration.Seconds())
	s.logger.Info("session_closed", slog.Int64("duration_ms", duration.Milliseconds()))
}

// BufferedBytes reports how much canonical PCM the session has accumulated.
func (s *Stream) BufferedBytes() int {
	return s.session.BufferedBytes()
}

func (s *Stream) engineName() string {
	return s.core.Dispatcher.Engine().Name()
}

func (s *Stream) publish(ev events.TranscriptEvent) {
	if s.core.Publisher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.core.Publisher.Publish(ctx, ev); err != nil {
			s.core.Metrics.EventPublishFailures.Inc()
			s.logger.Warn("event_publish_failed", "error", err)
			return
		}
		s.core.Metrics.EventsPublished.Inc()
	}()
}
