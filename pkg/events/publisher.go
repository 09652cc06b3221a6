package events

import (
	"context"
	"errors"
	"time"

	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
	"github.com/sherwinwater/speech-to-text-service/pkg/redact"
)

// Event types mirrored from the streaming protocol.
const (
	TypeDelta = "delta"
	TypeFinal = "final"
)

// TranscriptEvent records one recognition outcome for downstream
// consumers. Text and segments pass through PII redaction when enabled.
type TranscriptEvent struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	Transport string           `json:"transport"`
	Engine    string           `json:"engine"`
	Text      string           `json:"text,omitempty"`
	Segments  []engine.Segment `json:"segments,omitempty"`
	Time      time.Time        `json:"time"`
}

// NewDeltaEvent shapes a delta for publication, applying redaction.
func NewDeltaEvent(sessionID, transport, engineName, text string, segments []engine.Segment) TranscriptEvent {
	redacted := make([]engine.Segment, len(segments))
	for i, seg := range segments {
		seg.Text = redact.Text(seg.Text)
		redacted[i] = seg
	}
	return TranscriptEvent{
		Type:      TypeDelta,
		SessionID: sessionID,
		Transport: transport,
		Engine:    engineName,
		Text:      redact.Text(text),
		Segments:  redacted,
		Time:      time.Now().UTC(),
	}
}

// NewFinalEvent marks the end of a session's transcript.
func NewFinalEvent(sessionID, transport, engineName string) TranscriptEvent {
	return TranscriptEvent{
		Type:      TypeFinal,
		SessionID: sessionID,
		Transport: transport,
		Engine:    engineName,
		Time:      time.Now().UTC(),
	}
}

// Publisher delivers transcript events to a sink. Delivery is
// best-effort: callers log and count failures but never fail a session
// over them.
type Publisher interface {
	Publish(ctx context.Context, event TranscriptEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, TranscriptEvent) error { return nil }
func (Nop) Close() error                                   { return nil }

// Multi fans one event out to several sinks. Every sink is attempted;
// errors are joined.
type Multi struct {
	sinks []Publisher
}

func NewMulti(sinks ...Publisher) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Publish(ctx context.Context, event TranscriptEvent) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
