package events

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// JSONL appends one JSON line per transcript event, suitable for a
// local audit trail or replay into a batch pipeline.
type JSONL struct {
	logger *slog.Logger
	closer io.Closer
}

var _ Publisher = (*JSONL)(nil)

func NewJSONL(w io.Writer) *JSONL {
	if w == nil {
		w = io.Discard
	}
	return &JSONL{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

// NewJSONLFile opens (or creates) path in append mode.
func NewJSONLFile(path string) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	sink := NewJSONL(f)
	sink.closer = f
	return sink, nil
}

func (j *JSONL) Publish(ctx context.Context, event TranscriptEvent) error {
	attrs := []slog.Attr{
		slog.String("type", event.Type),
		slog.String("session_id", event.SessionID),
		slog.String("transport", event.Transport),
		slog.String("engine", event.Engine),
		slog.Time("event_time", event.Time),
	}
	if event.Text != "" {
		attrs = append(attrs, slog.String("text", event.Text))
	}
	if len(event.Segments) > 0 {
		attrs = append(attrs, slog.Any("segments", event.Segments))
	}
	j.logger.LogAttrs(ctx, slog.LevelInfo, "transcript", attrs...)
	return nil
}

func (j *JSONL) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
