package engine

import (
	"context"
	"fmt"
	"strings"
)

// DefaultModelSize is used whenever a request or config leaves the size blank.
const DefaultModelSize = "small"

// allowedModelSizes are the recognizer model sizes accepted over the wire.
var allowedModelSizes = map[string]struct{}{
	"tiny":   {},
	"base":   {},
	"small":  {},
	"medium": {},
}

// NormalizeModelSize lowercases a requested model size and rejects sizes
// outside the allow-list. Blank stays blank so config defaults apply.
func NormalizeModelSize(size string) (string, error) {
	size = strings.ToLower(strings.TrimSpace(size))
	if size == "" {
		return "", nil
	}
	if _, ok := allowedModelSizes[size]; !ok {
		return "", fmt.Errorf("invalid model size: %s", size)
	}
	return size, nil
}

// Request carries one recognition window or normalized file.
type Request struct {
	// Samples is normalized mono PCM at SampleRate.
	Samples        []float32
	SampleRate     int
	Language       string
	ModelSize      string
	WordTimestamps bool
}

// Segment is a timed span of recognized text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the recognizer output for one request.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
	Model    string    `json:"model"`
}

// Engine is the contract for a speech recognizer backend. Transcribe
// blocks until the window is recognized or ctx is done; implementations
// must tolerate concurrent calls from independent sessions.
type Engine interface {
	// Name returns the backend name for logging and metrics.
	Name() string
	// Transcribe recognizes one audio window.
	Transcribe(ctx context.Context, req Request) (Result, error)
	// Close releases backend resources.
	Close() error
}
