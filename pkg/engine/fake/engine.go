package fake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sherwinwater/speech-to-text-service/pkg/configutil"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
)

// Config tunes the canned recognizer used in tests and smoke setups.
type Config struct {
	Transcript string
	Language   string
	// Delay simulates recognition latency.
	Delay time.Duration
}

// Engine returns a fixed transcript for every window, so protocol and
// buffering behavior can be exercised without model downloads.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	if cfg.Transcript == "" {
		cfg.Transcript = "hello world"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Engine{cfg: cfg}
}

type settingsSchema struct {
	Transcript string `mapstructure:"transcript"`
	Language   string `mapstructure:"language"`
	DelayMS    int    `mapstructure:"delay_ms"`
}

// Factory builds the fake backend from raw settings.
func Factory(settings map[string]any, _ *slog.Logger) (engine.Engine, error) {
	if err := configutil.ValidateSettings(settings, configutil.Schema{
		Optional: []string{"transcript", "language", "delay_ms"},
	}); err != nil {
		return nil, fmt.Errorf("engine.fake.settings: %w", err)
	}
	var s settingsSchema
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, err
	}
	return New(Config{
		Transcript: s.Transcript,
		Language:   s.Language,
		Delay:      time.Duration(s.DelayMS) * time.Millisecond,
	}), nil
}

func (e *Engine) Name() string { return "fake" }

func (e *Engine) Transcribe(ctx context.Context, req engine.Request) (engine.Result, error) {
	if e.cfg.Delay > 0 {
		select {
		case <-time.After(e.cfg.Delay):
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
	}

	language := req.Language
	if language == "" {
		language = e.cfg.Language
	}
	size := req.ModelSize
	if size == "" {
		size = engine.DefaultModelSize
	}
	return engine.Result{
		Text:     e.cfg.Transcript,
		Language: language,
		Segments: []engine.Segment{{Start: 0.0, End: 1.0, Text: e.cfg.Transcript}},
		Model:    fmt.Sprintf("fake:%s", size),
	}, nil
}

func (e *Engine) Close() error { return nil }

var _ engine.Engine = (*Engine)(nil)
