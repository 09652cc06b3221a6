package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/configutil"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
	"github.com/sherwinwater/speech-to-text-service/pkg/logging"
	"github.com/sherwinwater/speech-to-text-service/pkg/resilience"
)

type Config struct {
	APIKey string
	// BaseURL points at an alternate OpenAI-compatible endpoint.
	BaseURL string
	Model   string
	Logger  *slog.Logger
}

// Engine recognizes windows through the OpenAI transcription API.
type Engine struct {
	cfg    Config
	client *goopenai.Client
	logger *slog.Logger
}

func New(cfg Config) (*Engine, error) {
	if err := configutil.RequireString(cfg.APIKey, "engine.openai.api_key"); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = goopenai.Whisper1
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Engine{
		cfg:    cfg,
		client: goopenai.NewClientWithConfig(clientCfg),
		logger: logging.NewComponentLogger(cfg.Logger, "openai_engine"),
	}, nil
}

type settingsSchema struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// Factory builds the OpenAI backend from raw settings.
func Factory(settings map[string]any, logger *slog.Logger) (engine.Engine, error) {
	if err := configutil.ValidateSettings(settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"base_url", "model"},
	}); err != nil {
		return nil, fmt.Errorf("engine.openai.settings: %w", err)
	}
	var s settingsSchema
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, err
	}
	return New(Config{APIKey: s.APIKey, BaseURL: s.BaseURL, Model: s.Model, Logger: logger})
}

func (e *Engine) Name() string { return "openai" }

func (e *Engine) Transcribe(ctx context.Context, req engine.Request) (engine.Result, error) {
	wav := audio.EncodeWAV(req.Samples, req.SampleRate)

	resp, err := e.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    e.cfg.Model,
		FilePath: "window.wav",
		Reader:   bytes.NewReader(wav),
		Language: req.Language,
		Format:   goopenai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		if isRateLimit(err) {
			rl := resilience.RateLimitError{Backend: "openai", Message: err.Error()}
			return engine.Result{}, errorsx.Wrap(rl, errorsx.ReasonEngineRateLimit)
		}
		return engine.Result{}, errorsx.Wrap(err, errorsx.ReasonEngineTranscribe)
	}

	result := engine.Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Model:    fmt.Sprintf("openai:%s", e.cfg.Model),
	}
	if result.Language == "" {
		result.Language = req.Language
	}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, engine.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}

	e.logger.Debug("window_recognized", "chars", len(result.Text), "model", e.cfg.Model)
	return result, nil
}

func (e *Engine) Close() error { return nil }

func isRateLimit(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

var _ engine.Engine = (*Engine)(nil)
