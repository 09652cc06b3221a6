package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	listenapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/configutil"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
	"github.com/sherwinwater/speech-to-text-service/pkg/logging"
)

// DefaultModel is the Deepgram model used when none is configured.
const DefaultModel = "nova-2"

type Config struct {
	APIKey string
	Model  string
	Logger *slog.Logger
}

// Engine recognizes windows through Deepgram's prerecorded REST API.
// Windows are uploaded as WAV; utterances come back as segments.
type Engine struct {
	cfg    Config
	api    *listenapi.Client
	logger *slog.Logger
}

func New(cfg Config) (*Engine, error) {
	if err := configutil.RequireString(cfg.APIKey, "engine.deepgram.api_key"); err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	restClient := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Engine{
		cfg:    cfg,
		api:    listenapi.New(restClient),
		logger: logging.NewComponentLogger(cfg.Logger, "deepgram_engine"),
	}, nil
}

type settingsSchema struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// Factory builds the Deepgram backend from raw settings.
func Factory(settings map[string]any, logger *slog.Logger) (engine.Engine, error) {
	if err := configutil.ValidateSettings(settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: []string{"model"},
	}); err != nil {
		return nil, fmt.Errorf("engine.deepgram.settings: %w", err)
	}
	var s settingsSchema
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, err
	}
	return New(Config{APIKey: s.APIKey, Model: s.Model, Logger: logger})
}

func (e *Engine) Name() string { return "deepgram" }

func (e *Engine) Transcribe(ctx context.Context, req engine.Request) (engine.Result, error) {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       e.cfg.Model,
		SmartFormat: true,
		Punctuate:   true,
		Utterances:  true,
	}
	if req.Language != "" {
		options.Language = req.Language
	} else {
		options.DetectLanguage = true
	}

	wav := audio.EncodeWAV(req.Samples, req.SampleRate)
	res, err := e.api.FromStream(ctx, bytes.NewReader(wav), options)
	if err != nil {
		return engine.Result{}, errorsx.Wrap(err, errorsx.ReasonEngineTranscribe)
	}

	result := engine.Result{
		Language: req.Language,
		Model:    fmt.Sprintf("deepgram:%s", e.cfg.Model),
	}
	if len(res.Results.Channels) == 0 {
		return result, nil
	}
	channel := res.Results.Channels[0]
	if result.Language == "" {
		result.Language = channel.DetectedLanguage
	}
	if len(channel.Alternatives) > 0 {
		result.Text = channel.Alternatives[0].Transcript
	}

	for _, utt := range res.Results.Utterances {
		result.Segments = append(result.Segments, engine.Segment{
			Start: utt.Start,
			End:   utt.End,
			Text:  utt.Transcript,
		})
	}
	if len(result.Segments) == 0 && result.Text != "" {
		result.Segments = []engine.Segment{{
			Start: 0,
			End:   res.Metadata.Duration,
			Text:  result.Text,
		}}
	}

	e.logger.Debug("window_recognized", "chars", len(result.Text), "model", e.cfg.Model)
	return result, nil
}

func (e *Engine) Close() error { return nil }

var _ engine.Engine = (*Engine)(nil)
