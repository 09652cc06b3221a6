package whisperd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/configutil"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
	"github.com/sherwinwater/speech-to-text-service/pkg/logging"
	"github.com/sherwinwater/speech-to-text-service/pkg/resilience"
)

// Config points the engine at a whisper daemon speaking the
// OpenAI-compatible transcription API.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	Backoff       time.Duration
	MaxConcurrent int
	Logger        *slog.Logger
}

// Engine recognizes audio by uploading WAV windows to a faster-whisper
// daemon over HTTP.
type Engine struct {
	cfg        Config
	httpClient *http.Client
	semaphore  chan struct{}
	retry      resilience.RetryPolicy
	logger     *slog.Logger
}

func New(cfg Config) (*Engine, error) {
	if err := configutil.RequireString(cfg.BaseURL, "engine.whisperd.base_url"); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return &Engine{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		retry:     resilience.NewRetryPolicy(cfg.MaxRetries, cfg.Backoff),
		logger:    logging.NewComponentLogger(cfg.Logger, "whisperd_engine"),
	}, nil
}

type settingsSchema struct {
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	TimeoutMS     int    `mapstructure:"timeout_ms"`
	MaxRetries    int    `mapstructure:"max_retries"`
	BackoffMS     int    `mapstructure:"backoff_ms"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
}

// Factory builds the whisperd backend from raw settings.
func Factory(settings map[string]any, logger *slog.Logger) (engine.Engine, error) {
	if err := configutil.ValidateSettings(settings, configutil.Schema{
		Required: []string{"base_url"},
		Optional: []string{"api_key", "timeout_ms", "max_retries", "backoff_ms", "max_concurrent"},
	}); err != nil {
		return nil, fmt.Errorf("engine.whisperd.settings: %w", err)
	}
	var s settingsSchema
	if err := configutil.DecodeSettings(settings, &s); err != nil {
		return nil, err
	}
	return New(Config{
		BaseURL:       s.BaseURL,
		APIKey:        s.APIKey,
		Timeout:       time.Duration(s.TimeoutMS) * time.Millisecond,
		MaxRetries:    s.MaxRetries,
		Backoff:       time.Duration(s.BackoffMS) * time.Millisecond,
		MaxConcurrent: s.MaxConcurrent,
		Logger:        logger,
	})
}

func (e *Engine) Name() string { return "whisperd" }

// verboseResponse mirrors the daemon's verbose_json transcription shape.
type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (e *Engine) Transcribe(ctx context.Context, req engine.Request) (engine.Result, error) {
	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		return engine.Result{}, ctx.Err()
	}

	size := req.ModelSize
	if size == "" {
		size = engine.DefaultModelSize
	}
	wav := audio.EncodeWAV(req.Samples, req.SampleRate)

	var parsed verboseResponse
	started := time.Now()
	err := e.retry.Do(ctx, func() error {
		return e.post(ctx, wav, size, req, &parsed)
	})
	if err != nil {
		if resilience.IsRateLimit(err) {
			return engine.Result{}, errorsx.Wrap(err, errorsx.ReasonEngineRateLimit)
		}
		return engine.Result{}, errorsx.Wrap(err, errorsx.ReasonEngineTranscribe)
	}

	e.logger.Debug("window_recognized",
		"chars", len(parsed.Text),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)

	result := engine.Result{
		Text:     parsed.Text,
		Language: parsed.Language,
		Model:    fmt.Sprintf("faster-whisper:%s", size),
	}
	for _, seg := range parsed.Segments {
		result.Segments = append(result.Segments, engine.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	return result, nil
}

func (e *Engine) post(ctx context.Context, wav []byte, size string, req engine.Request, out *verboseResponse) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fileWriter, err := writer.CreateFormFile("file", "window.wav")
	if err != nil {
		return resilience.Permanent(err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return resilience.Permanent(err)
	}

	fields := map[string]string{
		"model":           size,
		"response_format": "verbose_json",
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}
	if req.WordTimestamps {
		fields["timestamp_granularities[]"] = "word"
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return resilience.Permanent(err)
		}
	}
	if err := writer.Close(); err != nil {
		return resilience.Permanent(err)
	}

	url := e.cfg.BaseURL + "/v1/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return resilience.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resilience.RateLimitError{Backend: "whisperd", Message: string(respBody)}
	case resp.StatusCode >= 500:
		return fmt.Errorf("daemon error %d: %s", resp.StatusCode, respBody)
	case resp.StatusCode >= 300:
		return resilience.Permanent(fmt.Errorf("daemon rejected request %d: %s", resp.StatusCode, respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return resilience.Permanent(fmt.Errorf("malformed daemon response: %w", err))
	}
	return nil
}

func (e *Engine) Close() error {
	e.httpClient.CloseIdleConnections()
	return nil
}

var _ engine.Engine = (*Engine)(nil)
