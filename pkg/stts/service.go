package stts

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/dispatch"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine/deepgram"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine/fake"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine/openai"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine/whisperd"
	"github.com/sherwinwater/speech-to-text-service/pkg/events"
	"github.com/sherwinwater/speech-to-text-service/pkg/httpapi"
	"github.com/sherwinwater/speech-to-text-service/pkg/logging"
	"github.com/sherwinwater/speech-to-text-service/pkg/metrics"
	"github.com/sherwinwater/speech-to-text-service/pkg/redact"
	"github.com/sherwinwater/speech-to-text-service/pkg/runner"
	"github.com/sherwinwater/speech-to-text-service/pkg/stream"
	"github.com/sherwinwater/speech-to-text-service/pkg/transports"
	"github.com/sherwinwater/speech-to-text-service/pkg/transports/twilio"
	"github.com/sherwinwater/speech-to-text-service/pkg/transports/ws"
	"github.com/sherwinwater/speech-to-text-service/pkg/vad"
)

// Service is the assembled recognizer: one engine, the transports that
// feed it, and the HTTP server they all hang off.
type Service struct {
	cfg       Config
	logger    *slog.Logger
	engine    engine.Engine
	publisher events.Publisher
	handlers  []transports.Handler
	mux       *http.ServeMux
	server    *http.Server
	runner    *runner.LifecycleRunner
}

// DefaultRegistry returns a registry with every built-in recognition
// backend registered.
func DefaultRegistry() *engine.Registry {
	reg := engine.NewRegistry()
	reg.Register("fake", fake.Factory)
	reg.Register("whisperd", whisperd.Factory)
	reg.Register("deepgram", deepgram.Factory)
	reg.Register("openai", openai.Factory)
	return reg
}

func New(cfg Config) (*Service, error) {
	return NewWithRegistry(cfg, DefaultRegistry())
}

// NewWithRegistry wires the service from config. Passing a registry lets
// callers add custom recognition backends before the provider lookup.
func NewWithRegistry(cfg Config, registry *engine.Registry) (*Service, error) {
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	logger.Info("stts_init",
		"environment", cfg.Environment,
		"engine", cfg.Engine.Provider,
		"twilio", cfg.Twilio.Enabled,
		"kafka", cfg.Events.Kafka.Enabled,
	)

	eng, err := registry.Build(cfg.Engine.Provider, cfg.Engine.Settings, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := buildPublisher(cfg.Events, logger)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	dispatcher := dispatch.New(eng, m, logger, dispatch.Options{
		DefaultModelSize: cfg.Stream.DefaultModelSize,
		BreakerThreshold: cfg.Engine.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Engine.BreakerCooldownMS) * time.Millisecond,
	})

	core := transports.Core{
		Dispatcher:   dispatcher,
		Policy:       chunkPolicy(cfg),
		Analyzer:     buildAnalyzer(cfg.VAD),
		Metrics:      m,
		Publisher:    publisher,
		Logger:       logger,
		DecodeBinary: cfg.Stream.DecodeBinary,
	}

	handlers := []transports.Handler{
		ws.New(ws.Config{
			Path:           cfg.Server.StreamPath,
			AllowAnyOrigin: cfg.Server.AllowAnyOrigin,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, core),
	}
	if cfg.Twilio.Enabled {
		handlers = append(handlers, twilio.New(twilio.Config{
			PublicURL:      cfg.Twilio.PublicURL,
			AuthToken:      cfg.Twilio.AuthToken,
			VoicePath:      cfg.Twilio.VoicePath,
			StreamPath:     cfg.Twilio.StreamPath,
			VoiceGreeting:  cfg.Twilio.VoiceGreeting,
			AllowAnyOrigin: cfg.Server.AllowAnyOrigin,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, core))
	}

	mux := http.NewServeMux()
	for _, handler := range handlers {
		handler.Register(mux)
	}

	api := httpapi.New(httpapi.Config{
		MaxFileMB:        cfg.Oneshot.MaxFileMB,
		MaxDurationSec:   cfg.Oneshot.MaxDurationSec,
		DownloadTimeout:  time.Duration(cfg.Oneshot.DownloadTimeoutMS) * time.Millisecond,
		DefaultModelSize: cfg.Stream.DefaultModelSize,
	}, eng, m, logger)
	api.Register(mux)

	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	svc := &Service{
		cfg:       cfg,
		logger:    logger,
		engine:    eng,
		publisher: publisher,
		handlers:  handlers,
		mux:       mux,
	}
	svc.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	drainTimeout := time.Duration(cfg.Server.DrainTimeoutMS) * time.Millisecond
	svc.runner = runner.NewLifecycleRunner(
		runner.DrainerFunc(func() error { return svc.drain(drainTimeout) }),
		runner.Hooks{OnStart: svc.serve, OnStop: svc.cleanup},
		drainTimeout,
	)

	return svc, nil
}

// Run serves until ctx is cancelled or Stop is called, then drains.
func (s *Service) Run(ctx context.Context) error {
	return s.runner.Run(ctx)
}

func (s *Service) Stop() error {
	return s.runner.Stop()
}

// Handler exposes the routed mux so the service can be embedded in an
// existing server or exercised with httptest.
func (s *Service) Handler() http.Handler { return s.mux }

func (s *Service) Engine() engine.Engine { return s.engine }

func (s *Service) Config() Config { return s.cfg }

func (s *Service) serve() {
	s.logger.Info("server_listening",
		"addr", s.server.Addr,
		"engine", s.engine.Name(),
		"stream_path", s.cfg.Server.StreamPath,
	)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server_error", "error", err)
			_ = s.runner.Stop()
		}
	}()
}

// drain refuses new work on every transport, then lets in-flight
// requests finish.
func (s *Service) drain(timeout time.Duration) error {
	for _, handler := range s.handlers {
		handler.Drain()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Service) cleanup() {
	if err := s.publisher.Close(); err != nil {
		s.logger.Warn("publisher_close_failed", "error", err)
	}
	if err := s.engine.Close(); err != nil {
		s.logger.Warn("engine_close_failed", "error", err)
	}
	s.logger.Info("shutdown", "goroutines", runtime.NumGoroutine())
}

func chunkPolicy(cfg Config) stream.Policy {
	ratio := cfg.VAD.SpeechRatioThreshold
	if classifierName(cfg.VAD) == "none" {
		ratio = vad.DisabledRatioThreshold
	}
	return stream.Policy{
		ChunkSeconds:         cfg.Stream.ChunkSeconds,
		MinChunkSeconds:      cfg.Stream.MinChunkSeconds,
		OverlapSeconds:       cfg.Stream.OverlapSeconds,
		SilenceRMS:           cfg.Stream.SilenceRMS,
		SpeechRatioThreshold: ratio,
	}
}

func buildAnalyzer(cfg VADConfig) *vad.Analyzer {
	if classifierName(cfg) == "none" {
		return nil
	}
	classifier := vad.NewEnergyClassifier(cfg.EnergyThreshold)
	return vad.NewAnalyzer(classifier, audio.SampleRate, audio.SampleWidth)
}

func buildPublisher(cfg EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	var sinks []events.Publisher
	if cfg.Kafka.Enabled {
		kafka, err := events.NewKafka(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, kafka)
	}
	if cfg.JSONLPath != "" {
		jsonl, err := events.NewJSONLFile(cfg.JSONLPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, jsonl)
	}
	switch len(sinks) {
	case 0:
		return events.Nop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return events.NewMulti(sinks...), nil
	}
}

func classifierName(cfg VADConfig) string {
	return strings.ToLower(strings.TrimSpace(cfg.Classifier))
}
