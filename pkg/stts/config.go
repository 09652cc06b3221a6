package stts

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
)

// Config is the full service configuration. Every field has a working
// default so the service starts with no config file at all; a YAML file
// and ${ENV} expansion layer on top.
type Config struct {
	Server      ServerConfig  `mapstructure:"server"`
	Stream      StreamConfig  `mapstructure:"stream"`
	VAD         VADConfig     `mapstructure:"vad"`
	Engine      EngineConfig  `mapstructure:"engine"`
	Oneshot     OneshotConfig `mapstructure:"oneshot"`
	Twilio      TwilioConfig  `mapstructure:"twilio"`
	Events      EventsConfig  `mapstructure:"events"`
	Privacy     PrivacyConfig `mapstructure:"privacy"`
	Environment string        `mapstructure:"environment"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	StreamPath     string   `mapstructure:"stream_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	DrainTimeoutMS int      `mapstructure:"drain_timeout_ms"`
}

type StreamConfig struct {
	ChunkSeconds     float64 `mapstructure:"chunk_seconds"`
	MinChunkSeconds  float64 `mapstructure:"min_chunk_seconds"`
	OverlapSeconds   float64 `mapstructure:"overlap_seconds"`
	SilenceRMS       float64 `mapstructure:"silence_rms"`
	DecodeBinary     string  `mapstructure:"decode_binary"`
	DefaultModelSize string  `mapstructure:"default_model_size"`
}

type VADConfig struct {
	Classifier           string  `mapstructure:"classifier"`
	EnergyThreshold      float64 `mapstructure:"energy_threshold"`
	SpeechRatioThreshold float64 `mapstructure:"speech_ratio_threshold"`
}

type EngineConfig struct {
	Provider          string         `mapstructure:"provider"`
	Settings          map[string]any `mapstructure:"settings"`
	BreakerThreshold  int            `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int            `mapstructure:"breaker_cooldown_ms"`
}

type OneshotConfig struct {
	MaxFileMB         int     `mapstructure:"max_file_mb"`
	MaxDurationSec    float64 `mapstructure:"max_duration_sec"`
	DownloadTimeoutMS int     `mapstructure:"download_timeout_ms"`
}

type TwilioConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	PublicURL     string `mapstructure:"public_url"`
	AuthToken     string `mapstructure:"auth_token"`
	VoicePath     string `mapstructure:"voice_path"`
	StreamPath    string `mapstructure:"stream_path"`
	VoiceGreeting string `mapstructure:"voice_greeting"`
}

type EventsConfig struct {
	Kafka     KafkaConfig `mapstructure:"kafka"`
	JSONLPath string      `mapstructure:"jsonl_path"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// LoadConfig reads the config file at path and overlays it on the
// defaults. An empty path skips the file and returns defaults only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.stream_path", "/v1/stream")
	v.SetDefault("server.allow_any_origin", false)
	v.SetDefault("server.drain_timeout_ms", 10000)
	v.SetDefault("stream.chunk_seconds", 2.5)
	v.SetDefault("stream.min_chunk_seconds", 1.0)
	v.SetDefault("stream.overlap_seconds", 0.5)
	v.SetDefault("stream.silence_rms", 0.005)
	v.SetDefault("stream.decode_binary", "ffmpeg")
	v.SetDefault("stream.default_model_size", "small")
	v.SetDefault("vad.classifier", "energy")
	v.SetDefault("vad.energy_threshold", 0.015)
	v.SetDefault("vad.speech_ratio_threshold", 0.35)
	v.SetDefault("engine.provider", "fake")
	v.SetDefault("engine.breaker_threshold", 3)
	v.SetDefault("engine.breaker_cooldown_ms", 30000)
	v.SetDefault("oneshot.max_file_mb", 100)
	v.SetDefault("oneshot.max_duration_sec", 3600)
	v.SetDefault("oneshot.download_timeout_ms", 60000)
	v.SetDefault("twilio.enabled", false)
	v.SetDefault("twilio.voice_path", "/twilio/voice")
	v.SetDefault("twilio.stream_path", "/twilio/stream")
	v.SetDefault("events.kafka.enabled", false)
	v.SetDefault("events.kafka.topic", "stt.transcripts")
	v.SetDefault("privacy.redact_pii", false)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Engine.Provider) == "" {
		return fmt.Errorf("engine.provider is required")
	}
	if _, err := engine.NormalizeModelSize(c.Stream.DefaultModelSize); err != nil {
		return fmt.Errorf("stream.default_model_size: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.VAD.Classifier)) {
	case "", "energy", "none":
	default:
		return fmt.Errorf("vad.classifier must be \"energy\" or \"none\"")
	}
	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		return fmt.Errorf("events.kafka.brokers is required when kafka is enabled")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Engine.Settings = expandSettings(cfg.Engine.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
