package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/decode"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
	"github.com/sherwinwater/speech-to-text-service/pkg/logging"
	"github.com/sherwinwater/speech-to-text-service/pkg/metrics"
)

const (
	DefaultMaxFileMB      = 100
	DefaultMaxDurationSec = 3600.0
)

// Request outcomes as counted on the oneshot metric.
const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
)

type Config struct {
	MaxFileMB        int           `mapstructure:"max_file_mb"`
	MaxDurationSec   float64       `mapstructure:"max_duration_sec"`
	DownloadTimeout  time.Duration `mapstructure:"download_timeout"`
	DefaultModelSize string        `mapstructure:"default_model_size"`
}

func (c Config) withDefaults() Config {
	if c.MaxFileMB <= 0 {
		c.MaxFileMB = DefaultMaxFileMB
	}
	if c.MaxDurationSec <= 0 {
		c.MaxDurationSec = DefaultMaxDurationSec
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 60 * time.Second
	}
	if c.DefaultModelSize == "" {
		c.DefaultModelSize = engine.DefaultModelSize
	}
	return c
}

// API serves the one-shot transcription endpoint and the health probe.
type API struct {
	cfg     Config
	engine  engine.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
	client  *http.Client
}

func New(cfg Config, eng engine.Engine, m *metrics.Metrics, logger *slog.Logger) *API {
	cfg = cfg.withDefaults()
	return &API{
		cfg:     cfg,
		engine:  eng,
		metrics: m,
		logger:  logging.NewComponentLogger(logger, "httpapi"),
		client:  &http.Client{Timeout: cfg.DownloadTimeout},
	}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/transcribe", a.handleTranscribe)
	mux.HandleFunc("/health", a.handleHealth)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type transcribeOptions struct {
	Language       string
	ModelSize      string
	WordTimestamps bool
}

type urlRequest struct {
	URL            string `json:"url"`
	Language       string `json:"language"`
	ModelSize      string `json:"model_size"`
	WordTimestamps bool   `json:"word_timestamps"`
}

type transcribeResponse struct {
	Text        string           `json:"text"`
	Language    string           `json:"language"`
	DurationSec float64          `json:"duration_sec"`
	Segments    []engine.Segment `json:"segments"`
	Model       string           `json:"model"`
}

func (a *API) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.reject(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	started := time.Now()

	opts := optionsFromQuery(r)

	var (
		inPath   string
		origName string
		ok       bool
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		inPath, origName, ok = a.saveUpload(w, r)
	} else {
		inPath, origName, ok = a.fetchURL(w, r, &opts)
	}
	if !ok {
		return
	}
	defer os.Remove(inPath)

	modelSize, err := engine.NormalizeModelSize(opts.ModelSize)
	if err != nil {
		a.reject(w, http.StatusBadRequest, err.Error())
		return
	}
	if modelSize == "" {
		modelSize = a.cfg.DefaultModelSize
	}

	if _, err := decode.DetectFormat(inPath, origName); err != nil {
		a.reject(w, http.StatusBadRequest, err.Error())
		return
	}

	wavPath, duration, err := decode.NormalizeToWAV(inPath)
	if err != nil {
		a.logger.Warn("normalize_failed",
			"reason_code", string(errorsx.Reason(err)),
			"error", err)
		a.reject(w, http.StatusUnprocessableEntity, "Could not decode audio")
		return
	}
	defer os.Remove(wavPath)

	if duration > a.cfg.MaxDurationSec {
		detail := fmt.Sprintf("Audio duration %.1fs exceeds limit of %.0fs", duration, a.cfg.MaxDurationSec)
		a.reject(w, http.StatusRequestEntityTooLarge, detail)
		return
	}

	wavBytes, err := os.ReadFile(wavPath)
	if err != nil {
		a.fail(w, err, "read normalized audio")
		return
	}
	pcm, err := audio.DecodeWAV(wavBytes)
	if err != nil {
		a.fail(w, err, "parse normalized audio")
		return
	}

	result, err := a.engine.Transcribe(r.Context(), engine.Request{
		Samples:        audio.Float32FromPCM16(pcm),
		SampleRate:     audio.SampleRate,
		Language:       opts.Language,
		ModelSize:      modelSize,
		WordTimestamps: opts.WordTimestamps,
	})
	if err != nil {
		a.fail(w, err, "transcribe")
		return
	}

	segments := result.Segments
	if segments == nil {
		segments = []engine.Segment{}
	}
	a.metrics.OneshotRequests.WithLabelValues(outcomeOK).Inc()
	a.metrics.OneshotDuration.Observe(time.Since(started).Seconds())
	writeJSON(w, http.StatusOK, transcribeResponse{
		Text:        result.Text,
		Language:    result.Language,
		DurationSec: duration,
		Segments:    segments,
		Model:       result.Model,
	})
}

// saveUpload spools the multipart file field to a temp file, enforcing the
// size cap while copying. Returns ok=false after responding.
func (a *API) saveUpload(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	file, header, err := r.FormFile("file")
	if err != nil {
		a.reject(w, http.StatusBadRequest, "Provide either multipart file or JSON {url}.")
		return "", "", false
	}
	defer file.Close()

	path, ok := a.spool(w, file)
	if !ok {
		return "", "", false
	}
	return path, header.Filename, true
}

// fetchURL downloads the JSON-referenced audio to a temp file. Body fields
// fill in any option the query string left blank.
func (a *API) fetchURL(w http.ResponseWriter, r *http.Request, opts *transcribeOptions) (string, string, bool) {
	var req urlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		a.reject(w, http.StatusBadRequest, "Provide either multipart file or JSON {url}.")
		return "", "", false
	}
	if opts.Language == "" {
		opts.Language = req.Language
	}
	if opts.ModelSize == "" {
		opts.ModelSize = req.ModelSize
	}
	if !opts.WordTimestamps {
		opts.WordTimestamps = req.WordTimestamps
	}

	resp, err := a.client.Get(req.URL)
	if err != nil {
		a.logger.Warn("download_failed",
			"reason_code", string(errorsx.ReasonOneshotDownload),
			"error", err)
		a.reject(w, http.StatusUnprocessableEntity, "Could not download audio from url")
		return "", "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		a.logger.Warn("download_failed",
			"reason_code", string(errorsx.ReasonOneshotDownload),
			"status", resp.StatusCode)
		a.reject(w, http.StatusUnprocessableEntity, "Could not download audio from url")
		return "", "", false
	}

	path, ok := a.spool(w, resp.Body)
	if !ok {
		return "", "", false
	}
	return path, req.URL, true
}

// spool copies src to a temp file, rejecting streams over the size cap.
func (a *API) spool(w http.ResponseWriter, src io.Reader) (string, bool) {
	maxBytes := int64(a.cfg.MaxFileMB) << 20
	tmp, err := os.CreateTemp("", "stt-upload-*")
	if err != nil {
		a.fail(w, err, "spool upload")
		return "", false
	}
	n, err := io.Copy(tmp, io.LimitReader(src, maxBytes+1))
	tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		a.fail(w, err, "spool upload")
		return "", false
	}
	if n > maxBytes {
		os.Remove(tmp.Name())
		detail := fmt.Sprintf("File exceeds limit of %d MB", a.cfg.MaxFileMB)
		a.reject(w, http.StatusRequestEntityTooLarge, detail)
		return "", false
	}
	return tmp.Name(), true
}

func optionsFromQuery(r *http.Request) transcribeOptions {
	q := r.URL.Query()
	wordTimestamps, _ := strconv.ParseBool(q.Get("word_timestamps"))
	return transcribeOptions{
		Language:       strings.TrimSpace(q.Get("language")),
		ModelSize:      strings.TrimSpace(q.Get("model_size")),
		WordTimestamps: wordTimestamps,
	}
}

func (a *API) reject(w http.ResponseWriter, status int, detail string) {
	a.metrics.OneshotRequests.WithLabelValues(outcomeRejected).Inc()
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (a *API) fail(w http.ResponseWriter, err error, op string) {
	a.logger.Error("oneshot_failed",
		"op", op,
		"reason_code", string(errorsx.Reason(err)),
		"error", err)
	a.metrics.OneshotRequests.WithLabelValues(outcomeFailed).Inc()
	writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Transcription failed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
