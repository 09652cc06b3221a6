package whisperd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
	"github.com/sherwinwater/speech-to-text-service/pkg/resilience"
)

func testRequest() engine.Request {
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = 0.1
	}
	return engine.Request{Samples: samples, SampleRate: 16000, ModelSize: "base"}
}

func TestTranscribeUploadsWindow(t *testing.T) {
	var gotPath, gotModel, gotFormat string
	var gotFileBytes int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			gotFileBytes = len(data)
			file.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"testing one two","language":"en","duration":1.0,` +
			`"segments":[{"start":0.0,"end":1.0,"text":"testing one two"}]}`))
	}))
	defer server.Close()

	e, err := New(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := e.Transcribe(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/v1/audio/transcriptions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotModel != "base" {
		t.Fatalf("expected model size forwarded, got %q", gotModel)
	}
	if gotFormat != "verbose_json" {
		t.Fatalf("expected verbose_json, got %q", gotFormat)
	}
	// 44-byte WAV header plus one second of 16-bit PCM.
	if gotFileBytes != 44+16000*2 {
		t.Fatalf("unexpected upload size %d", gotFileBytes)
	}

	if result.Text != "testing one two" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Model != "faster-whisper:base" {
		t.Fatalf("unexpected model label %q", result.Model)
	}
	if len(result.Segments) != 1 || result.Segments[0].End != 1.0 {
		t.Fatalf("unexpected segments %+v", result.Segments)
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text":"ok","language":"en","segments":[]}`))
	}))
	defer server.Close()

	e, err := New(Config{BaseURL: server.URL, MaxRetries: 2, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := e.Transcribe(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "ok" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestTranscribeDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	e, err := New(Config{BaseURL: server.URL, MaxRetries: 3, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := e.Transcribe(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestTranscribeMapsRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	e, err := New(Config{BaseURL: server.URL, MaxRetries: 1, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = e.Transcribe(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonEngineRateLimit) {
		t.Fatalf("expected rate limit reason, got %v", errorsx.Reason(err))
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without base URL")
	}
}

func TestFactoryValidatesSettings(t *testing.T) {
	if _, err := Factory(map[string]any{}, nil); err == nil {
		t.Fatal("expected error without base_url")
	}
	if _, err := Factory(map[string]any{"base_url": "http://localhost:9005", "basepath": "x"}, nil); err == nil {
		t.Fatal("expected error for unknown key")
	}
	e, err := Factory(map[string]any{"base_url": "http://localhost:9005", "timeout_ms": 1000}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Name() != "whisperd" {
		t.Fatalf("unexpected name %q", e.Name())
	}
}
