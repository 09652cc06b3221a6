package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
)

func TestParseHandshakeDefaults(t *testing.T) {
	start, err := ParseHandshake([]byte(`{"type":"start"}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Format.Encoding != "webm" {
		t.Fatalf("expected webm default, got %q", start.Format.Encoding)
	}
	if start.Format.SampleRate != audio.SampleRate {
		t.Fatalf("expected canonical rate default, got %d", start.Format.SampleRate)
	}
	if start.ModelSize != "" {
		t.Fatalf("expected no model override, got %q", start.ModelSize)
	}
}

func TestParseHandshakeAliasAndRate(t *testing.T) {
	start, err := ParseHandshake([]byte(`{"type":"start","format":"MP4","rate":44100}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Format.Encoding != "m4a" {
		t.Fatalf("expected m4a alias, got %q", start.Format.Encoding)
	}
	if start.Format.SampleRate != 44100 {
		t.Fatalf("expected declared rate, got %d", start.Format.SampleRate)
	}
	if !start.Format.NeedsConversion() {
		t.Fatal("expected container to need conversion")
	}
}

func TestParseHandshakeRawPCM(t *testing.T) {
	start, err := ParseHandshake([]byte(`{"type":"start","format":"s16le","rate":16000}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Format.NeedsConversion() {
		t.Fatal("expected canonical raw PCM to skip conversion")
	}
}

func TestParseHandshakeModelSize(t *testing.T) {
	start, err := ParseHandshake([]byte(`{"type":"start","format":"wav","model_size":"BASE"}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.ModelSize != "base" {
		t.Fatalf("expected folded model size, got %q", start.ModelSize)
	}
}

func TestParseHandshakeModelSizeFallback(t *testing.T) {
	start, err := ParseHandshake([]byte(`{"type":"start","format":"wav"}`), "tiny")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.ModelSize != "tiny" {
		t.Fatalf("expected query fallback, got %q", start.ModelSize)
	}

	// An explicit model size wins over the fallback.
	start, err = ParseHandshake([]byte(`{"type":"start","format":"wav","model_size":"medium"}`), "tiny")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.ModelSize != "medium" {
		t.Fatalf("expected explicit size to win, got %q", start.ModelSize)
	}
}

func TestParseHandshakeRejections(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		reason  errorsx.ReasonCode
	}{
		{"malformed json", `{"type":`, errorsx.ReasonHandshakeInvalid},
		{"wrong type", `{"type":"hello"}`, errorsx.ReasonHandshakeInvalid},
		{"unsupported format", `{"type":"start","format":"aiff"}`, errorsx.ReasonFormatUnsupported},
		{"disallowed model", `{"type":"start","format":"wav","model_size":"large"}`, errorsx.ReasonModelSizeDisallowed},
	}
	for _, tc := range cases {
		_, err := ParseHandshake([]byte(tc.payload), "")
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !errorsx.HasReason(err, tc.reason) {
			t.Fatalf("%s: expected reason %s, got %v", tc.name, tc.reason, errorsx.Reason(err))
		}
	}
}

func TestParseHandshakeUnsupportedFormatListsSupported(t *testing.T) {
	_, err := ParseHandshake([]byte(`{"type":"start","format":"aiff"}`), "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "supported formats") {
		t.Fatalf("expected supported list in error, got %v", err)
	}
}

func TestIsStopCommand(t *testing.T) {
	if !IsStopCommand("stop") || !IsStopCommand("close") {
		t.Fatal("expected stop and close to finalize")
	}
	if IsStopCommand("ping") || IsStopCommand("") {
		t.Fatal("unexpected stop on other text")
	}
}

func TestDeltaSerializesEmptySegments(t *testing.T) {
	payload, err := json.Marshal(NewDelta("hi", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(payload), `"segments":[]`) {
		t.Fatalf("expected empty array, got %s", payload)
	}
	if !strings.Contains(string(payload), `"type":"delta"`) {
		t.Fatalf("expected delta type, got %s", payload)
	}
}

func TestFinalShape(t *testing.T) {
	payload, err := json.Marshal(NewFinal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != `{"type":"final"}` {
		t.Fatalf("unexpected final payload %s", payload)
	}
}
