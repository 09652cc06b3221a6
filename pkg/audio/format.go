package audio

import (
	"fmt"
	"sort"
	"strings"
)

// Canonical PCM parameters used for all internal buffering and recognition.
const (
	SampleRate     = 16000
	SampleWidth    = 2 // s16le (16-bit PCM)
	BytesPerSecond = SampleRate * SampleWidth
)

// CanonicalEncoding is the raw tag that needs no decode step at the canonical rate.
const CanonicalEncoding = "s16le"

var containerFormats = map[string]struct{}{
	"wav":  {},
	"mp3":  {},
	"m4a":  {},
	"ogg":  {},
	"webm": {},
	"flac": {},
}

var rawFormats = map[string]struct{}{
	"s16le": {},
	"f32le": {},
	"mulaw": {}, // telephony media streams (8 kHz G.711 u-law)
}

var formatAliases = map[string]string{
	"mp4": "m4a",
}

// Format describes the encoding of an incoming audio stream.
// Immutable once a session starts.
type Format struct {
	Encoding   string
	SampleRate int
}

// NewFormat builds a descriptor, applying the canonical rate when none is given.
func NewFormat(encoding string, sampleRate int) Format {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	return Format{Encoding: encoding, SampleRate: sampleRate}
}

// NeedsConversion reports whether a decode step is required before buffering.
func (f Format) NeedsConversion() bool {
	return !(f.Encoding == CanonicalEncoding && f.SampleRate == SampleRate)
}

// IsRaw reports whether the encoding is a headerless PCM tag.
func (f Format) IsRaw() bool {
	_, ok := rawFormats[f.Encoding]
	return ok
}

// NormalizeEncoding lowercases a format tag and resolves known aliases.
func NormalizeEncoding(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if canonical, ok := formatAliases[tag]; ok {
		return canonical
	}
	return tag
}

// SupportedEncoding reports whether a normalized tag is a known container or raw format.
func SupportedEncoding(tag string) bool {
	if _, ok := containerFormats[tag]; ok {
		return true
	}
	_, ok := rawFormats[tag]
	return ok
}

// SupportedContainer reports whether a normalized tag is a known container format.
func SupportedContainer(tag string) bool {
	_, ok := containerFormats[tag]
	return ok
}

// SupportedEncodingList returns the sorted container tags for error messages.
func SupportedEncodingList() string {
	names := make([]string, 0, len(containerFormats))
	for name := range containerFormats {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// ValidateEncoding normalizes a tag and rejects unsupported ones.
func ValidateEncoding(tag string) (string, error) {
	normalized := NormalizeEncoding(tag)
	if !SupportedEncoding(normalized) {
		return "", fmt.Errorf("unsupported format %q, supported formats: %s", tag, SupportedEncodingList())
	}
	return normalized, nil
}
