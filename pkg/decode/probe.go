package decode

import (
	"fmt"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
)

// ProbeBinary is the container inspector resolved from PATH.
const ProbeBinary = "ffprobe"

// ProbeFormat returns the container name candidates ffprobe reports for a
// file. Probe failures yield an empty list so callers can fall back to
// filename hints.
func ProbeFormat(filePath string) []string {
	out, err := exec.Command(ProbeBinary,
		"-v", "error",
		"-show_entries", "format=format_name",
		"-of", "default=noprint_wrappers=1:nokey=1",
		filePath,
	).Output()
	if err != nil {
		return nil
	}
	var candidates []string
	for _, part := range strings.Split(strings.TrimSpace(string(out)), ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part != "" {
			candidates = append(candidates, part)
		}
	}
	return candidates
}

// MapProbeName folds ffprobe container aliases onto upload format tags.
func MapProbeName(name string) string {
	candidate := strings.TrimSpace(strings.ToLower(name))
	switch candidate {
	case "mov", "mp4", "m4a":
		return "m4a"
	case "matroska":
		return "webm"
	}
	return candidate
}

// ExtensionHint extracts a lowercase extension from a filename or URL path,
// dropping any query or fragment suffix.
func ExtensionHint(name string) string {
	if name == "" {
		return ""
	}
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, '#'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// DetectFormat resolves the container format of an audio file. ffprobe
// candidates win; filename hints (the file path plus any caller-supplied
// original names) break ties when probing fails.
func DetectFormat(filePath string, hints ...string) (string, error) {
	for _, candidate := range ProbeFormat(filePath) {
		normalized := MapProbeName(candidate)
		if audio.SupportedContainer(normalized) {
			return normalized, nil
		}
	}
	for _, hint := range append([]string{filePath}, hints...) {
		if ext := ExtensionHint(hint); audio.SupportedContainer(ext) {
			return ext, nil
		}
	}
	err := fmt.Errorf("unsupported audio format, supported formats: %s", audio.SupportedEncodingList())
	return "", errorsx.Wrap(err, errorsx.ReasonFormatUnsupported)
}

// ProbeDuration returns the duration in seconds ffprobe reports for a file.
func ProbeDuration(filePath string) (float64, error) {
	out, err := exec.Command(ProbeBinary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		filePath,
	).Output()
	if err != nil {
		return 0, errorsx.Wrap(err, errorsx.ReasonDecodeProbe)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, errorsx.Wrap(err, errorsx.ReasonDecodeProbe)
	}
	return duration, nil
}

// NormalizeToWAV transcodes an audio file to canonical 16kHz mono WAV and
// returns the output path with its measured duration. The caller owns the
// returned file.
func NormalizeToWAV(inPath string) (string, float64, error) {
	tmp, err := os.CreateTemp("", "stt-*.wav")
	if err != nil {
		return "", 0, errorsx.Wrap(err, errorsx.ReasonOneshotNormalize)
	}
	outPath := tmp.Name()
	tmp.Close()

	cmd := exec.Command(DefaultBinary,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", inPath,
		"-ac", "1",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-f", "wav",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		detail := strings.TrimSpace(string(out))
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return "", 0, errorsx.Wrap(err, errorsx.ReasonOneshotNormalize)
	}

	duration, err := ProbeDuration(outPath)
	if err != nil {
		os.Remove(outPath)
		return "", 0, errorsx.Wrap(err, errorsx.ReasonOneshotNormalize)
	}
	return outPath, duration, nil
}
