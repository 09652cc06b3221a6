package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/sherwinwater/speech-to-text-service/pkg/audio"
	"github.com/sherwinwater/speech-to-text-service/pkg/engine"
	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
)

// StartCommand is the verb a handshake must carry.
const StartCommand = "start"

// Handshake is the first text frame a streaming client sends.
type Handshake struct {
	Type      string `json:"type"`
	Format    string `json:"format"`
	Rate      int    `json:"rate"`
	ModelSize string `json:"model_size"`
}

// StreamStart is a validated handshake.
type StreamStart struct {
	Format audio.Format
	// ModelSize is empty when the server default applies.
	ModelSize string
}

// ParseHandshake validates the opening frame. The format tag defaults to
// webm and is alias-folded; the rate defaults to the canonical rate; the
// model size (from the frame, or fallbackModelSize for clients passing
// it as a query parameter) must sit in the allow-list.
func ParseHandshake(payload []byte, fallbackModelSize string) (StreamStart, error) {
	var h Handshake
	if err := json.Unmarshal(payload, &h); err != nil {
		return StreamStart{}, errorsx.Wrap(fmt.Errorf("malformed handshake: %w", err), errorsx.ReasonHandshakeInvalid)
	}
	if h.Type != StartCommand {
		return StreamStart{}, errorsx.Wrap(fmt.Errorf("invalid handshake type %q", h.Type), errorsx.ReasonHandshakeInvalid)
	}

	tag := h.Format
	if tag == "" {
		tag = "webm"
	}
	encoding, err := audio.ValidateEncoding(tag)
	if err != nil {
		return StreamStart{}, errorsx.Wrap(err, errorsx.ReasonFormatUnsupported)
	}

	size := h.ModelSize
	if size == "" {
		size = fallbackModelSize
	}
	size, err = engine.NormalizeModelSize(size)
	if err != nil {
		return StreamStart{}, errorsx.Wrap(err, errorsx.ReasonModelSizeDisallowed)
	}

	return StreamStart{
		Format:    audio.NewFormat(encoding, h.Rate),
		ModelSize: size,
	}, nil
}

// IsStopCommand reports whether a text frame asks to finalize the stream.
func IsStopCommand(text string) bool {
	return text == "stop" || text == "close"
}

// Delta is an incremental transcript message.
type Delta struct {
	Type     string           `json:"type"`
	Append   string           `json:"append"`
	Segments []engine.Segment `json:"segments"`
}

// NewDelta shapes a recognition result for the wire. Segments serialize
// as an empty array rather than null.
func NewDelta(text string, segments []engine.Segment) Delta {
	if segments == nil {
		segments = []engine.Segment{}
	}
	return Delta{Type: "delta", Append: text, Segments: segments}
}

// Final closes a stream's transcript.
type Final struct {
	Type string `json:"type"`
}

func NewFinal() Final {
	return Final{Type: "final"}
}
