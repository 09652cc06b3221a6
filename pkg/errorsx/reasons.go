package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonHandshakeInvalid    ReasonCode = "handshake_invalid"
	ReasonFormatUnsupported   ReasonCode = "format_unsupported"
	ReasonModelSizeDisallowed ReasonCode = "model_size_disallowed"

	ReasonDecodeStart ReasonCode = "decode_start"
	ReasonDecodeFeed  ReasonCode = "decode_feed"
	ReasonDecodeProbe ReasonCode = "decode_probe"

	ReasonEngineBuild       ReasonCode = "engine_build"
	ReasonEngineTranscribe  ReasonCode = "engine_transcribe"
	ReasonEngineRateLimit   ReasonCode = "engine_rate_limit"
	ReasonEngineCircuitOpen ReasonCode = "engine_circuit_open"

	ReasonDispatchFailed ReasonCode = "dispatch_failed"

	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"

	ReasonOneshotTooLarge  ReasonCode = "oneshot_too_large"
	ReasonOneshotDownload  ReasonCode = "oneshot_download"
	ReasonOneshotNormalize ReasonCode = "oneshot_normalize"
	ReasonOneshotTooLong   ReasonCode = "oneshot_too_long"

	ReasonEventPublish ReasonCode = "event_publish"
)
