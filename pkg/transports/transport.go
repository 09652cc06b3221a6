package transports

import (
	"log/slog"
	"net/http"

	"github.com/sherwinwater/speech-to-text-service/pkg/dispatch"
	"github.com/sherwinwater/speech-to-text-service/pkg/events"
	"github.com/sherwinwater/speech-to-text-service/pkg/metrics"
	"github.com/sherwinwater/speech-to-text-service/pkg/stream"
	"github.com/sherwinwater/speech-to-text-service/pkg/vad"
)

// Handler is an ingress surface. Implementations mount their routes on the
// service mux and own their connection lifecycle.
type Handler interface {
	Name() string
	Register(mux *http.ServeMux)
	// Drain closes every active connection so shutdown can finish.
	Drain()
}

// Core bundles the machinery every streaming ingress drives: one shared
// dispatcher and analyzer, per-connection sessions and decoders.
type Core struct {
	Dispatcher *dispatch.Dispatcher
	Policy     stream.Policy
	Analyzer   *vad.Analyzer
	Metrics    *metrics.Metrics
	Publisher  events.Publisher
	Logger     *slog.Logger

	// DecodeBinary overrides the decoder executable for this deployment.
	DecodeBinary string
}
