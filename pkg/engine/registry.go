package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/sherwinwater/speech-to-text-service/pkg/errorsx"
)

// Factory builds an engine from its raw settings block.
type Factory func(settings map[string]any, logger *slog.Logger) (Engine, error)

// Registry maps backend names to factories.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, factory Factory) {
	r.factories[strings.ToLower(strings.TrimSpace(name))] = factory
}

// Build constructs the named backend. Unknown names and factory failures
// carry the engine_build reason.
func (r *Registry) Build(name string, settings map[string]any, logger *slog.Logger) (Engine, error) {
	factory := r.factories[strings.ToLower(strings.TrimSpace(name))]
	if factory == nil {
		return nil, errorsx.Wrap(fmt.Errorf("engine not registered: %s", name), errorsx.ReasonEngineBuild)
	}
	eng, err := factory(settings, logger)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonEngineBuild)
	}
	return eng, nil
}

// Names returns the registered backend names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
