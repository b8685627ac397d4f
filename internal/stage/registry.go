package stage

import (
	"context"
	"time"

	"mediaqueue/internal/config"
)

// Registry maps stage names to handlers.
type Registry map[string]Handler

// NewRegistry builds a handler per known stage: a Command when the config
// names one, otherwise the simulation.
func NewRegistry(cfg *config.Config) Registry {
	reg := make(Registry, len(config.StageOrder))
	grace := time.Duration(cfg.Pipeline.CommandGraceSeconds) * time.Second
	for _, name := range config.StageOrder {
		if argv := cfg.StageCommand(name); len(argv) > 0 {
			reg[name] = NewCommand(name, argv, grace)
			continue
		}
		reg[name] = NewSimulated(name, cfg.SimulatedDuration(name))
	}
	return reg
}

// Health checks every stage that supports it, in pipeline order.
func (r Registry) Health(ctx context.Context) []Health {
	out := make([]Health, 0, len(r))
	for _, name := range config.StageOrder {
		handler, ok := r[name]
		if !ok {
			continue
		}
		if checker, ok := handler.(HealthChecker); ok {
			out = append(out, checker.HealthCheck(ctx))
			continue
		}
		out = append(out, Healthy(name))
	}
	return out
}
