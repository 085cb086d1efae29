package services

import (
	"context"
	"sync"

	"github.com/irfndi/leadgen-insights/internal/config"
)

// ResolutionMode is where a capability will be computed.
type ResolutionMode string

const (
	ResolutionServer         ResolutionMode = "server"
	ResolutionClientFallback ResolutionMode = "client-fallback"
	ResolutionSkip           ResolutionMode = "skip"
)

// Capability names known to the resolver.
const (
	CapabilityForecast          = "forecast"
	CapabilityAnomalies         = "anomalies"
	CapabilityMLRecommendations = "ml_recommendations"
)

// Resolution is the outcome of resolving one capability.
type Resolution struct {
	Capability string
	Mode       ResolutionMode
	Reason     string
}

// CapabilityResolver decides, per call, where a capability is computed.
type CapabilityResolver interface {
	Resolve(ctx context.Context, capability string) Resolution
	Snapshot() map[string]string
}

// ConfigCapabilityResolver resolves from the configured preference and the
// health of the upstream breaker.
type ConfigCapabilityResolver struct {
	preference      string
	upstreamEnabled bool
	breaker         *CircuitBreaker

	mu   sync.RWMutex
	last map[string]ResolutionMode
}

// NewConfigCapabilityResolver creates a resolver. breaker may be nil when no
// upstream service is configured.
func NewConfigCapabilityResolver(cfg config.ForecastConfig, upstreamEnabled bool, breaker *CircuitBreaker) *ConfigCapabilityResolver {
	return &ConfigCapabilityResolver{
		preference:      cfg.Resolution,
		upstreamEnabled: upstreamEnabled,
		breaker:         breaker,
		last:            make(map[string]ResolutionMode),
	}
}

// Resolve implements CapabilityResolver.
func (r *ConfigCapabilityResolver) Resolve(ctx context.Context, capability string) Resolution {
	res := r.resolve(capability)

	r.mu.Lock()
	r.last[capability] = res.Mode
	r.mu.Unlock()
	return res
}

func (r *ConfigCapabilityResolver) resolve(capability string) Resolution {
	switch r.preference {
	case "skip":
		return Resolution{Capability: capability, Mode: ResolutionSkip, Reason: "disabled by configuration"}
	case "client":
		return Resolution{Capability: capability, Mode: ResolutionClientFallback, Reason: "configured for client computation"}
	}

	if !r.upstreamEnabled {
		return Resolution{Capability: capability, Mode: ResolutionClientFallback, Reason: "forecast service not configured"}
	}
	if r.breaker != nil && !r.breaker.Allow() {
		return Resolution{Capability: capability, Mode: ResolutionClientFallback, Reason: "forecast service circuit open"}
	}
	return Resolution{Capability: capability, Mode: ResolutionServer, Reason: "forecast service available"}
}

// Snapshot returns the last resolved mode of every capability seen so far,
// plus the breaker state when one is attached.
func (r *ConfigCapabilityResolver) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.last)+1)
	for capability, mode := range r.last {
		out[capability] = string(mode)
	}
	if r.breaker != nil {
		out["forecast_service.circuit"] = r.breaker.GetState().String()
	}
	return out
}

// StaticCapabilityResolver always returns the same mode. Useful for tests and
// for deployments without an upstream service.
type StaticCapabilityResolver struct {
	Mode ResolutionMode
}

// Resolve implements CapabilityResolver.
func (s StaticCapabilityResolver) Resolve(_ context.Context, capability string) Resolution {
	return Resolution{Capability: capability, Mode: s.Mode, Reason: "static"}
}

// Snapshot implements CapabilityResolver.
func (s StaticCapabilityResolver) Snapshot() map[string]string {
	return map[string]string{CapabilityForecast: string(s.Mode)}
}
