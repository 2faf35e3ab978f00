package daemon

import (
	"context"
)

// HealthStatus is the daemon's coarse lifecycle state.
type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

// ComponentHealth is one component's answer to the periodic health check,
// surfaced on the /health endpoint.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
}

// Component is one unit of the gate daemon (state, adapters, gate, ingress,
// sweeper, HTTP surface). Init runs in dependency order, Start after every
// Init succeeded, Stop in reverse registration order.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
