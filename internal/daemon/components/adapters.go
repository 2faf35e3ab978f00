package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aymenfurter/polyclaw-sub001/internal/adapter"
	"github.com/aymenfurter/polyclaw-sub001/internal/config"
	"github.com/aymenfurter/polyclaw-sub001/internal/daemon"
	"github.com/aymenfurter/polyclaw-sub001/internal/egress"
)

// AdaptersComponent owns the platform adapters and the egress registry.
// The event handler is supplied by the caller because the ingress it feeds
// is constructed after the adapters.
type AdaptersComponent struct {
	cfg          *config.Config
	eventHandler adapter.EventHandler
	manager      *adapter.RuntimeManager
	egress       egress.Egress
	interactive  bool
	initialized  bool
	started      bool
	mu           sync.RWMutex
}

func NewAdaptersComponent(cfg *config.Config, eventHandler adapter.EventHandler, interactive bool) *AdaptersComponent {
	return &AdaptersComponent{cfg: cfg, eventHandler: eventHandler, interactive: interactive}
}

func (a *AdaptersComponent) Name() string {
	return "Adapters"
}

func (a *AdaptersComponent) Dependencies() []string {
	return nil
}

func (a *AdaptersComponent) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	defaultRoute := "system"
	if a.interactive {
		defaultRoute = "cli"
	}
	a.egress = egress.NewEgress(defaultRoute)

	manager, err := adapter.NewRuntimeManager(a.cfg.Adapters, a.eventHandler, adapter.RuntimeAdapterOptions{
		IncludeCLI:          a.interactive,
		CLISessionID:        "cli",
		IncludeSystemNull:   true,
		RequireSlackSecrets: true,
	})
	if err != nil {
		return err
	}
	a.manager = manager

	for _, out := range manager.OutputAdapters() {
		if err := a.egress.Register(out); err != nil {
			return fmt.Errorf("register output adapter %s: %w", out.Name(), err)
		}
	}

	a.initialized = true
	slog.Info("Adapters initialized", "component", a.Name(), "outputs", len(manager.OutputAdapters()))
	return nil
}

func (a *AdaptersComponent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return fmt.Errorf("Adapters not initialized")
	}

	a.manager.Start(ctx)
	a.started = true
	slog.Info("Adapters started", "component", a.Name())
	return nil
}

func (a *AdaptersComponent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}
	a.started = false
	return a.manager.Stop(ctx)
}

func (a *AdaptersComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.started {
		return &daemon.ComponentHealth{Name: a.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}
	if err := a.manager.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: a.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: a.Name(), Healthy: true}, nil
}

func (a *AdaptersComponent) Egress() egress.Egress {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.egress
}
