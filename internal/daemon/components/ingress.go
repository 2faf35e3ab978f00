package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aymenfurter/polyclaw-sub001/internal/concurrency"
	"github.com/aymenfurter/polyclaw-sub001/internal/config"
	"github.com/aymenfurter/polyclaw-sub001/internal/daemon"
	"github.com/aymenfurter/polyclaw-sub001/internal/ingress"
)

// IngressComponent owns the event queues and the dispatcher that drains
// them into the gate.
type IngressComponent struct {
	cfg         *config.Config
	state       *StateComponent
	gateComp    *GateComponent
	adapters    *AdaptersComponent
	ingress     *ingress.Ingress
	dispatcher  *ingress.Dispatcher
	cancel      context.CancelFunc
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewIngressComponent(cfg *config.Config, state *StateComponent, gateComp *GateComponent, adapters *AdaptersComponent) *IngressComponent {
	return &IngressComponent{cfg: cfg, state: state, gateComp: gateComp, adapters: adapters}
}

func (i *IngressComponent) Name() string {
	return "Ingress"
}

func (i *IngressComponent) Dependencies() []string {
	return []string{"State", "Gate", "Adapters"}
}

func (i *IngressComponent) Init(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	submitTimeout, err := config.DurationOrDefault(i.cfg.Ingress.SubmitTimeout, config.DefaultIngressSubmitTimeout)
	if err != nil {
		return fmt.Errorf("parse ingress submit timeout: %w", err)
	}
	drainTimeout, err := config.DurationOrDefault(i.cfg.Ingress.DrainTimeout, config.DefaultIngressDrainTimeout)
	if err != nil {
		return fmt.Errorf("parse ingress drain timeout: %w", err)
	}
	idempotencyTTL, err := config.DurationOrDefault(i.cfg.Ingress.IdempotencyTTL, config.DefaultIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("parse idempotency ttl: %w", err)
	}

	i.ingress = ingress.NewIngress(i.cfg.Ingress.QueueSize, ingress.RuntimeConfig{
		SubmitTimeout:  submitTimeout,
		DrainTimeout:   drainTimeout,
		IdempotencyTTL: idempotencyTTL,
	}, i.state.Dedupe())

	i.dispatcher = ingress.NewDispatcher(i.gateComp.Gate(), i.ingress, i.adapters.Egress())

	i.initialized = true
	slog.Info("Ingress initialized", "component", i.Name(), "queue_size", i.cfg.Ingress.QueueSize)
	return nil
}

func (i *IngressComponent) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.initialized {
		return fmt.Errorf("Ingress not initialized")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel
	dispatcher := i.dispatcher
	concurrency.SafeGo(func() {
		dispatcher.Run(runCtx)
	}, nil)

	i.started = true
	slog.Info("Ingress started", "component", i.Name())
	return nil
}

func (i *IngressComponent) Stop(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.started {
		return nil
	}
	i.started = false

	// Close the queues first so the dispatcher drains what is already
	// buffered before its context goes away.
	if err := i.ingress.Close(); err != nil {
		slog.Warn("Ingress close reported error", "error", err)
	}
	if i.cancel != nil {
		i.cancel()
	}
	return nil
}

func (i *IngressComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if !i.started {
		return &daemon.ComponentHealth{Name: i.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}
	if err := i.ingress.Health(ctx); err != nil {
		return &daemon.ComponentHealth{Name: i.Name(), Healthy: false, Error: err}, nil
	}
	return &daemon.ComponentHealth{Name: i.Name(), Healthy: true}, nil
}

func (i *IngressComponent) GetIngress() *ingress.Ingress {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.ingress
}
