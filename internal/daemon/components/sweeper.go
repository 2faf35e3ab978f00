package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aymenfurter/polyclaw-sub001/internal/config"
	"github.com/aymenfurter/polyclaw-sub001/internal/daemon"
	"github.com/aymenfurter/polyclaw-sub001/internal/sweeper"
)

// SweeperComponent schedules periodic pruning of settled invocations and
// expired idempotency keys.
type SweeperComponent struct {
	cfg         *config.Config
	state       *StateComponent
	gateComp    *GateComponent
	sweeper     *sweeper.Sweeper
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewSweeperComponent(cfg *config.Config, state *StateComponent, gateComp *GateComponent) *SweeperComponent {
	return &SweeperComponent{cfg: cfg, state: state, gateComp: gateComp}
}

func (s *SweeperComponent) Name() string {
	return "Sweeper"
}

func (s *SweeperComponent) Dependencies() []string {
	return []string{"State", "Gate"}
}

func (s *SweeperComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Sweeper.Enabled {
		slog.Info("Sweeper disabled by configuration")
		s.initialized = true
		return nil
	}

	retention, err := config.DurationOrDefault(s.cfg.Gate.LedgerRetention, config.DefaultGateLedgerRetention)
	if err != nil {
		return fmt.Errorf("parse ledger retention: %w", err)
	}

	s.sweeper, err = sweeper.New(s.gateComp.Gate().Ledger(), s.state.Dedupe(), s.cfg.Sweeper.Schedule, retention)
	if err != nil {
		return fmt.Errorf("build sweeper: %w", err)
	}

	s.initialized = true
	slog.Info("Sweeper initialized", "component", s.Name(), "schedule", s.cfg.Sweeper.Schedule, "retention", retention)
	return nil
}

func (s *SweeperComponent) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return fmt.Errorf("Sweeper not initialized")
	}
	if s.sweeper == nil {
		return nil
	}

	if err := s.sweeper.Start(); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	s.started = true
	slog.Info("Sweeper started", "component", s.Name())
	return nil
}

func (s *SweeperComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	return s.sweeper.Stop(ctx)
}

func (s *SweeperComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	return &daemon.ComponentHealth{Name: s.Name(), Healthy: true}, nil
}
