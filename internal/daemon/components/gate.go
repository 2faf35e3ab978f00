package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aymenfurter/polyclaw-sub001/internal/channel"
	"github.com/aymenfurter/polyclaw-sub001/internal/config"
	"github.com/aymenfurter/polyclaw-sub001/internal/daemon"
	"github.com/aymenfurter/polyclaw-sub001/internal/gate"
	"github.com/aymenfurter/polyclaw-sub001/internal/policy"
	"github.com/aymenfurter/polyclaw-sub001/internal/reviewer"
	"github.com/aymenfurter/polyclaw-sub001/internal/safety"
	"github.com/aymenfurter/polyclaw-sub001/internal/voice"
)

// GateComponent wires the policy engine, the invocation ledger, and the
// approval channels into a running gate. A bad policy configuration never
// prevents startup: the store falls back to the fail-closed snapshot.
type GateComponent struct {
	cfg         *config.Config
	state       *StateComponent
	adapters    *AdaptersComponent
	store       *policy.Store
	gate        *gate.Gate
	initialized bool
	mu          sync.RWMutex
}

func NewGateComponent(cfg *config.Config, state *StateComponent, adapters *AdaptersComponent) *GateComponent {
	return &GateComponent{cfg: cfg, state: state, adapters: adapters}
}

func (g *GateComponent) Name() string {
	return "Gate"
}

func (g *GateComponent) Dependencies() []string {
	return []string{"State", "Adapters"}
}

func (g *GateComponent) Init(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap, err := policy.FromConfig(g.cfg.Policy)
	if err != nil {
		slog.Warn("Policy configuration unusable, failing closed", "error", err)
		snap = nil
	}
	g.store = policy.NewStore(snap)
	engine := policy.NewEngine(g.store)

	mergeWindow, err := config.DurationOrDefault(g.cfg.Gate.MergeWindow, config.DefaultGateMergeWindow)
	if err != nil {
		return fmt.Errorf("parse gate merge window: %w", err)
	}

	ledger := gate.NewLedger(mergeWindow)
	pending := gate.NewPendingSet()
	g.gate = gate.New(engine, ledger, pending, g.state.AuditSink())

	if err := g.registerChannels(ledger); err != nil {
		return err
	}

	g.initialized = true
	slog.Info("Gate initialized", "component", g.Name(),
		"preset", g.store.Snapshot().Preset, "merge_window", mergeWindow)
	return nil
}

// registerChannels binds each suspension decision to its channel. Chat and
// the reviewer are always available; phone and the content filter need an
// endpoint configured. A decision left without a channel fails closed at
// interception time.
func (g *GateComponent) registerChannels(ledger *gate.Ledger) error {
	eg := g.adapters.Egress()

	g.gate.RegisterSolicitor(policy.DecisionHITLChat, channel.NewChatChannel(ledger, eg))

	if g.cfg.Voice.BaseURL != "" {
		caller, err := voice.NewHTTPCaller(g.cfg.Voice)
		if err != nil {
			return fmt.Errorf("build voice caller: %w", err)
		}
		g.gate.RegisterSolicitor(policy.DecisionHITLPhone, channel.NewPhoneChannel(caller, ledger))
	} else {
		slog.Info("Voice endpoint not configured, phone approvals disabled")
	}

	rev, err := reviewer.New(g.cfg.Reviewer)
	if err != nil {
		slog.Warn("Reviewer unavailable, aitl decisions will fail closed", "error", err)
	} else {
		g.gate.RegisterSolicitor(policy.DecisionAITL, channel.NewReviewerChannel(rev, g.gate.Coordinator()))
	}

	if g.cfg.Safety.BaseURL != "" {
		classifier, err := safety.NewHTTPClassifier(g.cfg.Safety)
		if err != nil {
			return fmt.Errorf("build safety classifier: %w", err)
		}
		g.gate.RegisterSolicitor(policy.DecisionContentFilter, channel.NewFilterChannel(classifier, g.gate.Coordinator()))
	} else {
		slog.Info("Safety endpoint not configured, content filter decisions downgrade per policy")
	}

	return nil
}

func (g *GateComponent) Start(ctx context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.initialized {
		return fmt.Errorf("Gate not initialized")
	}
	return nil
}

func (g *GateComponent) Stop(ctx context.Context) error {
	return nil
}

func (g *GateComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.initialized {
		return &daemon.ComponentHealth{Name: g.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	return &daemon.ComponentHealth{Name: g.Name(), Healthy: true}, nil
}

func (g *GateComponent) Gate() *gate.Gate {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gate
}

func (g *GateComponent) PolicyStore() *policy.Store {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store
}
