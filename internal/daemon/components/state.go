package components

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aymenfurter/polyclaw-sub001/internal/audit"
	"github.com/aymenfurter/polyclaw-sub001/internal/config"
	"github.com/aymenfurter/polyclaw-sub001/internal/daemon"
	"github.com/aymenfurter/polyclaw-sub001/internal/idempotency"
	"github.com/aymenfurter/polyclaw-sub001/internal/store"
)

// StateComponent owns the workspace's durable state: the single-instance
// lock, the persisted idempotency keys, and the audit sink.
type StateComponent struct {
	workspaceID string
	cfg         *config.Config
	lock        *store.FileLock
	dedupe      *idempotency.Store
	sink        audit.Sink
	initialized bool
	mu          sync.RWMutex
}

func NewStateComponent(workspaceID string, cfg *config.Config) *StateComponent {
	return &StateComponent{workspaceID: workspaceID, cfg: cfg}
}

func (s *StateComponent) Name() string {
	return "State"
}

func (s *StateComponent) Dependencies() []string {
	return nil
}

func (s *StateComponent) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	workspacePath, err := store.GetWorkspacePath(s.workspaceID, s.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}

	s.lock, err = store.NewFileLock(s.workspaceID, workspacePath, nil)
	if err != nil {
		return fmt.Errorf("acquire gate lock: %w", err)
	}

	governanceDir, err := store.GetGovernanceDir(s.workspaceID, s.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve governance dir: %w", err)
	}
	if err := os.MkdirAll(governanceDir, 0755); err != nil {
		return fmt.Errorf("create governance dir: %w", err)
	}

	s.dedupe, err = idempotency.NewStore(filepath.Join(governanceDir, "processed_keys.json"))
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}

	s.sink, err = audit.NewFileSink(s.workspaceID, s.cfg.Daemon.WorkspacePath, s.cfg.Audit.Enabled, s.cfg.Audit.RedactPatterns)
	if err != nil {
		return fmt.Errorf("open audit sink: %w", err)
	}

	s.initialized = true
	slog.Info("State initialized", "component", s.Name(), "workspace", s.workspaceID)
	return nil
}

func (s *StateComponent) Start(ctx context.Context) error {
	return nil
}

func (s *StateComponent) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dedupe != nil {
		if err := s.dedupe.Save(); err != nil {
			slog.Warn("Failed to persist idempotency store on shutdown", "error", err)
		}
	}
	if s.lock != nil {
		s.lock.Unlock()
	}
	return nil
}

func (s *StateComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	if s.lock == nil || !s.lock.IsLocked() {
		return &daemon.ComponentHealth{Name: s.Name(), Healthy: false, Error: fmt.Errorf("gate lock not held")}, nil
	}
	return &daemon.ComponentHealth{Name: s.Name(), Healthy: true}, nil
}

func (s *StateComponent) Dedupe() *idempotency.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dedupe
}

func (s *StateComponent) AuditSink() audit.Sink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sink
}
