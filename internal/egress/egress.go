package egress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aymenfurter/polyclaw-sub001/internal/adapter"
	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"
)

// Egress routes outbound approval prompts and notifications to the platform
// a session lives on. Sessions are bound to their source when the first
// inbound event arrives; unbound sessions fall back to the default adapter.
type Egress interface {
	// Register registers an output adapter.
	Register(a adapter.OutputAdapter) error

	// Unregister removes an output adapter.
	Unregister(name string) error

	// BindSession pins a session to the adapter its traffic came from.
	BindSession(sessionID, source string)

	// Send routes content to the session's adapter.
	Send(ctx context.Context, sessionID string, content string) error

	// Health checks egress health and all registered adapters.
	Health(ctx context.Context) error

	// ListAdapters returns all registered adapters.
	ListAdapters() []adapter.OutputAdapter
}

type DefaultEgress struct {
	mu            sync.RWMutex
	adapters      map[string]adapter.OutputAdapter
	sessionSource map[string]string
	defaultRoute  string
}

func NewEgress(defaultRoute string) Egress {
	return &DefaultEgress{
		adapters:      make(map[string]adapter.OutputAdapter),
		sessionSource: make(map[string]string),
		defaultRoute:  defaultRoute,
	}
}

func (e *DefaultEgress) Register(a adapter.OutputAdapter) error {
	if a == nil {
		return polyErrors.InvalidInput("adapter cannot be nil")
	}

	name := a.Name()
	if name == "" {
		return polyErrors.InvalidInput("adapter name cannot be empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.adapters[name]; exists {
		return polyErrors.ErrConflict
	}

	e.adapters[name] = a
	slog.Info("Egress adapter registered", "name", name)
	return nil
}

func (e *DefaultEgress) Unregister(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.adapters[name]; !exists {
		return polyErrors.NotFound("adapter not found: " + name)
	}

	delete(e.adapters, name)
	slog.Info("Egress adapter unregistered", "name", name)
	return nil
}

func (e *DefaultEgress) BindSession(sessionID, source string) {
	if sessionID == "" || source == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionSource[sessionID] = source
}

func (e *DefaultEgress) Send(ctx context.Context, sessionID string, content string) error {
	e.mu.RLock()
	source, bound := e.sessionSource[sessionID]
	if !bound {
		source = e.defaultRoute
	}
	out, ok := e.adapters[source]
	e.mu.RUnlock()

	if source == "" {
		return polyErrors.InvalidInput("session has no source binding and no default route: " + sessionID)
	}
	if !ok {
		return polyErrors.NotFound("no adapter found for source: " + source)
	}

	if err := out.Send(ctx, sessionID, content); err != nil {
		return polyErrors.Wrap(err, "failed to send to "+source)
	}

	slog.Debug("Outbound message sent", "session", sessionID, "source", source, "content_length", len(content))
	return nil
}

func (e *DefaultEgress) Health(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.adapters) == 0 {
		return polyErrors.Internal("no adapters registered")
	}

	var unhealthy []string
	for name, a := range e.adapters {
		if err := a.Health(ctx); err != nil {
			unhealthy = append(unhealthy, name)
			slog.Warn("Adapter unhealthy", "name", name, "error", err)
		}
	}

	if len(unhealthy) > 0 {
		return polyErrors.Transient(fmt.Sprintf("%d adapter(s) unhealthy: %v", len(unhealthy), unhealthy))
	}

	return nil
}

func (e *DefaultEgress) ListAdapters() []adapter.OutputAdapter {
	e.mu.RLock()
	defer e.mu.RUnlock()

	adapters := make([]adapter.OutputAdapter, 0, len(e.adapters))
	for _, a := range e.adapters {
		adapters = append(adapters, a)
	}
	return adapters
}
