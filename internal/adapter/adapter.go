package adapter

import (
	"context"
)

// EventHandler is the callback platform adapters invoke for inbound events.
// Keeping it a function type avoids a circular dependency between the
// adapters and ingress.
type EventHandler func(ctx context.Context, source string, eventType string, sessionID string, content string, metadata map[string]string) error

// InputAdapter receives events (approval answers, session commands) from an
// external platform.
type InputAdapter interface {
	// Name returns the adapter name (e.g. "slack", "telegram", "cli").
	Name() string

	// Start begins listening for events (server or long-poll). Must respect
	// context cancellation.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter.
	Stop(ctx context.Context) error

	// Health checks if the adapter is healthy and connected.
	Health(ctx context.Context) error
}

// OutputAdapter pushes approval prompts and notifications to an external
// platform.
type OutputAdapter interface {
	// Name returns the adapter name.
	Name() string

	// Send sends content to the platform. sessionID maps to the
	// platform-specific identifier (channel ID, chat ID, etc.).
	Send(ctx context.Context, sessionID string, content string) error

	// Health checks if the adapter is healthy and can send messages.
	Health(ctx context.Context) error
}
