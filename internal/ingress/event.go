package ingress

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	// TypeToolNotice is a tool-call observation from an out-of-band producer
	// (runtime hook, platform webhook). Content carries the JSON arguments.
	TypeToolNotice EventType = "tool_notice"

	// TypeApprovalResponse is a human or collaborator answer to a pending
	// approval question.
	TypeApprovalResponse EventType = "approval_response"

	// TypeSessionEnd tears down a session and cancels its pending work.
	TypeSessionEnd EventType = "session_end"

	// TypeSystemEvent covers everything else (health pings, notices).
	TypeSystemEvent EventType = "system_event"
)

// Event is the normalized form of every inbound signal.
type Event struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"` // "slack", "telegram", "cli", "voice", "hook"
	SessionID string            `json:"session_id"`
	Type      EventType         `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewEvent creates a normalized event with a fresh ULID.
func NewEvent(source string, eventType EventType, sessionID, content string, metadata map[string]string) Event {
	return Event{
		ID:        ulid.Make().String(),
		Source:    source,
		Type:      eventType,
		SessionID: sessionID,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
}

// IdempotencyKey is the dedupe key for an event. Platform adapters put their
// native globally-unique id in metadata["event_id"]; events without one fall
// back to the generated ULID, which never collides.
func (e *Event) IdempotencyKey() string {
	if e.Metadata != nil {
		if id := e.Metadata["event_id"]; id != "" {
			return id
		}
	}
	return fmt.Sprintf("%s:%s", e.Source, e.ID)
}
