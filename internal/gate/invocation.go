package gate

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/policy"

	"github.com/oklog/ulid/v2"
)

// Status is an invocation's position in the approval state machine.
// Transitions are monotonic: once a terminal status is reached, nothing
// moves the invocation again.
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusEvaluated Status = "evaluated"
	StatusAllowed   Status = "allowed"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusDenied, StatusTimedOut, StatusCancelled, StatusExecuted, StatusFailed:
		return true
	default:
		return false
	}
}

// Resolved reports whether the approval question has been answered; the
// invocation may still move to Executed/Failed afterwards.
func (s Status) Resolved() bool {
	switch s {
	case StatusAllowed, StatusApproved, StatusDenied, StatusTimedOut, StatusCancelled, StatusExecuted, StatusFailed:
		return true
	default:
		return false
	}
}

type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictDeny    Verdict = "deny"
)

// Invocation is the engine's canonical record of one logical tool-call
// attempt. It may be referenced by several external ids from independent
// producers; the ledger guarantees there is only ever one record.
type Invocation struct {
	ID        string
	Tool      string
	Arguments json.RawMessage
	SessionID string
	ModelID   string
	Origin    string
	Seq       uint64
	CreatedAt time.Time

	Decision policy.Decision
	Rule     policy.Rule

	mu          sync.Mutex
	externalIDs map[string]struct{}
	status      Status
	resolvedAt  time.Time
	resolvedBy  string
	reason      string
	safety      string
	timer       *time.Timer
	release     func()
	done        chan struct{}
}

func newInvocation(tool string, arguments json.RawMessage, sessionID, modelID, origin string, seq uint64) *Invocation {
	return &Invocation{
		ID:          ulid.Make().String(),
		Tool:        policy.NormalizeToolName(tool),
		Arguments:   arguments,
		SessionID:   sessionID,
		ModelID:     modelID,
		Origin:      origin,
		Seq:         seq,
		CreatedAt:   time.Now(),
		externalIDs: make(map[string]struct{}),
		status:      StatusProposed,
		done:        make(chan struct{}),
	}
}

// Done is closed exactly once, when the approval question is answered.
func (inv *Invocation) Done() <-chan struct{} {
	return inv.done
}

func (inv *Invocation) Status() Status {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.status
}

func (inv *Invocation) ResolvedBy() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.resolvedBy
}

func (inv *Invocation) Reason() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.reason
}

func (inv *Invocation) SafetyVerdict() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.safety
}

func (inv *Invocation) SetSafetyVerdict(v string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.safety = v
}

// SetReleaser registers a hook that frees adapter-held resources (for
// example an in-progress phone call). It runs at most once, when the
// invocation leaves Pending.
func (inv *Invocation) SetReleaser(fn func()) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.release = fn
}

func (inv *Invocation) ExternalIDs() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	ids := make([]string, 0, len(inv.externalIDs))
	for id := range inv.externalIDs {
		ids = append(ids, id)
	}
	return ids
}

// Namespace is the producer prefix of an external id ("sdk", "gate",
// "call"). Independent producers never collide by construction; the
// namespace is what lets the ledger refuse false merges.
func Namespace(externalID string) string {
	if idx := strings.Index(externalID, ":"); idx > 0 {
		return externalID[:idx]
	}
	return ""
}

// addExternalID records another producer's name for this invocation. It
// refuses a second id from a namespace the invocation already holds: that
// is a distinct logical call, not a retry.
func (inv *Invocation) addExternalID(externalID string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if _, ok := inv.externalIDs[externalID]; ok {
		return true
	}

	ns := Namespace(externalID)
	if ns != "" {
		for existing := range inv.externalIDs {
			if Namespace(existing) == ns {
				return false
			}
		}
	}

	inv.externalIDs[externalID] = struct{}{}
	return true
}

func (inv *Invocation) hasNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for existing := range inv.externalIDs {
		if Namespace(existing) == ns {
			return true
		}
	}
	return false
}
