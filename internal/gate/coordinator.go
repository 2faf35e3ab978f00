package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/audit"
	"github.com/aymenfurter/polyclaw-sub001/internal/concurrency"
	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"
	"github.com/aymenfurter/polyclaw-sub001/internal/policy"
)

// Coordinator owns every status transition after policy evaluation. All
// resolution paths (approval, denial, timeout, cancellation, adapter
// failure) funnel through a single compare-and-swap, so racing resolvers
// cannot double-resolve an invocation and `done` closes exactly once.
type Coordinator struct {
	ledger  *Ledger
	pending *PendingSet
	sink    audit.Sink
}

func NewCoordinator(ledger *Ledger, pending *PendingSet, sink audit.Sink) *Coordinator {
	if sink == nil {
		sink = audit.NullSink{}
	}
	return &Coordinator{
		ledger:  ledger,
		pending: pending,
		sink:    sink,
	}
}

// Begin moves a freshly evaluated invocation out of Proposed. Terminal
// policy decisions resolve immediately; everything else parks the
// invocation as Pending with its timeout armed. Returns false when another
// caller already moved the invocation, so concurrent observers of the same
// logical call evaluate and solicit at most once.
func (c *Coordinator) Begin(inv *Invocation, decision policy.Decision, rule policy.Rule) bool {
	inv.mu.Lock()
	if inv.status != StatusProposed {
		inv.mu.Unlock()
		return false
	}
	inv.Decision = decision
	inv.Rule = rule
	inv.status = StatusEvaluated
	inv.mu.Unlock()

	switch decision {
	case policy.DecisionAllow:
		c.transition(inv, StatusAllowed, "policy", "")
	case policy.DecisionDeny:
		c.transition(inv, StatusDenied, "policy", "policy")
	default:
		c.park(inv, rule)
	}
	return true
}

func (c *Coordinator) park(inv *Invocation, rule policy.Rule) {
	timeout := rule.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	inv.mu.Lock()
	inv.status = StatusPending
	inv.timer = time.AfterFunc(timeout, func() {
		c.expire(inv, "timeout")
	})
	inv.mu.Unlock()

	c.pending.Add(inv)
	slog.Info("Invocation pending approval",
		"invocation", inv.ID, "tool", inv.Tool,
		"session", inv.SessionID, "decision", inv.Decision, "timeout", timeout)
}

// Resolve answers a pending invocation found by any of its external ids.
// A resolve arriving after the invocation already settled is an idempotent
// no-op reported as ErrDuplicateResolve.
func (c *Coordinator) Resolve(externalID string, verdict Verdict, resolvedBy, reason string) error {
	inv, ok := c.ledger.Find(externalID)
	if !ok {
		return polyErrors.NotFound(fmt.Sprintf("no invocation for id %q", externalID))
	}
	return c.ResolveInvocation(inv, verdict, resolvedBy, reason)
}

// ResolveInvocation is Resolve for callers that already hold the record.
func (c *Coordinator) ResolveInvocation(inv *Invocation, verdict Verdict, resolvedBy, reason string) error {
	target := StatusApproved
	if verdict == VerdictDeny {
		target = StatusDenied
		if reason == "" {
			reason = "human_denied"
		}
	}

	if !c.transition(inv, target, resolvedBy, reason) {
		slog.Info("Late resolve ignored",
			"invocation", inv.ID, "verdict", verdict,
			"resolved_by", resolvedBy, "status", inv.Status())
		return polyErrors.ErrDuplicateResolve
	}
	return nil
}

// Expire settles an invocation whose approval channel failed to deliver the
// question. The configured timeout fallback applies immediately rather than
// waiting for a timer nobody can answer.
func (c *Coordinator) Expire(inv *Invocation, reason string) {
	c.expire(inv, reason)
}

func (c *Coordinator) expire(inv *Invocation, reason string) {
	if c.transition(inv, StatusTimedOut, "timer", reason) {
		slog.Warn("Invocation expired",
			"invocation", inv.ID, "tool", inv.Tool,
			"session", inv.SessionID, "reason", reason,
			"fallback", inv.Rule.TimeoutFallback)
	}
}

// CancelSession settles every pending invocation of a session as Cancelled.
// Adapter-held resources (phone calls in progress) are released via each
// invocation's releaser.
func (c *Coordinator) CancelSession(sessionID string) int {
	drained := c.ledger.SessionInvocations(sessionID)
	cancelled := 0
	for _, inv := range drained {
		if c.transition(inv, StatusCancelled, "session", "cancelled") {
			cancelled++
		}
	}
	c.pending.Drain(sessionID)

	if cancelled > 0 {
		slog.Info("Session invocations cancelled", "session", sessionID, "count", cancelled)
	}
	return cancelled
}

// MarkExecuted records the outcome of an invocation the gate let through.
// This is bookkeeping only: the audit record was already emitted at
// resolution, and a failed execution is never retried from here.
func (c *Coordinator) MarkExecuted(externalID string, execErr error) error {
	inv, ok := c.ledger.Find(externalID)
	if !ok {
		return polyErrors.NotFound(fmt.Sprintf("no invocation for id %q", externalID))
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.status != StatusAllowed && inv.status != StatusApproved {
		return polyErrors.Wrap(polyErrors.ErrConflict, fmt.Sprintf("invocation %s is %s, not executable", inv.ID, inv.status))
	}

	if execErr != nil {
		inv.status = StatusFailed
		inv.reason = execErr.Error()
		slog.Warn("Tool execution failed", "invocation", inv.ID, "tool", inv.Tool, "error", execErr)
	} else {
		inv.status = StatusExecuted
	}
	return nil
}

// transition is the single CAS on invocation status. The first caller to
// move the invocation into a resolved state wins: it stops the timer, runs
// the releaser, closes `done`, removes the pending entry, and emits the
// one audit record. Every later caller gets false.
func (c *Coordinator) transition(inv *Invocation, to Status, resolvedBy, reason string) bool {
	inv.mu.Lock()
	if inv.status.Resolved() {
		inv.mu.Unlock()
		return false
	}

	wasPending := inv.status == StatusPending
	inv.status = to
	inv.resolvedAt = time.Now()
	inv.resolvedBy = resolvedBy
	inv.reason = reason
	if inv.timer != nil {
		inv.timer.Stop()
		inv.timer = nil
	}
	release := inv.release
	inv.release = nil
	close(inv.done)
	inv.mu.Unlock()

	if wasPending {
		c.pending.Remove(inv)
	}
	if release != nil {
		concurrency.SafeGo(release, nil)
	}
	c.emit(inv)
	return true
}

func (c *Coordinator) emit(inv *Invocation) {
	rec := c.buildRecord(inv)
	concurrency.SafeGo(func() {
		if err := c.sink.Emit(context.Background(), rec); err != nil {
			slog.Error("Failed to emit audit record", "invocation", rec.InvocationID, "error", err)
		}
	}, nil)
}

func (c *Coordinator) buildRecord(inv *Invocation) *audit.Record {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	return &audit.Record{
		Timestamp:     inv.resolvedAt,
		InvocationID:  inv.ID,
		ExternalIDs:   externalIDsLocked(inv),
		SessionID:     inv.SessionID,
		ModelID:       inv.ModelID,
		Tool:          inv.Tool,
		Arguments:     inv.Arguments,
		Decision:      string(inv.Decision),
		Status:        string(inv.status),
		Reason:        inv.reason,
		ResolvedBy:    inv.resolvedBy,
		SafetyVerdict: inv.safety,
		Duration:      inv.resolvedAt.Sub(inv.CreatedAt),
	}
}

func externalIDsLocked(inv *Invocation) []string {
	ids := make([]string, 0, len(inv.externalIDs))
	for id := range inv.externalIDs {
		ids = append(ids, id)
	}
	return ids
}
