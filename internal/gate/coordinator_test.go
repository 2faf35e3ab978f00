package gate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/audit"
	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"
	"github.com/aymenfurter/polyclaw-sub001/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures audit records in memory. Emission is asynchronous,
// so assertions poll via Eventually.
type recordingSink struct {
	mu      sync.Mutex
	records []*audit.Record
}

func (s *recordingSink) Emit(_ context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) Query(_ context.Context, _ *audit.Filter) ([]*audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*audit.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func newTestCoordinator() (*Coordinator, *Ledger, *PendingSet, *recordingSink) {
	ledger := NewLedger(10 * time.Second)
	pending := NewPendingSet()
	sink := &recordingSink{}
	return NewCoordinator(ledger, pending, sink), ledger, pending, sink
}

func pendingRule(timeout time.Duration, fallback policy.Fallback) policy.Rule {
	return policy.Rule{Decision: policy.DecisionHITLChat, Timeout: timeout, TimeoutFallback: fallback}
}

func TestCoordinator_BeginAllowResolvesImmediately(t *testing.T) {
	c, ledger, _, sink := newTestCoordinator()

	inv := ledger.Observe("sdk:tc-1", "read_file", json.RawMessage(`{}`), "sess-1", "m", "sdk")
	c.Begin(inv, policy.DecisionAllow, policy.Rule{Decision: policy.DecisionAllow})

	select {
	case <-inv.Done():
	default:
		t.Fatal("done channel should be closed")
	}
	assert.Equal(t, StatusAllowed, inv.Status())

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	records, _ := sink.Query(context.Background(), nil)
	assert.Equal(t, "allowed", records[0].Status)
	assert.Equal(t, "policy", records[0].ResolvedBy)
}

func TestCoordinator_BeginDenyFailsClosed(t *testing.T) {
	c, ledger, _, sink := newTestCoordinator()

	inv := ledger.Observe("sdk:tc-1", "drop_table", json.RawMessage(`{}`), "sess-1", "m", "sdk")
	c.Begin(inv, policy.DecisionDeny, policy.Rule{Decision: policy.DecisionDeny})

	assert.Equal(t, StatusDenied, inv.Status())
	assert.Equal(t, "policy", inv.Reason())

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCoordinator_ResolveApprove(t *testing.T) {
	c, ledger, pending, _ := newTestCoordinator()

	inv := ledger.Observe("sdk:tc-1", "run_shell", json.RawMessage(`{}`), "sess-1", "m", "sdk")
	c.Begin(inv, policy.DecisionHITLChat, pendingRule(time.Minute, policy.FallbackDeny))
	assert.Equal(t, StatusPending, inv.Status())
	assert.Equal(t, 1, pending.Len("sess-1"))

	require.NoError(t, c.Resolve("sdk:tc-1", VerdictApprove, "user:alice", ""))
	assert.Equal(t, StatusApproved, inv.Status())
	assert.Equal(t, "user:alice", inv.ResolvedBy())
	assert.Equal(t, 0, pending.Len("sess-1"))
}

func TestCoordinator_DuplicateResolveIsNoOp(t *testing.T) {
	c, ledger, _, sink := newTestCoordinator()

	inv := ledger.Observe("sdk:tc-1", "run_shell", json.RawMessage(`{}`), "sess-1", "m", "sdk")
	c.Begin(inv, policy.DecisionHITLChat, pendingRule(time.Minute, policy.FallbackDeny))

	require.NoError(t, c.Resolve("sdk:tc-1", VerdictApprove, "user:alice", ""))
	err := c.Resolve("sdk:tc-1", VerdictDeny, "user:bob", "")
	assert.ErrorIs(t, err, polyErrors.ErrDuplicateResolve)

	// First answer stands.
	assert.Equal(t, StatusApproved, inv.Status())
	assert.Equal(t, "user:alice", inv.ResolvedBy())

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

func TestCoordinator_TimerExpiresPendingInvocation(t *testing.T) {
	c, ledger, pending, sink := newTestCoordinator()

	inv := ledger.Observe("sdk:tc-1", "run_shell", json.RawMessage(`{}`), "sess-1", "m", "sdk")
	c.Begin(inv, policy.DecisionHITLChat, pendingRule(10*time.Millisecond, policy.FallbackDeny))

	select {
	case <-inv.Done():
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}

	assert.Equal(t, StatusTimedOut, inv.Status())
	assert.Equal(t, "timeout", inv.Reason())
	assert.Equal(t, 0, pending.Len("sess-1"))

	// A resolve arriving after expiry loses the race and changes nothing.
	err := c.Resolve("sdk:tc-1", VerdictApprove, "user:alice", "")
	assert.ErrorIs(t, err, polyErrors.ErrDuplicateResolve)
	assert.Equal(t, StatusTimedOut, inv.Status())

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

func TestCoordinator_ResolveBeatsTimer(t *testing.T) {
	c, ledger, _, sink := newTestCoordinator()

	inv := ledger.Observe("sdk:tc-1", "run_shell", json.RawMessage(`{}`), "sess-1", "m", "sdk")
	c.Begin(inv, policy.DecisionHITLChat, pendingRule(30*time.Millisecond, policy.FallbackDeny))

	require.NoError(t, c.Resolve("sdk:tc-1", VerdictApprove, "user:alice", ""))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StatusApproved, inv.Status())
	assert.Equal(t, 1, sink.count())
}

func TestCoordinator_CancelSession(t *testing.T) {
	c, ledger, pending, _ := newTestCoordinator()

	one := ledger.Observe("sdk:tc-1", "run_shell", json.RawMessage(`{"n":1}`), "sess-1", "m", "sdk")
	two := ledger.Observe("sdk:tc-2", "run_shell", json.RawMessage(`{"n":2}`), "sess-1", "m", "sdk")
	other := ledger.Observe("sdk:tc-3", "run_shell", json.RawMessage(`{"n":3}`), "sess-2", "m", "sdk")

	rule := pendingRule(time.Minute, policy.FallbackDeny)
	c.Begin(one, policy.DecisionHITLChat, rule)
	c.Begin(two, policy.DecisionHITLChat, rule)
	c.Begin(other, policy.DecisionHITLChat, rule)

	assert.Equal(t, 2, c.CancelSession("sess-1"))

	assert.Equal(t, StatusCancelled, one.Status())
	assert.Equal(t, StatusCancelled, two.Status())
	assert.Equal(t, StatusPending, other.Status())
	assert.Equal(t, 0, pending.Len("sess-1"))
	assert.Equal(t, 1, pending.Len("sess-2"))
}

func TestCoordinator_ReleaserRunsExactlyOnce(t *testing.T) {
	c, ledger, _, _ := newTestCoordinator()

	inv := ledger.Observe("sdk:tc-1", "run_shell", json.RawMessage(`{}`), "sess-1", "m", "sdk")
	c.Begin(inv, policy.DecisionHITLPhone, policy.Rule{Decision: policy.DecisionHITLPhone, Timeout: 20 * time.Millisecond, TimeoutFallback: policy.FallbackDeny})

	var mu sync.Mutex
	released := 0
	inv.SetReleaser(func() {
		mu.Lock()
		released++
		mu.Unlock()
	})

	require.NoError(t, c.Resolve("sdk:tc-1", VerdictDeny, "user:alice", ""))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, released)
}

func TestCoordinator_MarkExecuted(t *testing.T) {
	c, ledger, _, sink := newTestCoordinator()

	inv := ledger.Observe("sdk:tc-1", "read_file", json.RawMessage(`{}`), "sess-1", "m", "sdk")
	c.Begin(inv, policy.DecisionAllow, policy.Rule{Decision: policy.DecisionAllow})

	require.NoError(t, c.MarkExecuted("sdk:tc-1", nil))
	assert.Equal(t, StatusExecuted, inv.Status())

	// Outcome bookkeeping never produces a second audit record.
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

func TestCoordinator_MarkExecutedFailure(t *testing.T) {
	c, ledger, _, _ := newTestCoordinator()

	inv := ledger.Observe("sdk:tc-1", "run_shell", json.RawMessage(`{}`), "sess-1", "m", "sdk")
	c.Begin(inv, policy.DecisionHITLChat, pendingRule(time.Minute, policy.FallbackDeny))
	require.NoError(t, c.Resolve("sdk:tc-1", VerdictApprove, "user:alice", ""))

	require.NoError(t, c.MarkExecuted("sdk:tc-1", assert.AnError))
	assert.Equal(t, StatusFailed, inv.Status())

	err := c.MarkExecuted("sdk:tc-1", nil)
	assert.ErrorIs(t, err, polyErrors.ErrConflict)
}

func TestCoordinator_HITLResolveReason(t *testing.T) {
	c, ledger, _, _ := newTestCoordinator()

	inv := ledger.Observe("sdk:tc-1", "send_email", json.RawMessage(`{}`), "sess-1", "m", "sdk")
	c.Begin(inv, policy.DecisionHITLChat, pendingRule(time.Minute, policy.FallbackDeny))

	require.NoError(t, c.Resolve("sdk:tc-1", VerdictDeny, "user:alice", ""))
	assert.Equal(t, "human_denied", inv.Reason())
}
