package ingress

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/audit"
	"github.com/aymenfurter/polyclaw-sub001/internal/channel"
	"github.com/aymenfurter/polyclaw-sub001/internal/egress"
	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"
	"github.com/aymenfurter/polyclaw-sub001/internal/gate"
	"github.com/aymenfurter/polyclaw-sub001/internal/idempotency"
	"github.com/aymenfurter/polyclaw-sub001/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnswer(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    Answer
		ok      bool
	}{
		{"approve with id", "/approve gate:01ABC", Answer{Verdict: gate.VerdictApprove, TargetID: "gate:01ABC"}, true},
		{"deny with id", "/deny gate:01ABC", Answer{Verdict: gate.VerdictDeny, TargetID: "gate:01ABC"}, true},
		{"approve without id", "/approve", Answer{Verdict: gate.VerdictApprove}, true},
		{"bare yes", "yes", Answer{Verdict: gate.VerdictApprove}, true},
		{"bare Y", "Y", Answer{Verdict: gate.VerdictApprove}, true},
		{"bare no", "no", Answer{Verdict: gate.VerdictDeny}, true},
		{"lgtm", "LGTM", Answer{Verdict: gate.VerdictApprove}, true},
		{"unrelated chatter", "what is this about", Answer{}, false},
		{"unknown command", "/status", Answer{}, false},
		{"empty", "   ", Answer{}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseAnswer(tc.content)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestIngress_DuplicateEventsRejected(t *testing.T) {
	dedupe, err := idempotency.NewStore(filepath.Join(t.TempDir(), "processed.json"))
	require.NoError(t, err)

	in := NewIngress(8, RuntimeConfig{}, dedupe)

	evt := NewEvent("slack", TypeApprovalResponse, "sess-1", "yes", map[string]string{"event_id": "slack:C1:123.456"})
	require.NoError(t, in.Submit(context.Background(), &evt))

	replay := evt
	err = in.Submit(context.Background(), &replay)
	assert.ErrorIs(t, err, polyErrors.ErrDuplicateEvent)
}

func TestIngress_NoticeBackpressureDropsNewest(t *testing.T) {
	in := NewIngress(1, RuntimeConfig{SubmitTimeout: 10 * time.Millisecond}, nil)

	first := NewEvent("hook", TypeToolNotice, "sess-1", `{}`, nil)
	require.NoError(t, in.Submit(context.Background(), &first))

	second := NewEvent("hook", TypeToolNotice, "sess-1", `{}`, nil)
	err := in.Submit(context.Background(), &second)
	assert.ErrorIs(t, err, polyErrors.ErrTransient)
}

type memoryOutput struct {
	mu   sync.Mutex
	sent []string
}

func (m *memoryOutput) Name() string { return "cli" }

func (m *memoryOutput) Send(_ context.Context, _ string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, content)
	return nil
}

func (m *memoryOutput) Health(context.Context) error { return nil }

func (m *memoryOutput) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func newApprovalFixture(t *testing.T) (*gate.Gate, *Ingress, *Dispatcher, *memoryOutput) {
	t.Helper()

	snap := &policy.Snapshot{
		Preset: policy.PresetPermissive,
		ToolRules: map[string]policy.Rule{
			"run_shell":  {Decision: policy.DecisionHITLChat, Timeout: time.Minute, TimeoutFallback: policy.FallbackDeny},
			"place_call": {Decision: policy.DecisionHITLPhone, Timeout: time.Minute, TimeoutFallback: policy.FallbackDeny},
		},
		ModelOverrides:  map[string]policy.Decision{},
		Sensitivities:   map[string]policy.Sensitivity{},
		DefaultTimeout:  time.Minute,
		DefaultFallback: policy.FallbackDeny,
	}

	ledger := gate.NewLedger(10 * time.Second)
	g := gate.New(policy.NewEngine(policy.NewStore(snap)), ledger, gate.NewPendingSet(), audit.NullSink{})

	out := &memoryOutput{}
	eg := egress.NewEgress("cli")
	require.NoError(t, eg.Register(out))
	g.RegisterSolicitor(policy.DecisionHITLChat, channel.NewChatChannel(ledger, eg))

	in := NewIngress(8, RuntimeConfig{}, nil)
	d := NewDispatcher(g, in, eg)
	return g, in, d, out
}

func TestDispatcher_ApprovalAnswerUnblocksIntercept(t *testing.T) {
	g, in, d, out := newApprovalFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	verdicts := make(chan gate.ExecutionVerdict, 1)
	go func() {
		v, _ := g.Intercept(ctx, gate.Request{
			ExternalID: "sdk:tc-1",
			Tool:       "run_shell",
			Arguments:  json.RawMessage(`{"cmd":"ls"}`),
			SessionID:  "sess-1",
		})
		verdicts <- v
	}()

	// Wait for the prompt, then answer against the oldest pending question.
	require.Eventually(t, func() bool { return out.count() >= 1 }, time.Second, 5*time.Millisecond)

	evt := NewEvent("cli", TypeApprovalResponse, "sess-1", "yes", map[string]string{"user_id": "alice"})
	require.NoError(t, in.Submit(ctx, &evt))

	select {
	case v := <-verdicts:
		assert.True(t, v.Proceed)
	case <-time.After(time.Second):
		t.Fatal("intercept never unblocked")
	}

	inv, ok := g.Ledger().Find("sdk:tc-1")
	require.True(t, ok)
	assert.Equal(t, gate.StatusApproved, inv.Status())
	assert.Equal(t, "cli:alice", inv.ResolvedBy())
}

func TestDispatcher_SessionEndCancelsPending(t *testing.T) {
	g, in, d, out := newApprovalFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	verdicts := make(chan gate.ExecutionVerdict, 1)
	go func() {
		v, _ := g.Intercept(ctx, gate.Request{
			ExternalID: "sdk:tc-1",
			Tool:       "run_shell",
			Arguments:  json.RawMessage(`{"cmd":"ls"}`),
			SessionID:  "sess-1",
		})
		verdicts <- v
	}()

	require.Eventually(t, func() bool { return out.count() >= 1 }, time.Second, 5*time.Millisecond)

	evt := NewEvent("cli", TypeSessionEnd, "sess-1", "", nil)
	require.NoError(t, in.Submit(ctx, &evt))

	select {
	case v := <-verdicts:
		assert.False(t, v.Proceed)
		assert.Equal(t, "cancelled", v.Reason)
	case <-time.After(time.Second):
		t.Fatal("intercept never unblocked")
	}
}

func TestDispatcher_AnswerWithNoPendingGetsFeedback(t *testing.T) {
	_, in, d, out := newApprovalFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	evt := NewEvent("cli", TypeApprovalResponse, "sess-1", "yes", nil)
	require.NoError(t, in.Submit(ctx, &evt))

	require.Eventually(t, func() bool { return out.count() >= 1 }, time.Second, 5*time.Millisecond)
	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Contains(t, out.sent[0], "No pending approvals")
}

func TestDispatcher_ToolNoticeOpensInvocation(t *testing.T) {
	g, in, d, _ := newApprovalFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	evt := NewEvent("hook", TypeToolNotice, "sess-1", `{"cmd":"ls"}`, map[string]string{
		"tool":        "run_shell",
		"external_id": "hook:ev-1",
	})
	require.NoError(t, in.Submit(ctx, &evt))

	require.Eventually(t, func() bool {
		inv, ok := g.Ledger().Find("hook:ev-1")
		return ok && inv.Status() == gate.StatusPending
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_ToolNoticeKeepsSessionRoute(t *testing.T) {
	g, in, d, out := newApprovalFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// The session spoke from its chat platform first; that binds the route.
	hello := NewEvent("cli", TypeApprovalResponse, "sess-1", "hello there", nil)
	require.NoError(t, in.Submit(ctx, &hello))

	// The notice producer is not a platform. Its prompt must still reach the
	// chat platform, and the invocation must stay pending instead of falling
	// through to the timeout fallback.
	evt := NewEvent("hook", TypeToolNotice, "sess-1", `{"cmd":"ls"}`, map[string]string{
		"tool":        "run_shell",
		"external_id": "hook:ev-9",
	})
	require.NoError(t, in.Submit(ctx, &evt))

	require.Eventually(t, func() bool { return out.count() >= 1 }, time.Second, 5*time.Millisecond)
	out.mu.Lock()
	prompt := out.sent[len(out.sent)-1]
	out.mu.Unlock()
	assert.Contains(t, prompt, "Approval required")

	inv, ok := g.Ledger().Find("hook:ev-9")
	require.True(t, ok)
	assert.Equal(t, gate.StatusPending, inv.Status())
}

// handleSolicitor parks the invocation under a call-style external id and
// never prompts, like the phone channel does.
type handleSolicitor struct {
	ledger *gate.Ledger
}

func (s handleSolicitor) Name() string { return "hitl_phone" }

func (s handleSolicitor) Solicit(ctx context.Context, inv *gate.Invocation) error {
	s.ledger.AttachExternalID(inv, "call:h-9")
	return nil
}

func TestDispatcher_BareAnswerResolvesNonChatPending(t *testing.T) {
	g, in, d, _ := newApprovalFixture(t)
	g.RegisterSolicitor(policy.DecisionHITLPhone, handleSolicitor{ledger: g.Ledger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	verdicts := make(chan gate.ExecutionVerdict, 1)
	go func() {
		v, _ := g.Intercept(ctx, gate.Request{
			ExternalID: "sdk:tc-7",
			Tool:       "place_call",
			Arguments:  json.RawMessage(`{"number":"+15550100"}`),
			SessionID:  "sess-1",
		})
		verdicts <- v
	}()

	require.Eventually(t, func() bool {
		_, exists := g.Pending().Oldest("sess-1")
		return exists
	}, time.Second, 5*time.Millisecond)

	// A bare yes carries no id; it must still land on the oldest pending
	// question even though no chat-style id was ever attached.
	evt := NewEvent("cli", TypeApprovalResponse, "sess-1", "yes", map[string]string{"user_id": "bob"})
	require.NoError(t, in.Submit(ctx, &evt))

	select {
	case v := <-verdicts:
		assert.True(t, v.Proceed)
	case <-time.After(time.Second):
		t.Fatal("intercept never unblocked")
	}

	inv, ok := g.Ledger().Find("sdk:tc-7")
	require.True(t, ok)
	assert.Equal(t, gate.StatusApproved, inv.Status())
	assert.Equal(t, "cli:bob", inv.ResolvedBy())
}
