package channel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/adapter"
	"github.com/aymenfurter/polyclaw-sub001/internal/egress"
	"github.com/aymenfurter/polyclaw-sub001/internal/gate"
	"github.com/aymenfurter/polyclaw-sub001/internal/reviewer"
	"github.com/aymenfurter/polyclaw-sub001/internal/safety"
	"github.com/aymenfurter/polyclaw-sub001/internal/voice"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedResolve struct {
	inv        *gate.Invocation
	verdict    gate.Verdict
	resolvedBy string
	reason     string
}

type fakeResolver struct {
	mu       sync.Mutex
	resolves []capturedResolve
}

func (r *fakeResolver) ResolveInvocation(inv *gate.Invocation, verdict gate.Verdict, resolvedBy, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolves = append(r.resolves, capturedResolve{inv, verdict, resolvedBy, reason})
	return nil
}

func (r *fakeResolver) last(t *testing.T) capturedResolve {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.resolves)
	return r.resolves[len(r.resolves)-1]
}

type captureAdapter struct {
	mu   sync.Mutex
	name string
	sent []string
}

func (a *captureAdapter) Name() string { return a.name }

func (a *captureAdapter) Send(_ context.Context, _ string, content string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, content)
	return nil
}

func (a *captureAdapter) Health(context.Context) error { return nil }

var _ adapter.OutputAdapter = (*captureAdapter)(nil)

func newInvocationForTest(t *testing.T, ledger *gate.Ledger, tool string, args string) *gate.Invocation {
	t.Helper()
	return ledger.Observe("sdk:tc-1", tool, json.RawMessage(args), "sess-1", "model-x", "sdk")
}

func TestChatChannel_PromptCarriesAddressableID(t *testing.T) {
	ledger := gate.NewLedger(10 * time.Second)
	out := &captureAdapter{name: "cli"}
	eg := egress.NewEgress("cli")
	require.NoError(t, eg.Register(out))

	inv := newInvocationForTest(t, ledger, "run_shell", `{"cmd":"git status --short"}`)

	chat := NewChatChannel(ledger, eg)
	require.NoError(t, chat.Solicit(context.Background(), inv))

	require.Len(t, out.sent, 1)
	prompt := out.sent[0]
	assert.Contains(t, prompt, "gate:"+inv.ID)
	assert.Contains(t, prompt, "run_shell")
	assert.Contains(t, prompt, "git status")

	// The prompt id must be resolvable back to the same invocation.
	found, ok := ledger.Find("gate:" + inv.ID)
	require.True(t, ok)
	assert.Same(t, inv, found)
}

func TestChatChannel_NonShellArgumentsStillPrompt(t *testing.T) {
	ledger := gate.NewLedger(10 * time.Second)
	out := &captureAdapter{name: "cli"}
	eg := egress.NewEgress("cli")
	require.NoError(t, eg.Register(out))

	inv := newInvocationForTest(t, ledger, "send_email", `{"to":"ops@example.com"}`)

	chat := NewChatChannel(ledger, eg)
	require.NoError(t, chat.Solicit(context.Background(), inv))

	require.Len(t, out.sent, 1)
	assert.Contains(t, out.sent[0], "send_email")
	assert.Contains(t, out.sent[0], "ops@example.com")
}

type fakeCaller struct {
	mu      sync.Mutex
	handle  voice.CallHandle
	err     error
	started int
	ended   []voice.CallHandle
}

func (c *fakeCaller) StartVerificationCall(context.Context, string, json.RawMessage, string) (voice.CallHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	return c.handle, c.err
}

func (c *fakeCaller) EndCall(_ context.Context, handle voice.CallHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = append(c.ended, handle)
	return nil
}

func TestPhoneChannel_AttachesCallHandle(t *testing.T) {
	ledger := gate.NewLedger(10 * time.Second)
	caller := &fakeCaller{handle: "h-77"}
	inv := newInvocationForTest(t, ledger, "deploy_service", `{"env":"prod"}`)

	phone := NewPhoneChannel(caller, ledger)
	require.NoError(t, phone.Solicit(context.Background(), inv))

	found, ok := ledger.Find("call:h-77")
	require.True(t, ok)
	assert.Same(t, inv, found)
}

func TestPhoneChannel_EstablishFailurePropagates(t *testing.T) {
	ledger := gate.NewLedger(10 * time.Second)
	caller := &fakeCaller{err: assert.AnError}
	inv := newInvocationForTest(t, ledger, "deploy_service", `{}`)

	phone := NewPhoneChannel(caller, ledger)
	err := phone.Solicit(context.Background(), inv)
	assert.ErrorIs(t, err, assert.AnError)

	_, ok := ledger.Find("call:")
	assert.False(t, ok)
}

type fakeReviewer struct {
	verdict reviewer.Verdict
	err     error
}

func (r *fakeReviewer) Name() string { return "fake" }

func (r *fakeReviewer) Review(context.Context, string, json.RawMessage) (reviewer.Verdict, error) {
	return r.verdict, r.err
}

func TestReviewerChannel_ApproveResolves(t *testing.T) {
	ledger := gate.NewLedger(10 * time.Second)
	resolver := &fakeResolver{}
	inv := newInvocationForTest(t, ledger, "write_file", `{"path":"a"}`)

	ch := NewReviewerChannel(&fakeReviewer{verdict: reviewer.Verdict{Approved: true, Rationale: "routine edit"}}, resolver)
	require.NoError(t, ch.Solicit(context.Background(), inv))

	got := resolver.last(t)
	assert.Equal(t, gate.VerdictApprove, got.verdict)
	assert.Equal(t, "aitl:fake", got.resolvedBy)
}

func TestReviewerChannel_DenyResolves(t *testing.T) {
	ledger := gate.NewLedger(10 * time.Second)
	resolver := &fakeResolver{}
	inv := newInvocationForTest(t, ledger, "write_file", `{"path":"/etc/passwd"}`)

	ch := NewReviewerChannel(&fakeReviewer{verdict: reviewer.Verdict{Approved: false, Rationale: "system file"}}, resolver)
	require.NoError(t, ch.Solicit(context.Background(), inv))

	got := resolver.last(t)
	assert.Equal(t, gate.VerdictDeny, got.verdict)
	assert.Equal(t, "human_denied", got.reason)
}

func TestReviewerChannel_ErrorPropagatesWithoutResolving(t *testing.T) {
	ledger := gate.NewLedger(10 * time.Second)
	resolver := &fakeResolver{}
	inv := newInvocationForTest(t, ledger, "write_file", `{}`)

	ch := NewReviewerChannel(&fakeReviewer{err: assert.AnError}, resolver)
	err := ch.Solicit(context.Background(), inv)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, resolver.resolves)
}

func TestFilterChannel_AttackDenies(t *testing.T) {
	ledger := gate.NewLedger(10 * time.Second)
	resolver := &fakeResolver{}
	inv := newInvocationForTest(t, ledger, "fetch", `{"url":"http://evil"}`)

	ch := NewFilterChannel(&safety.StaticClassifier{
		Result: safety.Result{AttackDetected: true, Detail: "prompt injection"},
	}, resolver)
	require.NoError(t, ch.Solicit(context.Background(), inv))

	got := resolver.last(t)
	assert.Equal(t, gate.VerdictDeny, got.verdict)
	assert.Equal(t, "content_safety", got.reason)
	assert.Equal(t, "attack_detected", inv.SafetyVerdict())
}

func TestFilterChannel_CleanApproves(t *testing.T) {
	ledger := gate.NewLedger(10 * time.Second)
	resolver := &fakeResolver{}
	inv := newInvocationForTest(t, ledger, "fetch", `{"url":"http://docs"}`)

	ch := NewFilterChannel(&safety.StaticClassifier{}, resolver)
	require.NoError(t, ch.Solicit(context.Background(), inv))

	got := resolver.last(t)
	assert.Equal(t, gate.VerdictApprove, got.verdict)
	assert.Equal(t, "clean", inv.SafetyVerdict())
}

func TestFilterChannel_ClassifierErrorPropagates(t *testing.T) {
	ledger := gate.NewLedger(10 * time.Second)
	resolver := &fakeResolver{}
	inv := newInvocationForTest(t, ledger, "fetch", `{}`)

	ch := NewFilterChannel(&safety.StaticClassifier{Err: assert.AnError}, resolver)
	err := ch.Solicit(context.Background(), inv)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, resolver.resolves)
}
