package gate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_ExactExternalIDWins(t *testing.T) {
	l := NewLedger(10 * time.Second)

	first := l.Observe("sdk:tc-1", "read_file", json.RawMessage(`{"path":"a"}`), "sess-1", "m", "sdk")
	again := l.Observe("sdk:tc-1", "read_file", json.RawMessage(`{"path":"a"}`), "sess-1", "m", "sdk")

	assert.Same(t, first, again)
}

func TestLedger_MergesCompositeMatchAcrossProducers(t *testing.T) {
	l := NewLedger(10 * time.Second)

	args := json.RawMessage(`{"cmd":"ls"}`)
	fromSDK := l.Observe("sdk:tc-1", "run_shell", args, "sess-1", "m", "sdk")
	fromHook := l.Observe("gate:ev-9", "run_shell", args, "sess-1", "m", "hook")

	require.Same(t, fromSDK, fromHook)

	byHookID, ok := l.Find("gate:ev-9")
	require.True(t, ok)
	assert.Same(t, fromSDK, byHookID)
	assert.ElementsMatch(t, []string{"sdk:tc-1", "gate:ev-9"}, fromSDK.ExternalIDs())
}

func TestLedger_NeverMergesWithinOneNamespace(t *testing.T) {
	l := NewLedger(10 * time.Second)

	args := json.RawMessage(`{"cmd":"ls"}`)
	first := l.Observe("sdk:tc-1", "run_shell", args, "sess-1", "m", "sdk")
	second := l.Observe("sdk:tc-2", "run_shell", args, "sess-1", "m", "sdk")

	assert.NotSame(t, first, second)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestLedger_NoMergeAcrossSessions(t *testing.T) {
	l := NewLedger(10 * time.Second)

	args := json.RawMessage(`{"cmd":"ls"}`)
	first := l.Observe("sdk:tc-1", "run_shell", args, "sess-1", "m", "sdk")
	second := l.Observe("gate:ev-1", "run_shell", args, "sess-2", "m", "hook")

	assert.NotSame(t, first, second)
}

func TestLedger_NoMergeOutsideWindow(t *testing.T) {
	l := NewLedger(time.Millisecond)

	args := json.RawMessage(`{"cmd":"ls"}`)
	first := l.Observe("sdk:tc-1", "run_shell", args, "sess-1", "m", "sdk")
	time.Sleep(5 * time.Millisecond)
	second := l.Observe("gate:ev-1", "run_shell", args, "sess-1", "m", "hook")

	assert.NotSame(t, first, second)
}

func TestLedger_ArgumentWhitespaceIsInsignificant(t *testing.T) {
	l := NewLedger(10 * time.Second)

	first := l.Observe("sdk:tc-1", "Run_Shell", json.RawMessage("  {\"cmd\":\"ls\"}\n"), "sess-1", "m", "sdk")
	second := l.Observe("gate:ev-1", "run_shell", json.RawMessage(`{"cmd":"ls"}`), "sess-1", "m", "hook")

	assert.Same(t, first, second)
}

func TestLedger_AmbiguousMatchPrefersLatest(t *testing.T) {
	l := NewLedger(10 * time.Second)

	args := json.RawMessage(`{"cmd":"ls"}`)
	l.Observe("sdk:tc-1", "run_shell", args, "sess-1", "m", "sdk")
	time.Sleep(2 * time.Millisecond)
	second := l.Observe("sdk:tc-2", "run_shell", args, "sess-1", "m", "sdk")

	merged := l.Observe("gate:ev-1", "run_shell", args, "sess-1", "m", "hook")
	assert.Same(t, second, merged)
}

func TestLedger_AttachExternalID(t *testing.T) {
	l := NewLedger(10 * time.Second)

	inv := l.Observe("gate:ev-1", "deploy_service", json.RawMessage(`{}`), "sess-1", "m", "hook")
	require.True(t, l.AttachExternalID(inv, "call:handle-7"))

	found, ok := l.Find("call:handle-7")
	require.True(t, ok)
	assert.Same(t, inv, found)

	// A second id from the same producer is a distinct call, not an alias.
	assert.False(t, l.AttachExternalID(inv, "call:handle-8"))
}

func TestLedger_PruneTerminalDropsResolvedRecords(t *testing.T) {
	l := NewLedger(10 * time.Second)

	done := l.Observe("sdk:tc-1", "read_file", json.RawMessage(`{"path":"a"}`), "sess-1", "m", "sdk")
	live := l.Observe("sdk:tc-2", "run_shell", json.RawMessage(`{"cmd":"ls"}`), "sess-1", "m", "sdk")

	done.mu.Lock()
	done.status = StatusExecuted
	done.resolvedAt = time.Now().Add(-2 * time.Hour)
	done.mu.Unlock()

	assert.Equal(t, 1, l.PruneTerminal(time.Hour))

	_, ok := l.Find("sdk:tc-1")
	assert.False(t, ok)
	kept, ok := l.Find("sdk:tc-2")
	require.True(t, ok)
	assert.Same(t, live, kept)
}
