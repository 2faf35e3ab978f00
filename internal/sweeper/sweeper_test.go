package sweeper

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/audit"
	"github.com/aymenfurter/polyclaw-sub001/internal/gate"
	"github.com/aymenfurter/polyclaw-sub001/internal/idempotency"
	"github.com/aymenfurter/polyclaw-sub001/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New(gate.NewLedger(time.Second), nil, "not a schedule", time.Hour)
	assert.Error(t, err)
}

func TestSweep_PrunesSettledInvocations(t *testing.T) {
	ledger := gate.NewLedger(10 * time.Second)
	coordinator := gate.NewCoordinator(ledger, gate.NewPendingSet(), audit.NullSink{})

	inv := ledger.Observe("sdk:tc-1", "read_file", json.RawMessage(`{}`), "sess-1", "m", "sdk")
	coordinator.Begin(inv, policy.DecisionDeny, policy.Rule{Decision: policy.DecisionDeny})

	dedupe, err := idempotency.NewStore(filepath.Join(t.TempDir(), "processed.json"))
	require.NoError(t, err)
	dedupe.CheckAndMark("slack:old", -time.Minute)

	s, err := New(ledger, dedupe, "*/5 * * * *", time.Nanosecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	s.Sweep()

	_, ok := ledger.Find("sdk:tc-1")
	assert.False(t, ok)
}
