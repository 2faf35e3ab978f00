package policy

import (
	"testing"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotFor(t *testing.T, cfg config.PolicyConfig) *Snapshot {
	t.Helper()
	snap, err := FromConfig(cfg)
	require.NoError(t, err)
	return snap
}

func TestEvaluate_ExactToolRuleWins(t *testing.T) {
	snap := snapshotFor(t, config.PolicyConfig{
		Preset: "permissive",
		ToolRules: []config.ToolRuleConfig{
			{Tool: "exec_command", Decision: "hitl_chat", TimeoutSeconds: 30, TimeoutFallback: "deny"},
		},
	})

	decision, rule := EvaluateSnapshot(snap, "exec_command", "gpt-4o", RiskNone)
	assert.Equal(t, DecisionHITLChat, decision)
	assert.Equal(t, 30*time.Second, rule.Timeout)
	assert.Equal(t, FallbackDeny, rule.TimeoutFallback)
}

func TestEvaluate_ModelOverrideWhenNoToolRule(t *testing.T) {
	snap := snapshotFor(t, config.PolicyConfig{
		Preset: "permissive",
		ModelOverrides: []config.ModelOverrideConfig{
			{Model: "experimental-model", Decision: "aitl"},
		},
	})

	decision, _ := EvaluateSnapshot(snap, "write_file", "experimental-model", RiskNone)
	assert.Equal(t, DecisionAITL, decision)

	// A tool rule still beats the model override.
	snap.ToolRules["write_file"] = Rule{Decision: DecisionAllow, Timeout: time.Minute, TimeoutFallback: FallbackDeny}
	decision, _ = EvaluateSnapshot(snap, "write_file", "experimental-model", RiskNone)
	assert.Equal(t, DecisionAllow, decision)
}

func TestEvaluate_RestrictiveUnknownToolFailsClosed(t *testing.T) {
	snap := snapshotFor(t, config.PolicyConfig{Preset: "restrictive"})

	// run_shell has no explicit rule: it must land on the preset's
	// sensitive-class default, never Allow.
	decision, _ := EvaluateSnapshot(snap, "run_shell", "gpt-4o", RiskNone)
	assert.Equal(t, DecisionHITLPhone, decision)

	decision, _ = EvaluateSnapshot(snap, "some_unknown_tool", "gpt-4o", RiskNone)
	assert.Equal(t, DecisionHITLChat, decision)
}

func TestEvaluate_PureOverSnapshot(t *testing.T) {
	snap := snapshotFor(t, config.PolicyConfig{Preset: "balanced", ContentSafetyEnabled: true})

	first, firstRule := EvaluateSnapshot(snap, "search_query", "gpt-4o", RiskNone)
	second, secondRule := EvaluateSnapshot(snap, "search_query", "gpt-4o", RiskNone)
	assert.Equal(t, first, second)
	assert.Equal(t, firstRule, secondRule)
	assert.Equal(t, DecisionContentFilter, first)
}

func TestEvaluate_ContentFilterDowngradeWhenDisabled(t *testing.T) {
	snap := snapshotFor(t, config.PolicyConfig{Preset: "balanced", ContentSafetyEnabled: false})

	decision, _ := EvaluateSnapshot(snap, "search_query", "gpt-4o", RiskNone)
	assert.Equal(t, DecisionAllow, decision)
}

func TestEvaluate_ElevatedRiskBumpsAllow(t *testing.T) {
	snap := snapshotFor(t, config.PolicyConfig{Preset: "permissive"})

	decision, _ := EvaluateSnapshot(snap, "exec_command", "gpt-4o", RiskElevated)
	assert.Equal(t, DecisionHITLChat, decision)

	// Read-only tools stay allowed even under the hint.
	decision, _ = EvaluateSnapshot(snap, "read_file", "gpt-4o", RiskElevated)
	assert.Equal(t, DecisionAllow, decision)
}

func TestEvaluate_MalformedRuleFailsClosed(t *testing.T) {
	snap := snapshotFor(t, config.PolicyConfig{
		Preset: "permissive",
		ToolRules: []config.ToolRuleConfig{
			{Tool: "exec_command", Decision: "definitely_not_a_decision"},
		},
	})

	decision, rule := EvaluateSnapshot(snap, "exec_command", "gpt-4o", RiskNone)
	assert.Equal(t, DecisionDeny, decision)
	assert.Equal(t, FallbackDeny, rule.TimeoutFallback)
}
