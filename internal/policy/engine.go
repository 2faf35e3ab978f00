package policy

import (
	"log/slog"
)

// RiskHint is an optional caller-supplied signal about the session.
type RiskHint string

const (
	RiskNone     RiskHint = ""
	RiskElevated RiskHint = "elevated"
)

// builtinSensitivities classifies the tools the runtime ships with. Tools
// absent from this table and from the snapshot overrides are sensitive, so
// unknown names always land on the stricter preset defaults.
var builtinSensitivities = map[string]Sensitivity{
	"read_file":    SensitivityReadOnly,
	"list_dir":     SensitivityReadOnly,
	"time":         SensitivityReadOnly,
	"search_query": SensitivityNetwork,
	"open":         SensitivityNetwork,
	"fetch":        SensitivityNetwork,
	"write_file":   SensitivityWrite,
	"apply_patch":  SensitivityWrite,
	"exec_command": SensitivityExec,
	"run_shell":    SensitivityExec,
	"write_stdin":  SensitivityExec,
	"send_message": SensitivityComms,
	"send_email":   SensitivityComms,
}

// presetDefaults maps a sensitivity class to its decision under each preset.
// A class missing from a preset table resolves to Deny (global fail-closed
// default).
var presetDefaults = map[Preset]map[Sensitivity]Decision{
	PresetPermissive: {
		SensitivityReadOnly:  DecisionAllow,
		SensitivityNetwork:   DecisionAllow,
		SensitivityWrite:     DecisionAllow,
		SensitivityExec:      DecisionAllow,
		SensitivityComms:     DecisionAllow,
		SensitivitySensitive: DecisionAllow,
	},
	PresetBalanced: {
		SensitivityReadOnly:  DecisionAllow,
		SensitivityNetwork:   DecisionContentFilter,
		SensitivityWrite:     DecisionAITL,
		SensitivityExec:      DecisionHITLChat,
		SensitivityComms:     DecisionHITLChat,
		SensitivitySensitive: DecisionAITL,
	},
	PresetRestrictive: {
		SensitivityReadOnly:  DecisionAllow,
		SensitivityNetwork:   DecisionHITLChat,
		SensitivityWrite:     DecisionHITLChat,
		SensitivityExec:      DecisionHITLPhone,
		SensitivityComms:     DecisionHITLChat,
		SensitivitySensitive: DecisionHITLChat,
	},
}

// Engine resolves a mitigation decision for an invocation context. Evaluate
// is a pure function of the current snapshot: no side effects, no suspension.
type Engine struct {
	store *Store
}

func NewEngine(store *Store) *Engine {
	return &Engine{store: store}
}

// Evaluate resolves the decision and rule for a tool call. Resolution order,
// most specific wins: exact per-tool rule, per-model override, preset default
// for the tool's sensitivity class, global Deny.
func (e *Engine) Evaluate(tool, modelID string, hint RiskHint) (Decision, Rule) {
	snap := e.store.Snapshot()
	return EvaluateSnapshot(snap, tool, modelID, hint)
}

// EvaluateSnapshot is the pure lookup over one snapshot. Exposed so tests
// can pin a snapshot and assert determinism.
func EvaluateSnapshot(snap *Snapshot, tool, modelID string, hint RiskHint) (Decision, Rule) {
	name := NormalizeToolName(tool)

	if rule, ok := snap.ToolRules[name]; ok {
		return rule.Decision, rule
	}

	if decision, ok := snap.ModelOverrides[NormalizeToolName(modelID)]; ok {
		return decision, synthesizeRule(snap, decision)
	}

	class, ok := snap.Sensitivities[name]
	if !ok {
		class, ok = builtinSensitivities[name]
		if !ok {
			class = SensitivitySensitive
		}
	}

	decision, ok := presetDefaults[snap.Preset][class]
	if !ok {
		// No rule applies anywhere: fail closed.
		decision = DecisionDeny
	}

	if decision == DecisionContentFilter && !snap.ContentSafetyEnabled {
		slog.Debug("Content safety disabled, downgrading filter decision", "tool", name)
		decision = DecisionAllow
	}

	if hint == RiskElevated && decision == DecisionAllow && class != SensitivityReadOnly {
		decision = DecisionHITLChat
	}

	return decision, synthesizeRule(snap, decision)
}

func synthesizeRule(snap *Snapshot, decision Decision) Rule {
	return Rule{
		Decision:        decision,
		Timeout:         snap.DefaultTimeout,
		TimeoutFallback: snap.DefaultFallback,
	}
}
