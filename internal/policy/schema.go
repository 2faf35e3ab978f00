package policy

import (
	"fmt"
	"strings"
	"time"
)

// Decision is the mitigation strategy the policy selects for a tool call.
// It is a closed set, not a numeric scale: each value maps to exactly one
// resolution channel.
type Decision string

const (
	DecisionAllow         Decision = "allow"
	DecisionDeny          Decision = "deny"
	DecisionHITLChat      Decision = "hitl_chat"
	DecisionHITLPhone     Decision = "hitl_phone"
	DecisionAITL          Decision = "aitl"
	DecisionContentFilter Decision = "content_filter"
)

// Terminal reports whether the decision resolves without an approval channel.
func (d Decision) Terminal() bool {
	return d == DecisionAllow || d == DecisionDeny
}

func ParseDecision(s string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionAllow:
		return DecisionAllow, nil
	case DecisionDeny:
		return DecisionDeny, nil
	case DecisionHITLChat:
		return DecisionHITLChat, nil
	case DecisionHITLPhone:
		return DecisionHITLPhone, nil
	case DecisionAITL:
		return DecisionAITL, nil
	case DecisionContentFilter:
		return DecisionContentFilter, nil
	default:
		return "", fmt.Errorf("unknown decision %q", s)
	}
}

// Fallback is what a pending invocation resolves to when its timer fires.
type Fallback string

const (
	FallbackAllow Fallback = "allow"
	FallbackDeny  Fallback = "deny"
)

func ParseFallback(s string) (Fallback, error) {
	switch Fallback(strings.ToLower(strings.TrimSpace(s))) {
	case FallbackAllow:
		return FallbackAllow, nil
	case FallbackDeny, "":
		return FallbackDeny, nil
	default:
		return "", fmt.Errorf("unknown timeout fallback %q", s)
	}
}

// Rule pairs a decision with its timeout behavior. Immutable once built.
type Rule struct {
	Decision        Decision
	Timeout         time.Duration
	TimeoutFallback Fallback
}

type Preset string

const (
	PresetPermissive  Preset = "permissive"
	PresetBalanced    Preset = "balanced"
	PresetRestrictive Preset = "restrictive"
)

func ParsePreset(s string) (Preset, error) {
	switch Preset(strings.ToLower(strings.TrimSpace(s))) {
	case PresetPermissive:
		return PresetPermissive, nil
	case PresetBalanced, "":
		return PresetBalanced, nil
	case PresetRestrictive:
		return PresetRestrictive, nil
	default:
		return "", fmt.Errorf("unknown preset %q", s)
	}
}

// Sensitivity buckets a tool by the blast radius of what it touches.
// Unknown tools classify as sensitive so they fail toward the stricter
// preset defaults.
type Sensitivity string

const (
	SensitivityReadOnly  Sensitivity = "readonly"
	SensitivityNetwork   Sensitivity = "network"
	SensitivityWrite     Sensitivity = "write"
	SensitivityExec      Sensitivity = "exec"
	SensitivityComms     Sensitivity = "comms"
	SensitivitySensitive Sensitivity = "sensitive"
)

func ParseSensitivity(s string) (Sensitivity, error) {
	switch Sensitivity(strings.ToLower(strings.TrimSpace(s))) {
	case SensitivityReadOnly:
		return SensitivityReadOnly, nil
	case SensitivityNetwork:
		return SensitivityNetwork, nil
	case SensitivityWrite:
		return SensitivityWrite, nil
	case SensitivityExec:
		return SensitivityExec, nil
	case SensitivityComms:
		return SensitivityComms, nil
	case SensitivitySensitive:
		return SensitivitySensitive, nil
	default:
		return "", fmt.Errorf("unknown sensitivity %q", s)
	}
}

// Snapshot is one immutable, internally consistent policy configuration.
// The store swaps whole snapshots; readers never observe a partial update.
type Snapshot struct {
	Version              string
	Preset               Preset
	ToolRules            map[string]Rule
	ModelOverrides       map[string]Decision
	Sensitivities        map[string]Sensitivity
	ContentSafetyEnabled bool
	DefaultTimeout       time.Duration
	DefaultFallback      Fallback
}

func NormalizeToolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
