package policy

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/config"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"
)

// Store holds the active policy snapshot behind an atomic pointer. Readers
// always see a whole snapshot; Replace swaps the pointer in one step.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore(snap *Snapshot) *Store {
	s := &Store{}
	if snap == nil {
		snap = failClosedSnapshot()
	}
	s.current.Store(snap)
	return s
}

func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

func (s *Store) Replace(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.current.Store(snap)
	slog.Info("Policy snapshot replaced", "version", snap.Version, "preset", snap.Preset,
		"tool_rules", len(snap.ToolRules), "model_overrides", len(snap.ModelOverrides))
}

// failClosedSnapshot is what the store falls back to when no usable
// configuration exists: everything denies.
func failClosedSnapshot() *Snapshot {
	return &Snapshot{
		Version:         ulid.Make().String(),
		Preset:          PresetRestrictive,
		ToolRules:       map[string]Rule{},
		ModelOverrides:  map[string]Decision{},
		Sensitivities:   map[string]Sensitivity{},
		DefaultTimeout:  120 * time.Second,
		DefaultFallback: FallbackDeny,
	}
}

// rulesFile is the standalone YAML rule table format, loadable on top of the
// main configuration.
type rulesFile struct {
	Preset string `yaml:"preset"`
	Tools  []struct {
		Tool            string `yaml:"tool"`
		Decision        string `yaml:"decision"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		TimeoutFallback string `yaml:"timeout_fallback"`
	} `yaml:"tools"`
	Models []struct {
		Model    string `yaml:"model"`
		Decision string `yaml:"decision"`
	} `yaml:"models"`
}

// FromConfig builds a snapshot from the configuration surface. A malformed
// rule never silently widens access: it is replaced with a Deny rule and
// logged, so the failure mode is always closed.
func FromConfig(cfg config.PolicyConfig) (*Snapshot, error) {
	preset, err := ParsePreset(cfg.Preset)
	if err != nil {
		slog.Warn("Invalid policy preset, failing closed to restrictive", "preset", cfg.Preset)
		preset = PresetRestrictive
	}

	defaultTimeout, err := config.DurationOrDefault(cfg.DefaultTimeout, config.DefaultPolicyTimeout)
	if err != nil {
		return nil, fmt.Errorf("policy default_timeout: %w", err)
	}
	defaultFallback, err := ParseFallback(cfg.DefaultTimeoutAction)
	if err != nil {
		slog.Warn("Invalid default timeout action, failing closed to deny", "action", cfg.DefaultTimeoutAction)
		defaultFallback = FallbackDeny
	}

	snap := &Snapshot{
		Version:              ulid.Make().String(),
		Preset:               preset,
		ToolRules:            make(map[string]Rule, len(cfg.ToolRules)),
		ModelOverrides:       make(map[string]Decision, len(cfg.ModelOverrides)),
		Sensitivities:        make(map[string]Sensitivity, len(cfg.SensitivityOverrides)),
		ContentSafetyEnabled: cfg.ContentSafetyEnabled,
		DefaultTimeout:       defaultTimeout,
		DefaultFallback:      defaultFallback,
	}

	for _, tr := range cfg.ToolRules {
		snap.ToolRules[NormalizeToolName(tr.Tool)] = buildRule(tr.Tool, tr.Decision, tr.TimeoutSeconds, tr.TimeoutFallback, defaultTimeout, defaultFallback)
	}

	for _, mo := range cfg.ModelOverrides {
		decision, err := ParseDecision(mo.Decision)
		if err != nil {
			slog.Warn("Invalid model override, failing closed to deny", "model", mo.Model, "error", err)
			decision = DecisionDeny
		}
		snap.ModelOverrides[NormalizeToolName(mo.Model)] = decision
	}

	for tool, raw := range cfg.SensitivityOverrides {
		sensitivity, err := ParseSensitivity(raw)
		if err != nil {
			slog.Warn("Invalid sensitivity override ignored", "tool", tool, "error", err)
			continue
		}
		snap.Sensitivities[NormalizeToolName(tool)] = sensitivity
	}

	if cfg.RulesPath != "" {
		if err := mergeRulesFile(snap, cfg.RulesPath); err != nil {
			return nil, err
		}
	}

	return snap, nil
}

func mergeRulesFile(snap *Snapshot, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse rules file %s: %w", path, err)
	}

	if rf.Preset != "" {
		preset, err := ParsePreset(rf.Preset)
		if err != nil {
			slog.Warn("Invalid preset in rules file, keeping configured preset", "preset", rf.Preset)
		} else {
			snap.Preset = preset
		}
	}

	for _, tr := range rf.Tools {
		snap.ToolRules[NormalizeToolName(tr.Tool)] = buildRule(tr.Tool, tr.Decision, tr.TimeoutSeconds, tr.TimeoutFallback, snap.DefaultTimeout, snap.DefaultFallback)
	}

	for _, mo := range rf.Models {
		decision, err := ParseDecision(mo.Decision)
		if err != nil {
			slog.Warn("Invalid model override in rules file, failing closed to deny", "model", mo.Model, "error", err)
			decision = DecisionDeny
		}
		snap.ModelOverrides[NormalizeToolName(mo.Model)] = decision
	}

	slog.Info("Policy rules file merged", "path", path, "tools", len(rf.Tools), "models", len(rf.Models))
	return nil
}

func buildRule(tool, decision string, timeoutSeconds int, fallback string, defaultTimeout time.Duration, defaultFallback Fallback) Rule {
	d, err := ParseDecision(decision)
	if err != nil {
		slog.Warn("Invalid tool rule, failing closed to deny", "tool", tool, "error", err)
		return Rule{Decision: DecisionDeny, Timeout: defaultTimeout, TimeoutFallback: FallbackDeny}
	}

	timeout := defaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	fb, err := ParseFallback(fallback)
	if err != nil {
		slog.Warn("Invalid timeout fallback, failing closed to deny", "tool", tool, "error", err)
		fb = FallbackDeny
	}

	return Rule{Decision: d, Timeout: timeout, TimeoutFallback: fb}
}
