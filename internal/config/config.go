package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Policy   PolicyConfig   `koanf:"policy"`
	Gate     GateConfig     `koanf:"gate"`
	Adapters AdaptersConfig `koanf:"adapters"`
	Reviewer ReviewerConfig `koanf:"reviewer"`
	Safety   SafetyConfig   `koanf:"safety"`
	Voice    VoiceConfig    `koanf:"voice"`
	Audit    AuditConfig    `koanf:"audit"`
	Ingress  IngressConfig  `koanf:"ingress"`
	Sweeper  SweeperConfig  `koanf:"sweeper"`
	Daemon   DaemonConfig   `koanf:"daemon"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

// PolicyConfig is the configuration surface for the policy table. It is
// consumed, not owned: the policy store turns it into an immutable snapshot.
type PolicyConfig struct {
	Preset               string                `koanf:"preset"`
	RulesPath            string                `koanf:"rules_path"`
	ContentSafetyEnabled bool                  `koanf:"content_safety_enabled"`
	DefaultTimeout       string                `koanf:"default_timeout"`
	DefaultTimeoutAction string                `koanf:"default_timeout_action"`
	ToolRules            []ToolRuleConfig      `koanf:"tool_rules"`
	ModelOverrides       []ModelOverrideConfig `koanf:"model_overrides"`
	SensitivityOverrides map[string]string     `koanf:"sensitivity_overrides"`
}

type ToolRuleConfig struct {
	Tool            string `koanf:"tool"`
	Decision        string `koanf:"decision"`
	TimeoutSeconds  int    `koanf:"timeout_seconds"`
	TimeoutFallback string `koanf:"timeout_fallback"`
}

type ModelOverrideConfig struct {
	Model    string `koanf:"model"`
	Decision string `koanf:"decision"`
}

type GateConfig struct {
	MergeWindow     string `koanf:"merge_window"`
	LedgerRetention string `koanf:"ledger_retention"`
}

type AdaptersConfig struct {
	Slack    SlackConfig    `koanf:"slack"`
	Telegram TelegramConfig `koanf:"telegram"`
}

type SlackConfig struct {
	Enabled       bool   `koanf:"enabled"`
	Port          int    `koanf:"port"`
	SigningSecret string `koanf:"signing_secret"`
	BotToken      string `koanf:"bot_token"`
}

type TelegramConfig struct {
	Enabled       bool   `koanf:"enabled"`
	BotToken      string `koanf:"bot_token"`
	UpdateTimeout int    `koanf:"update_timeout"`
}

type ReviewerConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`
	Timeout  string `koanf:"timeout"`
}

type SafetyConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

type VoiceConfig struct {
	BaseURL     string `koanf:"base_url"`
	RingTimeout string `koanf:"ring_timeout"`
	CallTimeout string `koanf:"call_timeout"`
}

type AuditConfig struct {
	Enabled        bool     `koanf:"enabled"`
	RedactPatterns []string `koanf:"redact_patterns"`
}

type IngressConfig struct {
	QueueSize      int    `koanf:"queue_size"`
	SubmitTimeout  string `koanf:"submit_timeout"`
	IdempotencyTTL string `koanf:"idempotency_ttl"`
	DrainTimeout   string `koanf:"drain_timeout"`
}

type SweeperConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Schedule string `koanf:"schedule"`
}

type DaemonConfig struct {
	ShutdownTimeout     string `koanf:"shutdown_timeout"`
	HealthCheckInterval string `koanf:"health_check_interval"`
	WorkspacePath       string `koanf:"workspace_path"`
}

const (
	DefaultWorkspaceID          = "default"
	DefaultServerPort           = 8080
	DefaultServerLogLevel       = "info"
	DefaultServerShutdownTime   = "5s"
	DefaultPolicyPreset         = "balanced"
	DefaultPolicyTimeout        = "120s"
	DefaultPolicyTimeoutAction  = "deny"
	DefaultGateMergeWindow      = "10s"
	DefaultGateLedgerRetention  = "1h"
	DefaultReviewerProvider     = "openai"
	DefaultReviewerModel        = "gpt-4o-mini"
	DefaultReviewerTimeout      = "60s"
	DefaultSafetyTimeout        = "5s"
	DefaultVoiceRingTimeout     = "30s"
	DefaultVoiceCallTimeout     = "180s"
	DefaultIngressQueueSize     = 256
	DefaultIngressSubmitTimeout = "500ms"
	DefaultIdempotencyTTL       = "24h"
	DefaultIngressDrainTimeout  = "5s"
	DefaultSweeperSchedule      = "*/5 * * * *"
	DefaultSlackPort            = 3000
	DefaultTelegramUpdateTime   = 60
	DefaultDaemonShutdownTime   = "30s"
	DefaultDaemonHealthInterval = "30s"
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                      DefaultServerPort,
		"server.log_level":                 DefaultServerLogLevel,
		"server.shutdown_timeout":          DefaultServerShutdownTime,
		"policy.preset":                    DefaultPolicyPreset,
		"policy.content_safety_enabled":    true,
		"policy.default_timeout":           DefaultPolicyTimeout,
		"policy.default_timeout_action":    DefaultPolicyTimeoutAction,
		"gate.merge_window":                DefaultGateMergeWindow,
		"gate.ledger_retention":            DefaultGateLedgerRetention,
		"adapters.slack.port":              DefaultSlackPort,
		"adapters.telegram.update_timeout": DefaultTelegramUpdateTime,
		"reviewer.provider":                DefaultReviewerProvider,
		"reviewer.model":                   DefaultReviewerModel,
		"reviewer.timeout":                 DefaultReviewerTimeout,
		"safety.timeout":                   DefaultSafetyTimeout,
		"voice.ring_timeout":               DefaultVoiceRingTimeout,
		"voice.call_timeout":               DefaultVoiceCallTimeout,
		"audit.enabled":                    true,
		"ingress.queue_size":               DefaultIngressQueueSize,
		"ingress.submit_timeout":           DefaultIngressSubmitTimeout,
		"ingress.idempotency_ttl":          DefaultIdempotencyTTL,
		"ingress.drain_timeout":            DefaultIngressDrainTimeout,
		"sweeper.enabled":                  true,
		"sweeper.schedule":                 DefaultSweeperSchedule,
		"daemon.shutdown_timeout":          DefaultDaemonShutdownTime,
		"daemon.health_check_interval":     DefaultDaemonHealthInterval,
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	// Config file: --config flag, else $HOME/.polyclaw/config.yaml
	cfgPath := ""
	if cmd != nil {
		cfgPath, _ = cmd.Flags().GetString("config")
	}
	if cfgPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".polyclaw", "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath != "" {
		if err := k.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
			return nil, err
		}
		slog.Debug("Config file loaded", "path", cfgPath)
	}

	// Environment: POLYCLAW_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("POLYCLAW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "POLYCLAW_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	// Flags take precedence over everything.
	if cmd != nil {
		if err := k.Load(posflag.Provider(cmd.Flags(), ".", k), nil); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
