package main

import (
	"fmt"
	"sort"

	"github.com/aymenfurter/polyclaw-sub001/internal/policy"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the effective policy",
	Long:  `Inspect the effective policy table the gate would apply: per-tool decisions, suspension timeouts, and timeout fallbacks.`,
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	allowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	denyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	gatedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func styleDecision(d policy.Decision) string {
	switch d {
	case policy.DecisionAllow:
		return allowStyle.Render(string(d))
	case policy.DecisionDeny:
		return denyStyle.Render(string(d))
	default:
		return gatedStyle.Render(string(d))
	}
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective policy table",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		snap, err := policy.FromConfig(cfg.Policy)
		if err != nil {
			return fmt.Errorf("failed to build policy snapshot: %w", err)
		}

		fmt.Println(headerStyle.Render("=== Effective Policy ==="))
		fmt.Printf("Preset: %s\n", snap.Preset)
		fmt.Printf("Content Safety: %v\n", snap.ContentSafetyEnabled)
		fmt.Printf("Default Timeout: %s (on timeout: %s)\n", snap.DefaultTimeout, snap.DefaultFallback)

		if len(snap.ToolRules) > 0 {
			fmt.Println()
			fmt.Println(headerStyle.Render("Tool Rules:"))
			tools := make([]string, 0, len(snap.ToolRules))
			for tool := range snap.ToolRules {
				tools = append(tools, tool)
			}
			sort.Strings(tools)
			for _, tool := range tools {
				rule := snap.ToolRules[tool]
				fmt.Printf("  %-24s %-22s timeout=%s fallback=%s\n",
					tool, styleDecision(rule.Decision), rule.Timeout, rule.TimeoutFallback)
			}
		}

		if len(snap.ModelOverrides) > 0 {
			fmt.Println()
			fmt.Println(headerStyle.Render("Model Overrides:"))
			models := make([]string, 0, len(snap.ModelOverrides))
			for model := range snap.ModelOverrides {
				models = append(models, model)
			}
			sort.Strings(models)
			for _, model := range models {
				fmt.Printf("  %-24s %s\n", model, styleDecision(snap.ModelOverrides[model]))
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyShowCmd)
}
