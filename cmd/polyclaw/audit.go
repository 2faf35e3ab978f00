package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/audit"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit log",
	Long:  `Query the workspace audit log of settled tool-call invocations. Filterable by session, tool, terminal status, and time window.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		workspaceID := resolveWorkspaceID(cmd)
		sessionID, _ := cmd.Flags().GetString("session")
		tool, _ := cmd.Flags().GetString("tool")
		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetString("since")
		asJSON, _ := cmd.Flags().GetBool("json")

		sink, err := audit.NewFileSink(workspaceID, cfg.Daemon.WorkspacePath, true, nil)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}

		filter := &audit.Filter{SessionID: sessionID, Tool: tool, Status: status}
		if since != "" {
			d, err := time.ParseDuration(since)
			if err != nil {
				return fmt.Errorf("invalid --since duration: %w", err)
			}
			filter.StartTime = time.Now().Add(-d)
		}

		records, err := sink.Query(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("failed to query audit log: %w", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		if len(records) == 0 {
			fmt.Println("No audit records match.")
			return nil
		}

		for _, rec := range records {
			fmt.Printf("%s  %-22s %-12s %-12s session=%s",
				rec.Timestamp.Format(time.RFC3339), rec.Tool, rec.Decision, rec.Status, rec.SessionID)
			if rec.ResolvedBy != "" {
				fmt.Printf(" by=%s", rec.ResolvedBy)
			}
			if rec.Reason != "" {
				fmt.Printf(" reason=%s", rec.Reason)
			}
			fmt.Println()
		}
		fmt.Printf("\n%d record(s)\n", len(records))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	auditCmd.Flags().String("session", "", "Filter by session ID")
	auditCmd.Flags().String("tool", "", "Filter by tool name")
	auditCmd.Flags().String("status", "", "Filter by terminal status")
	auditCmd.Flags().String("since", "", "Only records newer than this duration (e.g. 24h)")
	auditCmd.Flags().Bool("json", false, "Emit records as JSON")
}
