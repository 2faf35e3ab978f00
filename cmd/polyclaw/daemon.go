package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aymenfurter/polyclaw-sub001/internal/daemon"
	"github.com/aymenfurter/polyclaw-sub001/internal/daemon/components"
	"github.com/aymenfurter/polyclaw-sub001/internal/ingress"

	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the approval gate in daemon mode",
	Long:  `Starts the gate as a long-running service using component lifecycle orchestration. It exposes the tool-call hook, the voice callback, and a health endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workspaceID := resolveWorkspaceID(cmd)
		interactive, _ := cmd.Flags().GetBool("interactive")

		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(workspaceID, cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}

		stateComp := components.NewStateComponent(workspaceID, cfg)

		// The ingress component is constructed after the adapters that feed
		// it; the handler captures the variable and late-binds. Adapters only
		// start receiving once everything is initialized.
		var ingressComp *components.IngressComponent
		eventHandler := func(evtCtx context.Context, source string, eventType string, sessionID string, content string, metadata map[string]string) error {
			if ingressComp == nil {
				return fmt.Errorf("ingress not initialized")
			}
			ing := ingressComp.GetIngress()
			if ing == nil {
				return fmt.Errorf("ingress not initialized")
			}

			msgType := ingress.TypeApprovalResponse
			trimmed := strings.TrimSpace(content)
			if trimmed == "/end" || trimmed == "/cancel" {
				msgType = ingress.TypeSessionEnd
			}

			evt := ingress.NewEvent(source, msgType, sessionID, content, metadata)
			return ing.Submit(evtCtx, &evt)
		}

		adaptersComp := components.NewAdaptersComponent(cfg, eventHandler, interactive)
		gateComp := components.NewGateComponent(cfg, stateComp, adaptersComp)
		ingressComp = components.NewIngressComponent(cfg, stateComp, gateComp, adaptersComp)
		sweeperComp := components.NewSweeperComponent(cfg, stateComp, gateComp)
		httpComp := components.NewHTTPServerComponent(daemonMgr, &cfg.Server, ingressComp)

		daemonMgr.AddComponent(stateComp)
		daemonMgr.AddComponent(adaptersComp)
		daemonMgr.AddComponent(gateComp)
		daemonMgr.AddComponent(ingressComp)
		daemonMgr.AddComponent(sweeperComp)
		daemonMgr.AddComponent(httpComp)

		slog.Info("Polyclaw daemon starting up...", "port", cfg.Server.Port, "workspace", workspaceID)
		err = daemonMgr.Start(context.Background())
		if err != nil {
			// Cancellation via signal/context is a graceful shutdown case for CLI.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Polyclaw daemon stopped gracefully", "workspace", workspaceID)
				return nil
			}
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("Polyclaw daemon stopped gracefully", "workspace", workspaceID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringP("workspace", "w", "", "Target workspace ID")
	daemonCmd.Flags().Bool("interactive", false, "Attach the terminal approval channel")
}
