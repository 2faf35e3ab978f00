package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aymenfurter/polyclaw-sub001/internal/egress"
	"github.com/aymenfurter/polyclaw-sub001/internal/gate"

	"github.com/google/shlex"
)

// ChatChannel delivers approval questions as chat messages. The answer
// comes back asynchronously through ingress, addressed either by the
// prompt's id or as a bare yes/no against the oldest pending question.
type ChatChannel struct {
	ledger *gate.Ledger
	egress egress.Egress
}

func NewChatChannel(ledger *gate.Ledger, eg egress.Egress) *ChatChannel {
	return &ChatChannel{ledger: ledger, egress: eg}
}

func (c *ChatChannel) Name() string {
	return "hitl_chat"
}

func (c *ChatChannel) Solicit(ctx context.Context, inv *gate.Invocation) error {
	promptID := "gate:" + inv.ID
	c.ledger.AttachExternalID(inv, promptID)

	prompt := buildPrompt(promptID, inv)
	return c.egress.Send(ctx, inv.SessionID, prompt)
}

func buildPrompt(promptID string, inv *gate.Invocation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Approval required [%s]\n", promptID)
	fmt.Fprintf(&b, "Tool: %s%s\n", inv.Tool, commandPreview(inv.Arguments))
	fmt.Fprintf(&b, "Arguments: %s\n", truncate(string(inv.Arguments), 400))
	fmt.Fprintf(&b, "Reply /approve %s or /deny %s, or yes/no for the oldest request.", promptID, promptID)
	return b.String()
}

// commandPreview pulls the program being invoked out of shell-style
// arguments, so the prompt leads with what actually runs.
func commandPreview(arguments json.RawMessage) string {
	var m map[string]interface{}
	if err := json.Unmarshal(arguments, &m); err != nil {
		return ""
	}

	for _, key := range []string{"cmd", "command"} {
		raw, ok := m[key].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		tokens, err := shlex.Split(raw)
		if err != nil || len(tokens) == 0 {
			return fmt.Sprintf(" (%s)", truncate(raw, 60))
		}
		preview := tokens[0]
		if len(tokens) > 1 {
			preview += " " + tokens[1]
		}
		if len(tokens) > 2 {
			preview += " ..."
		}
		return fmt.Sprintf(" (%s)", preview)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
