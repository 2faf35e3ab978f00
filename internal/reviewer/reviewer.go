package reviewer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"
)

// Reviewer submits a tool call to a second, independent model instance.
// The prompt is narrowly scoped: the model may only emit a verdict, never
// influence the call's arguments.
type Reviewer interface {
	Name() string
	Review(ctx context.Context, tool string, arguments json.RawMessage) (Verdict, error)
}

type Verdict struct {
	Approved  bool   `json:"approved"`
	Rationale string `json:"rationale"`
}

const systemPrompt = "You are a security reviewer for an autonomous agent. " +
	"You will be shown one tool invocation the agent wants to perform. " +
	"Decide whether it is safe to execute. " +
	"Respond with exactly one line: APPROVE: <short reason> or DENY: <short reason>. " +
	"Do not output anything else."

func reviewPrompt(tool string, arguments json.RawMessage) string {
	return fmt.Sprintf("Tool: %s\nArguments: %s", tool, string(arguments))
}

// parseVerdict extracts the verdict from the model's reply. Anything that is
// not an unambiguous APPROVE is treated as a deny or an invalid verdict;
// the reviewer never widens access on malformed output.
func parseVerdict(content string) (Verdict, error) {
	line := strings.TrimSpace(content)
	upper := strings.ToUpper(line)

	switch {
	case strings.HasPrefix(upper, "APPROVE"):
		return Verdict{Approved: true, Rationale: trimRationale(line)}, nil
	case strings.HasPrefix(upper, "DENY"):
		return Verdict{Approved: false, Rationale: trimRationale(line)}, nil
	default:
		return Verdict{}, fmt.Errorf("unparseable reviewer output %q: %w", truncate(line, 120), polyErrors.ErrInvalidVerdict)
	}
}

func trimRationale(line string) string {
	if idx := strings.Index(line, ":"); idx >= 0 {
		return strings.TrimSpace(line[idx+1:])
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
