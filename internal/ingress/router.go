package ingress

import (
	"strings"

	"github.com/aymenfurter/polyclaw-sub001/internal/gate"

	"github.com/google/shlex"
)

// Answer is a parsed approval response.
type Answer struct {
	Verdict  gate.Verdict
	TargetID string // empty means "the oldest pending question in this session"
}

// ParseAnswer interprets a chat message as an approval response. Recognized
// forms: "/approve <id>", "/deny <id>", and bare yes/no variants addressed
// to the session's oldest pending question. Anything else is not an answer.
func ParseAnswer(content string) (Answer, bool) {
	text := strings.TrimSpace(content)
	if text == "" {
		return Answer{}, false
	}

	if strings.HasPrefix(text, "/") {
		parts, err := shlex.Split(text)
		if err != nil || len(parts) == 0 {
			return Answer{}, false
		}
		switch strings.ToLower(parts[0]) {
		case "/approve":
			if len(parts) < 2 {
				return Answer{Verdict: gate.VerdictApprove}, true
			}
			return Answer{Verdict: gate.VerdictApprove, TargetID: parts[1]}, true
		case "/deny":
			if len(parts) < 2 {
				return Answer{Verdict: gate.VerdictDeny}, true
			}
			return Answer{Verdict: gate.VerdictDeny, TargetID: parts[1]}, true
		default:
			return Answer{}, false
		}
	}

	switch strings.ToLower(text) {
	case "yes", "y", "approve", "approved", "ok", "lgtm":
		return Answer{Verdict: gate.VerdictApprove}, true
	case "no", "n", "deny", "denied", "reject":
		return Answer{Verdict: gate.VerdictDeny}, true
	default:
		return Answer{}, false
	}
}
