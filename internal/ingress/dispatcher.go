package ingress

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aymenfurter/polyclaw-sub001/internal/concurrency"
	"github.com/aymenfurter/polyclaw-sub001/internal/egress"
	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"
	"github.com/aymenfurter/polyclaw-sub001/internal/gate"
	"github.com/aymenfurter/polyclaw-sub001/internal/policy"
)

// Dispatcher consumes the ingress lanes and drives the gate: approval
// answers resolve pending invocations, tool notices join or open
// invocations, session-end events cancel in bulk. Events for one session
// are handled under that session's lock so an answer and a cancellation
// never interleave.
type Dispatcher struct {
	gate     *gate.Gate
	ingress  *Ingress
	egress   egress.Egress
	sessions *concurrency.SessionLockManager
}

func NewDispatcher(g *gate.Gate, in *Ingress, eg egress.Egress) *Dispatcher {
	return &Dispatcher{gate: g, ingress: in, egress: eg, sessions: concurrency.NewSessionLockManager()}
}

// Run blocks until the context ends or both lanes close.
func (d *Dispatcher) Run(ctx context.Context) {
	approvals := d.ingress.ApprovalQueue()
	notices := d.ingress.NoticeQueue()

	for approvals != nil || notices != nil {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-approvals:
			if !ok {
				approvals = nil
				continue
			}
			d.handleApproval(ctx, evt)
		case evt, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			d.handleNotice(ctx, evt)
		}
	}
}

func (d *Dispatcher) handleApproval(ctx context.Context, evt *Event) {
	d.sessions.Lock(evt.SessionID)
	defer d.sessions.Unlock(evt.SessionID)

	if d.egress != nil {
		d.egress.BindSession(evt.SessionID, evt.Source)
	}

	if evt.Type == TypeSessionEnd {
		cancelled := d.gate.CancelSession(evt.SessionID)
		slog.Info("Session ended", "session", evt.SessionID, "cancelled", cancelled)
		return
	}

	answer, ok := ParseAnswer(evt.Content)
	if !ok {
		slog.Debug("Inbound message is not an approval answer", "id", evt.ID, "session", evt.SessionID)
		return
	}

	targetID := answer.TargetID
	if targetID == "" {
		if handle := evt.Metadata["call_handle"]; handle != "" {
			targetID = "call:" + handle
		}
	}

	resolvedBy := resolverIdentity(evt)

	var err error
	var label string
	if targetID != "" {
		label = targetID
		err = d.gate.Resolve(targetID, answer.Verdict, resolvedBy, "")
	} else {
		// A bare yes/no answers the session's oldest open question directly,
		// whichever channel asked it; not every channel attaches an
		// addressable external id.
		oldest, exists := d.gate.Pending().Oldest(evt.SessionID)
		if !exists {
			d.reply(ctx, evt.SessionID, "No pending approvals in this session.")
			return
		}
		label = oldest.ID
		err = d.gate.Coordinator().ResolveInvocation(oldest, answer.Verdict, resolvedBy, "")
	}

	switch {
	case err == nil:
		if answer.Verdict == gate.VerdictApprove {
			d.reply(ctx, evt.SessionID, "Approved "+label+".")
		} else {
			d.reply(ctx, evt.SessionID, "Denied "+label+".")
		}
	case polyErrors.IsCategory(err, polyErrors.ErrDuplicateResolve):
		d.reply(ctx, evt.SessionID, "That request was already settled.")
	case polyErrors.IsCategory(err, polyErrors.ErrNotFound):
		d.reply(ctx, evt.SessionID, "Unknown approval id "+label+".")
	default:
		slog.Error("Failed to apply approval answer", "target", label, "error", err)
	}
}

func (d *Dispatcher) handleNotice(ctx context.Context, evt *Event) {
	d.sessions.Lock(evt.SessionID)
	defer d.sessions.Unlock(evt.SessionID)

	// No session binding here: notice producers (hooks, the gate itself) are
	// not platforms a prompt can be delivered to. The route stays with the
	// platform the session last spoke from.
	tool := evt.Metadata["tool"]
	if tool == "" {
		slog.Warn("Tool notice without tool name dropped", "id", evt.ID)
		return
	}

	req := gate.Request{
		ExternalID: evt.Metadata["external_id"],
		Tool:       tool,
		Arguments:  json.RawMessage(evt.Content),
		SessionID:  evt.SessionID,
		ModelID:    evt.Metadata["model_id"],
		Origin:     evt.Source,
	}
	if evt.Metadata["risk"] == string(policy.RiskElevated) {
		req.RiskHint = policy.RiskElevated
	}

	// The notice producer does not wait for the verdict; the blocking caller
	// (if any) shares the same ledger record and gets it there.
	concurrency.SafeGo(func() {
		verdict, err := d.gate.Intercept(ctx, req)
		if err != nil {
			slog.Error("Intercept failed for tool notice", "id", evt.ID, "tool", tool, "error", err)
			return
		}
		slog.Debug("Tool notice settled",
			"id", evt.ID, "tool", tool,
			"proceed", verdict.Proceed, "reason", verdict.Reason)
	}, nil)
}

func (d *Dispatcher) reply(ctx context.Context, sessionID, content string) {
	if d.egress == nil {
		return
	}
	if err := d.egress.Send(ctx, sessionID, content); err != nil {
		slog.Debug("Failed to send feedback", "session", sessionID, "error", err)
	}
}

func resolverIdentity(evt *Event) string {
	if evt.Metadata != nil {
		if user := evt.Metadata["user_id"]; user != "" {
			return evt.Source + ":" + user
		}
	}
	return evt.Source
}
