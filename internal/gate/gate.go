package gate

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aymenfurter/polyclaw-sub001/internal/audit"
	"github.com/aymenfurter/polyclaw-sub001/internal/concurrency"
	"github.com/aymenfurter/polyclaw-sub001/internal/policy"
)

// Solicitor delivers the approval question for a pending invocation to its
// resolution channel and arranges for a later Resolve. A returned error
// means the channel could not be reached at all; the gate then applies the
// invocation's timeout fallback immediately.
type Solicitor interface {
	Name() string
	Solicit(ctx context.Context, inv *Invocation) error
}

// Request is one observed tool-call attempt from any producer.
type Request struct {
	ExternalID string
	Tool       string
	Arguments  json.RawMessage
	SessionID  string
	ModelID    string
	Origin     string
	RiskHint   policy.RiskHint
}

// ExecutionVerdict is the gate's answer to "may this call run".
type ExecutionVerdict struct {
	Proceed bool
	Reason  string
}

// Gate sits between the agent loop and tool execution. Intercept blocks the
// calling goroutine until policy, an approval channel, a timeout, or caller
// cancellation settles the invocation.
type Gate struct {
	engine      *policy.Engine
	ledger      *Ledger
	pending     *PendingSet
	coordinator *Coordinator
	solicitors  map[policy.Decision]Solicitor
}

func New(engine *policy.Engine, ledger *Ledger, pending *PendingSet, sink audit.Sink) *Gate {
	return &Gate{
		engine:      engine,
		ledger:      ledger,
		pending:     pending,
		coordinator: NewCoordinator(ledger, pending, sink),
		solicitors:  make(map[policy.Decision]Solicitor),
	}
}

// RegisterSolicitor binds an approval channel to the decision it serves.
func (g *Gate) RegisterSolicitor(decision policy.Decision, s Solicitor) {
	g.solicitors[decision] = s
}

func (g *Gate) Ledger() *Ledger           { return g.ledger }
func (g *Gate) Pending() *PendingSet      { return g.pending }
func (g *Gate) Coordinator() *Coordinator { return g.coordinator }

// Intercept evaluates one tool-call attempt and blocks until it settles.
// Observing the same logical call twice (same id, or a matching composite
// inside the merge window) joins the existing invocation instead of
// evaluating it again.
func (g *Gate) Intercept(ctx context.Context, req Request) (ExecutionVerdict, error) {
	inv := g.ledger.Observe(req.ExternalID, req.Tool, req.Arguments, req.SessionID, req.ModelID, req.Origin)

	if inv.Status() == StatusProposed {
		decision, rule := g.engine.Evaluate(inv.Tool, inv.ModelID, req.RiskHint)
		slog.Debug("Policy evaluated",
			"invocation", inv.ID, "tool", inv.Tool,
			"model", inv.ModelID, "decision", decision)

		if g.coordinator.Begin(inv, decision, rule) && inv.Status() == StatusPending {
			g.solicit(ctx, inv, decision)
		}
	}

	select {
	case <-inv.Done():
		return g.verdictFor(inv), nil
	case <-ctx.Done():
		g.coordinator.transition(inv, StatusCancelled, "caller", "cancelled")
		<-inv.Done()
		return g.verdictFor(inv), nil
	}
}

func (g *Gate) solicit(ctx context.Context, inv *Invocation, decision policy.Decision) {
	s, ok := g.solicitors[decision]
	if !ok {
		slog.Error("No channel registered for decision", "decision", decision, "invocation", inv.ID)
		g.coordinator.Expire(inv, "timeout")
		return
	}

	concurrency.SafeGo(func() {
		if err := s.Solicit(ctx, inv); err != nil {
			slog.Warn("Approval channel unreachable",
				"channel", s.Name(), "invocation", inv.ID, "error", err)
			g.coordinator.Expire(inv, "timeout")
		}
	}, func(interface{}) {
		g.coordinator.Expire(inv, "timeout")
	})
}

func (g *Gate) verdictFor(inv *Invocation) ExecutionVerdict {
	switch inv.Status() {
	case StatusAllowed, StatusApproved, StatusExecuted:
		return ExecutionVerdict{Proceed: true}
	case StatusTimedOut:
		if inv.Rule.TimeoutFallback == policy.FallbackAllow {
			return ExecutionVerdict{Proceed: true, Reason: "timeout"}
		}
		return ExecutionVerdict{Proceed: false, Reason: "timeout"}
	case StatusCancelled:
		return ExecutionVerdict{Proceed: false, Reason: "cancelled"}
	default:
		reason := inv.Reason()
		if reason == "" {
			reason = "policy"
		}
		return ExecutionVerdict{Proceed: false, Reason: reason}
	}
}

// Resolve routes an approval answer from any inbound channel.
func (g *Gate) Resolve(externalID string, verdict Verdict, resolvedBy, reason string) error {
	return g.coordinator.Resolve(externalID, verdict, resolvedBy, reason)
}

// CancelSession tears down every pending invocation of a session.
func (g *Gate) CancelSession(sessionID string) int {
	return g.coordinator.CancelSession(sessionID)
}

// ReportOutcome records how an approved call actually went.
func (g *Gate) ReportOutcome(externalID string, execErr error) error {
	return g.coordinator.MarkExecuted(externalID, execErr)
}
