package channel

import (
	"context"
	"log/slog"

	"github.com/aymenfurter/polyclaw-sub001/internal/gate"
	"github.com/aymenfurter/polyclaw-sub001/internal/reviewer"
)

// ReviewerChannel submits the invocation to an independent reviewer model.
// A malformed verdict is an error, not a deny: the reviewer must produce an
// unambiguous answer or the channel counts as unreachable and the timeout
// fallback applies.
type ReviewerChannel struct {
	reviewer reviewer.Reviewer
	resolver Resolver
}

func NewReviewerChannel(rev reviewer.Reviewer, resolver Resolver) *ReviewerChannel {
	return &ReviewerChannel{reviewer: rev, resolver: resolver}
}

func (r *ReviewerChannel) Name() string {
	return "aitl"
}

func (r *ReviewerChannel) Solicit(ctx context.Context, inv *gate.Invocation) error {
	verdict, err := r.reviewer.Review(ctx, inv.Tool, inv.Arguments)
	if err != nil {
		return err
	}

	resolvedBy := "aitl:" + r.reviewer.Name()
	if verdict.Approved {
		slog.Info("Reviewer approved invocation",
			"invocation", inv.ID, "tool", inv.Tool, "rationale", verdict.Rationale)
		return r.resolver.ResolveInvocation(inv, gate.VerdictApprove, resolvedBy, "")
	}

	slog.Info("Reviewer denied invocation",
		"invocation", inv.ID, "tool", inv.Tool, "rationale", verdict.Rationale)
	return r.resolver.ResolveInvocation(inv, gate.VerdictDeny, resolvedBy, "human_denied")
}
