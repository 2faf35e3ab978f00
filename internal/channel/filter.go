package channel

import (
	"context"
	"log/slog"

	"github.com/aymenfurter/polyclaw-sub001/internal/gate"
	"github.com/aymenfurter/polyclaw-sub001/internal/safety"
)

// FilterChannel runs the arguments through the content safety classifier.
// It resolves synchronously: there is no human to wait for.
type FilterChannel struct {
	classifier safety.Classifier
	resolver   Resolver
}

func NewFilterChannel(classifier safety.Classifier, resolver Resolver) *FilterChannel {
	return &FilterChannel{classifier: classifier, resolver: resolver}
}

func (f *FilterChannel) Name() string {
	return "content_filter"
}

func (f *FilterChannel) Solicit(ctx context.Context, inv *gate.Invocation) error {
	result, err := f.classifier.Classify(ctx, inv.Arguments)
	if err != nil {
		return err
	}

	if result.AttackDetected {
		inv.SetSafetyVerdict("attack_detected")
		slog.Warn("Content safety attack detected",
			"invocation", inv.ID, "tool", inv.Tool, "detail", result.Detail)
		return f.resolver.ResolveInvocation(inv, gate.VerdictDeny, "content_filter", "content_safety")
	}

	inv.SetSafetyVerdict("clean")
	return f.resolver.ResolveInvocation(inv, gate.VerdictApprove, "content_filter", "")
}
