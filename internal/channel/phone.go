package channel

import (
	"context"
	"log/slog"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/gate"
	"github.com/aymenfurter/polyclaw-sub001/internal/voice"
)

// PhoneChannel escalates to a voice call. The voice collaborator drives a
// constrained accept/decline dialogue; its answer comes back through
// ingress keyed by the call handle. If the invocation settles some other
// way first (timeout, cancellation) the call is hung up via the releaser.
type PhoneChannel struct {
	caller voice.Caller
	ledger *gate.Ledger
}

func NewPhoneChannel(caller voice.Caller, ledger *gate.Ledger) *PhoneChannel {
	return &PhoneChannel{caller: caller, ledger: ledger}
}

func (p *PhoneChannel) Name() string {
	return "hitl_phone"
}

func (p *PhoneChannel) Solicit(ctx context.Context, inv *gate.Invocation) error {
	handle, err := p.caller.StartVerificationCall(ctx, inv.Tool, inv.Arguments, inv.SessionID)
	if err != nil {
		return err
	}

	p.ledger.AttachExternalID(inv, "call:"+string(handle))
	inv.SetReleaser(func() {
		hangupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.caller.EndCall(hangupCtx, handle); err != nil {
			slog.Warn("Failed to end verification call", "handle", handle, "error", err)
		}
	})

	slog.Info("Verification call placed",
		"invocation", inv.ID, "tool", inv.Tool, "handle", handle)
	return nil
}
