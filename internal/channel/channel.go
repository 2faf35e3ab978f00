package channel

import (
	"github.com/aymenfurter/polyclaw-sub001/internal/gate"
)

// Resolver settles a pending invocation. Satisfied by the gate coordinator;
// kept narrow so channel tests can record resolutions in memory.
type Resolver interface {
	ResolveInvocation(inv *gate.Invocation, verdict gate.Verdict, resolvedBy, reason string) error
}
