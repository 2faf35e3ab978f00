package errors

import (
	"errors"
)

// Sentinel errors for the gate's failure taxonomy. Every one of these is
// handled inside the engine and converted into a terminal invocation status;
// none of them escapes to the calling agent loop.
var (
	// ErrDuplicateEvent - duplicate inbound platform event (ignore silently)
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrDuplicateResolve - resolve called on an already-terminal invocation (idempotent no-op, logged)
	ErrDuplicateResolve = errors.New("duplicate resolve")

	// ErrPolicyLookup - malformed or missing policy configuration (fail closed to Deny)
	ErrPolicyLookup = errors.New("policy lookup failure")

	// ErrAdapterUnavailable - approval channel cannot be reached (treated as timeout with configured fallback)
	ErrAdapterUnavailable = errors.New("adapter unavailable")

	// ErrCorrelationAmbiguous - more than one live invocation matched inside the merge window
	ErrCorrelationAmbiguous = errors.New("correlation ambiguous")

	// ErrPermissionDenied - tool call denied by policy or resolver
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidInput - malformed request or event
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrConflict - conflicting registration or concurrent update
	ErrConflict = errors.New("conflict")

	// ErrTransient - transient error, safe to retry
	ErrTransient = errors.New("transient error")

	// ErrInvalidVerdict - reviewer model returned output that is not a verdict
	ErrInvalidVerdict = errors.New("invalid verdict")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
