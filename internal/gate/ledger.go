package gate

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"
	"github.com/aymenfurter/polyclaw-sub001/internal/policy"
)

// Ledger reconciles invocation identifiers produced by independent,
// loosely-synchronized event sources onto single logical invocations.
// Matching precedence: exact external id, then (tool, arguments) within the
// same session inside the merge window, else a new record. It never trusts
// a single id space.
type Ledger struct {
	mu          sync.Mutex
	byExternal  map[string]*Invocation
	byID        map[string]*Invocation
	bySession   map[string][]*Invocation
	seq         map[string]uint64
	mergeWindow time.Duration
}

func NewLedger(mergeWindow time.Duration) *Ledger {
	if mergeWindow <= 0 {
		mergeWindow = 10 * time.Second
	}
	return &Ledger{
		byExternal:  make(map[string]*Invocation),
		byID:        make(map[string]*Invocation),
		bySession:   make(map[string][]*Invocation),
		seq:         make(map[string]uint64),
		mergeWindow: mergeWindow,
	}
}

// Observe maps an external id onto its logical invocation, creating the
// record when no live candidate matches. Calling it any number of times,
// in any order, with any producer's id for the same logical call yields the
// same record.
func (l *Ledger) Observe(externalID, tool string, arguments json.RawMessage, sessionID, modelID, origin string) *Invocation {
	l.mu.Lock()
	defer l.mu.Unlock()

	if externalID != "" {
		if inv, ok := l.byExternal[externalID]; ok {
			return inv
		}
	}

	if inv := l.matchCompositeLocked(externalID, tool, arguments, sessionID); inv != nil {
		if externalID != "" && inv.addExternalID(externalID) {
			l.byExternal[externalID] = inv
			slog.Debug("External id merged onto invocation", "invocation", inv.ID, "external_id", externalID)
			return inv
		}
		if externalID == "" {
			return inv
		}
		// Same namespace already present: a second concurrent call with
		// identical tool and arguments, not a retry. Fall through to a
		// fresh record.
	}

	l.seq[sessionID]++
	inv := newInvocation(tool, arguments, sessionID, modelID, origin, l.seq[sessionID])
	if externalID != "" {
		inv.addExternalID(externalID)
		l.byExternal[externalID] = inv
	}
	l.byID[inv.ID] = inv
	l.bySession[sessionID] = append(l.bySession[sessionID], inv)

	slog.Debug("Invocation created", "invocation", inv.ID, "tool", inv.Tool, "session", sessionID, "external_id", externalID)
	return inv
}

func (l *Ledger) matchCompositeLocked(externalID, tool string, arguments json.RawMessage, sessionID string) *Invocation {
	ns := Namespace(externalID)
	cutoff := time.Now().Add(-l.mergeWindow)

	var candidates []*Invocation
	for _, inv := range l.bySession[sessionID] {
		if inv.Status().Terminal() {
			continue
		}
		if inv.CreatedAt.Before(cutoff) {
			continue
		}
		if inv.Tool != policy.NormalizeToolName(tool) {
			continue
		}
		if !bytes.Equal(normalizeArgs(inv.Arguments), normalizeArgs(arguments)) {
			continue
		}
		if inv.hasNamespace(ns) {
			continue
		}
		candidates = append(candidates, inv)
	}

	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) > 1 {
		// Two plausible matches inside the window. Prefer the most
		// recently created candidate; log, never crash.
		slog.Warn("Ambiguous invocation correlation",
			"session", sessionID, "tool", tool,
			"candidates", len(candidates),
			"category", polyErrors.Category(polyErrors.ErrCorrelationAmbiguous))
	}

	latest := candidates[0]
	for _, c := range candidates[1:] {
		if c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	return latest
}

// AttachExternalID binds an adapter-produced id (for example a phone call
// handle) to an existing invocation.
func (l *Ledger) AttachExternalID(inv *Invocation, externalID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !inv.addExternalID(externalID) {
		return false
	}
	l.byExternal[externalID] = inv
	return true
}

// Find looks an invocation up by any of its external ids.
func (l *Ledger) Find(externalID string) (*Invocation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.byExternal[externalID]
	return inv, ok
}

// SessionInvocations returns the live records for a session.
func (l *Ledger) SessionInvocations(sessionID string) []*Invocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Invocation, len(l.bySession[sessionID]))
	copy(out, l.bySession[sessionID])
	return out
}

// PruneTerminal drops terminal invocations resolved before the cutoff and
// returns how many were removed. The sweeper calls this on a schedule so
// late duplicate resolves still find their record for a while.
func (l *Ledger) PruneTerminal(olderThan time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	pruned := 0

	for sessionID, invs := range l.bySession {
		kept := invs[:0]
		for _, inv := range invs {
			inv.mu.Lock()
			expired := inv.status.Terminal() && !inv.resolvedAt.IsZero() && inv.resolvedAt.Before(cutoff)
			inv.mu.Unlock()

			if !expired {
				kept = append(kept, inv)
				continue
			}

			delete(l.byID, inv.ID)
			for _, ext := range inv.ExternalIDs() {
				delete(l.byExternal, ext)
			}
			pruned++
		}
		if len(kept) == 0 {
			delete(l.bySession, sessionID)
		} else {
			l.bySession[sessionID] = kept
		}
	}

	return pruned
}

func normalizeArgs(args json.RawMessage) []byte {
	return bytes.TrimSpace(args)
}
