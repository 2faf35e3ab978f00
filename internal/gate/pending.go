package gate

import "sync"

// PendingSet is the per-session FIFO of invocations awaiting resolution.
// The coordinator is its only writer; chat approval prompts follow its
// order so a bare "yes" always answers the oldest question.
type PendingSet struct {
	mu        sync.Mutex
	bySession map[string][]*Invocation
}

func NewPendingSet() *PendingSet {
	return &PendingSet{
		bySession: make(map[string][]*Invocation),
	}
}

func (p *PendingSet) Add(inv *Invocation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bySession[inv.SessionID] = append(p.bySession[inv.SessionID], inv)
}

func (p *PendingSet) Remove(inv *Invocation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.bySession[inv.SessionID]
	for i, candidate := range list {
		if candidate.ID == inv.ID {
			p.bySession[inv.SessionID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(p.bySession[inv.SessionID]) == 0 {
		delete(p.bySession, inv.SessionID)
	}
}

// Oldest returns the head of a session's FIFO.
func (p *PendingSet) Oldest(sessionID string) (*Invocation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.bySession[sessionID]
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// Drain removes and returns every pending invocation for a session, in
// FIFO order. Used by bulk cancellation on session teardown.
func (p *PendingSet) Drain(sessionID string) []*Invocation {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.bySession[sessionID]
	delete(p.bySession, sessionID)
	return list
}

func (p *PendingSet) Len(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bySession[sessionID])
}
