// Package permit implements the human-approval handshake around gated tool
// calls. A runner submits a request and suspends on the returned channel;
// the control surface resolves it exactly once, or cancellation resolves it
// as an implicit denial.
package permit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Decision is the outcome of a permission request.
type Decision string

const (
	Approved Decision = "approved"
	Denied   Decision = "denied"
)

// ErrStale is returned when a resolution targets a request that was already
// resolved, belongs to another session, or never existed.
var ErrStale = errors.New("permission request is stale or unknown")

// Request describes one pending approval.
type Request struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Tool         string    `json:"tool"`
	Mode         string    `json:"mode"`
	InputSummary string    `json:"input_summary"`
	CreatedAt    time.Time `json:"created_at"`
}

type pending struct {
	req  Request
	resp chan Decision // buffered, written exactly once
}

// Gate tracks at most one pending request per session.
type Gate struct {
	mu        sync.Mutex
	byRequest map[string]*pending
	bySession map[string]string // session id → request id
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{
		byRequest: make(map[string]*pending),
		bySession: make(map[string]string),
	}
}

// Submit registers the request and returns the channel its decision arrives
// on. Fails if the session already has a pending request.
func (g *Gate) Submit(req Request) (<-chan Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.bySession[req.SessionID]; ok {
		return nil, fmt.Errorf("session %q already has a pending permission request", req.SessionID)
	}

	p := &pending{req: req, resp: make(chan Decision, 1)}
	g.byRequest[req.ID] = p
	g.bySession[req.SessionID] = req.ID
	return p.resp, nil
}

// Resolve delivers a decision for the given request. The first resolution
// wins; any later attempt fails with ErrStale and has no side effects.
func (g *Gate) Resolve(requestID string, decision Decision) error {
	g.mu.Lock()
	p, ok := g.byRequest[requestID]
	if ok {
		delete(g.byRequest, requestID)
		delete(g.bySession, p.req.SessionID)
	}
	g.mu.Unlock()

	if !ok {
		return ErrStale
	}
	p.resp <- decision
	return nil
}

// CancelSession resolves the session's pending request, if any, as an
// implicit denial and discards it.
func (g *Gate) CancelSession(sessionID string) {
	g.mu.Lock()
	reqID, ok := g.bySession[sessionID]
	var p *pending
	if ok {
		p = g.byRequest[reqID]
		delete(g.byRequest, reqID)
		delete(g.bySession, sessionID)
	}
	g.mu.Unlock()

	if p != nil {
		p.resp <- Denied
	}
}

// Pending returns the session's pending request, if one exists.
func (g *Gate) Pending(sessionID string) (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	reqID, ok := g.bySession[sessionID]
	if !ok {
		return Request{}, false
	}
	return g.byRequest[reqID].req, true
}
