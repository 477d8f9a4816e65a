package client

import (
	"encoding/json"
	"sync"
)

// HeaderSessionID is the response/request header carrying the sticky
// session id assigned by context-establishing endpoints.
const HeaderSessionID = "gv-session-id"

// SessionPropagator holds the single current sticky session id. Last write
// wins; there is no history. Producers call Update whenever a response
// carries a new id, consumers read Current to stamp the sticky header on
// calls that need backend-side vehicle/catalog context continuity.
type SessionPropagator struct {
	mu sync.RWMutex
	id string
}

func NewSessionPropagator() *SessionPropagator {
	return &SessionPropagator{}
}

// Update replaces the current session id. Empty ids are ignored.
func (p *SessionPropagator) Update(id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	p.id = id
	p.mu.Unlock()
}

// Current returns the sticky session id, or "" when none is set.
func (p *SessionPropagator) Current() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

// Clear drops the current session id.
func (p *SessionPropagator) Clear() {
	p.mu.Lock()
	p.id = ""
	p.mu.Unlock()
}

// CaptureResponse extracts a session id from a response, preferring the
// gv-session-id header over a session_id body field, and stores it.
func (p *SessionPropagator) CaptureResponse(res *Response) {
	if res == nil {
		return
	}
	if id := res.Header.Get(HeaderSessionID); id != "" {
		p.Update(id)
		return
	}
	if len(res.Body) == 0 {
		return
	}
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return
	}
	p.Update(payload.SessionID)
}
