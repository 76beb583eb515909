// Package connpool is the process-wide registry of live Connections keyed
// by Session Record id, plus the detected subscription tier.
package connpool

import (
	"sync"

	"github.com/lecoder-dev/lecoder/internal/connection"
)

// Tier is the detected Colab subscription level, inferred once at startup
// from CCU info and consulted by the Session Manager for concurrency caps.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// MaxSessions returns the concurrent-session cap for t.
func (t Tier) MaxSessions() int {
	if t == TierPro {
		return 5
	}
	return 1
}

// Pool is the singleton live-Connection registry. The zero value is not
// usable; construct with New or use Get/Put on the process singleton via
// Default.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*connection.Connection
	tier  Tier
}

// New creates an empty Pool with the given detected tier.
func New(tier Tier) *Pool {
	return &Pool{conns: make(map[string]*connection.Connection), tier: tier}
}

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns the process-wide singleton Pool, created on first use
// with TierFree; callers should call SetTier once the account's tier is
// known.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = New(TierFree)
	})
	return defaultPool
}

// SetTier updates the detected subscription tier.
func (p *Pool) SetTier(tier Tier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tier = tier
}

// Tier returns the currently detected subscription tier.
func (p *Pool) Tier() Tier {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tier
}

// Get returns the live Connection for sessionID, or nil if none is pooled.
func (p *Pool) Get(sessionID string) *connection.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[sessionID]
}

// Put registers conn as the live Connection for sessionID, replacing and
// closing any previous entry.
func (p *Pool) Put(sessionID string, conn *connection.Connection) {
	p.mu.Lock()
	old := p.conns[sessionID]
	p.conns[sessionID] = conn
	p.mu.Unlock()

	if old != nil && old != conn {
		old.Close()
	}
}

// Remove shuts down and forgets the Connection for sessionID, if any.
func (p *Pool) Remove(sessionID string) {
	p.mu.Lock()
	conn := p.conns[sessionID]
	delete(p.conns, sessionID)
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Size returns the number of live pooled Connections.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Endpoints returns the distinct runtime endpoints with a live pooled
// Connection, used to drive the process-wide keep-alive ticker.
func (p *Pool) Endpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]bool, len(p.conns))
	out := make([]string, 0, len(p.conns))
	for _, conn := range p.conns {
		ep := conn.Endpoint()
		if seen[ep] {
			continue
		}
		seen[ep] = true
		out = append(out, ep)
	}
	return out
}
