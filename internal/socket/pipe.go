// Package socket implements SocketPipe, spec.md §3's unit of a
// half-tunnel: a connection plus the bookkeeping (authorization state,
// pairing state, pending bytes, tunnel key) the Matcher and Pump need
// to treat it as one side of a potential pairing.
package socket

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Role identifies which side of which process a Pipe represents.
type Role int

const (
	// RoleRelaySide is an agent-initiated connection held by the
	// relay's relay listener.
	RoleRelaySide Role = iota
	// RolePublicSide is a public-client connection held by the
	// relay's public listener.
	RolePublicSide
	// RoleTargetSide is the agent's outbound connection to the
	// hidden target service.
	RoleTargetSide
)

func (r Role) String() string {
	switch r {
	case RoleRelaySide:
		return "relay-side"
	case RolePublicSide:
		return "public-side"
	case RoleTargetSide:
		return "target-side"
	default:
		return "unknown"
	}
}

var nextID atomic.Uint64

// Pipe is a half of a potential tunnel. The zero value is not usable;
// construct one with New.
//
// Invariants (spec.md §3): Paired is set at most once and never
// unset or reassigned once true; Authorized never reverts to false
// once set; pending bytes are drained to the counterpart exactly once,
// immediately on pairing, and stay empty afterwards.
type Pipe struct {
	ID   uint64
	Role Role
	Conn net.Conn

	// TunnelKey partitions this pipe into one pairing queue. Set at
	// construction time from the verified peer certificate (or
	// tunnelkey.NullKey).
	TunnelKey string

	mu         sync.Mutex
	authorized bool
	paired     bool
	pending    pendingBuffer
}

// New constructs an unauthorized, unpaired Pipe wrapping conn.
func New(role Role, conn net.Conn, tunnelKey string) *Pipe {
	return &Pipe{
		ID:        nextID.Add(1),
		Role:      role,
		Conn:      conn,
		TunnelKey: tunnelKey,
	}
}

// Authorized reports whether this pipe has passed authentication.
func (p *Pipe) Authorized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authorized
}

// MarkAuthorized sets the authorized flag. It is idempotent: calling
// it more than once has no additional effect, consistent with the
// invariant that authorization never reverts.
func (p *Pipe) MarkAuthorized() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authorized = true
}

// Paired reports whether this pipe has already been paired. Used by
// the Matcher to enforce at-most-once pairing under concurrent
// arrivals.
func (p *Pipe) Paired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paired
}

// MarkPaired records that this pipe has been paired. It must be
// called at most once; callers hold the Matcher's per-listener-pair
// mutex when calling it, so there is no internal re-check here.
func (p *Pipe) MarkPaired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paired = true
}

// AppendPending buffers bytes received before authorization completes
// or before a counterpart exists. b is copied, so callers may reuse
// it afterwards.
func (p *Pipe) AppendPending(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.append(cp)
}

// FirstPendingChunk returns the oldest buffered chunk without
// draining it, for the Authenticator's prefix inspection.
func (p *Pipe) FirstPendingChunk() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.first()
}

// ReplaceFirstPendingChunk overwrites the oldest buffered chunk,
// used by the Authenticator to strip a matched secret prefix.
func (p *Pipe) ReplaceFirstPendingChunk(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.replaceFirst(b)
}

// HasPending reports whether any bytes are currently buffered.
func (p *Pipe) HasPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.pending.empty()
}

// DrainPending returns every buffered chunk in order and empties the
// buffer. Called exactly once per pipe: by the Matcher immediately on
// pairing, or, for the Agent's relay-side pipe, by the pool once the
// target connection is up.
func (p *Pipe) DrainPending() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.drain()
}

// ConfigureKeepAlive arms TCP keep-alive probes at the given interval
// on the underlying TCP connection, looking through a TLS wrapper if
// there is one. Non-TCP connections (e.g. in-memory test pipes) are
// left alone.
func (p *Pipe) ConfigureKeepAlive(period time.Duration) {
	conn := p.Conn
	if tlsConn, ok := conn.(*tls.Conn); ok {
		conn = tlsConn.NetConn()
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(period)
}

// Destroy closes the underlying connection. It is safe to call more
// than once.
func (p *Pipe) Destroy() error {
	return p.Conn.Close()
}
