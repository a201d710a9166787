// Package match implements the Matcher (spec.md §4.3): it holds the
// pending and active queues for both of the Relay's listeners and
// pairs an arriving, authorized pipe with the oldest waiting
// counterpart under the same tunnel key, if any.
package match

import (
	"container/list"
	"sync"
	"time"

	"github.com/relaytun/relaytun/internal/socket"
)

// side holds one listener's pending and active bookkeeping, keyed by
// tunnel key. pending preserves arrival order for FIFO dequeue; active
// is unordered since membership, not order, is all that matters once
// a pipe is pumping.
type side struct {
	pending map[string]*list.List
	active  map[string]map[*socket.Pipe]struct{}
}

func newSide() side {
	return side{
		pending: make(map[string]*list.List),
		active:  make(map[string]map[*socket.Pipe]struct{}),
	}
}

func (s *side) dequeuePending(key string) (*socket.Pipe, bool) {
	q, ok := s.pending[key]
	if !ok || q.Len() == 0 {
		return nil, false
	}
	front := q.Front()
	q.Remove(front)
	return front.Value.(*socket.Pipe), true
}

func (s *side) enqueuePending(key string, p *socket.Pipe) {
	q, ok := s.pending[key]
	if !ok {
		q = list.New()
		s.pending[key] = q
	}
	q.PushBack(p)
}

func (s *side) addActive(key string, p *socket.Pipe) {
	set, ok := s.active[key]
	if !ok {
		set = make(map[*socket.Pipe]struct{})
		s.active[key] = set
	}
	set[p] = struct{}{}
}

func (s *side) removeActive(key string, p *socket.Pipe) {
	if set, ok := s.active[key]; ok {
		delete(set, p)
	}
}

func (s *side) destroyAll() {
	for _, q := range s.pending {
		for e := q.Front(); e != nil; e = e.Next() {
			_ = e.Value.(*socket.Pipe).Destroy()
		}
	}
	for _, set := range s.active {
		for p := range set {
			_ = p.Destroy()
		}
	}
}

// Matcher pairs relay-side pipes with public-side pipes under a
// shared tunnel key. A single mutex guards both sides: the Relay has
// exactly one listener pair, so there is exactly one critical section
// to scope (spec.md §4.3, "Mutual exclusion").
type Matcher struct {
	mu sync.Mutex

	relay  side
	public side

	keepAlive time.Duration
}

// New constructs an empty Matcher. keepAlive is the interval armed on
// both sockets of a pair the moment they are paired (spec.md §4.4); a
// zero value leaves keep-alive unconfigured.
func New(keepAlive time.Duration) *Matcher {
	return &Matcher{
		relay:     newSide(),
		public:    newSide(),
		keepAlive: keepAlive,
	}
}

// Arrive offers an authorized pipe to the Matcher. p must have Role
// socket.RoleRelaySide or socket.RolePublicSide; target-side pipes
// never pass through the Matcher.
//
// If a waiting counterpart exists under p.TunnelKey, Arrive pairs
// them, drains each side's buffered pending bytes into the other, and
// returns the counterpart with ok true. The caller is then
// responsible for starting the Pump between p and the returned pipe.
// If draining fails because a connection already died, both pipes are
// destroyed and Arrive returns (nil, false) as if no counterpart had
// been found.
//
// If no counterpart is waiting, p is enqueued onto its own side's
// pending queue for p.TunnelKey and Arrive returns (nil, false).
func (m *Matcher) Arrive(p *socket.Pipe) (*socket.Pipe, bool) {
	mine, theirs := m.sidesFor(p.Role)

	m.mu.Lock()
	defer m.mu.Unlock()

	q, found := theirs.dequeuePending(p.TunnelKey)
	if !found {
		mine.enqueuePending(p.TunnelKey, p)
		return nil, false
	}

	p.MarkPaired()
	q.MarkPaired()
	mine.addActive(p.TunnelKey, p)
	theirs.addActive(p.TunnelKey, q)

	if m.keepAlive > 0 {
		p.ConfigureKeepAlive(m.keepAlive)
		q.ConfigureKeepAlive(m.keepAlive)
	}

	if err := drainInto(q, p); err != nil {
		mine.removeActive(p.TunnelKey, p)
		theirs.removeActive(p.TunnelKey, q)
		_ = p.Destroy()
		_ = q.Destroy()
		return nil, false
	}
	if err := drainInto(p, q); err != nil {
		mine.removeActive(p.TunnelKey, p)
		theirs.removeActive(p.TunnelKey, q)
		_ = p.Destroy()
		_ = q.Destroy()
		return nil, false
	}

	return q, true
}

// Release removes p from the active set it was placed in when paired.
// Called by the Pump once a tunnel collapses.
func (m *Matcher) Release(p *socket.Pipe) {
	mine, _ := m.sidesFor(p.Role)

	m.mu.Lock()
	defer m.mu.Unlock()
	mine.removeActive(p.TunnelKey, p)
}

// Shutdown destroys every pipe currently pending or active on either
// listener. Used during relay shutdown to make sure nothing is left
// straddling a half-open socket.
func (m *Matcher) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relay.destroyAll()
	m.public.destroyAll()
}

func (m *Matcher) sidesFor(role socket.Role) (mine, theirs *side) {
	if role == socket.RoleRelaySide {
		return &m.relay, &m.public
	}
	return &m.public, &m.relay
}

// drainInto writes src's buffered pending bytes, in order, to dst's
// connection. Called twice per pairing since either side may carry
// pending bytes, though in practice it is almost always the public
// side (spec.md §4.3 step 3).
func drainInto(dst, src *socket.Pipe) error {
	for _, chunk := range src.DrainPending() {
		if _, err := dst.Conn.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}
