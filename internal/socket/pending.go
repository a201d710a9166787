package socket

// pendingBuffer is an ordered sequence of owned byte chunks received
// before a pipe is paired (or, on the relay side, before it is
// authorized). Chunks are appended in O(1) as they arrive and drained
// sequentially exactly once, in order, on pairing. It is never
// coalesced eagerly: the Authenticator's prefix check inspects only
// the first buffered chunk (spec.md §9).
type pendingBuffer struct {
	chunks [][]byte
}

// append adds a chunk to the tail of the buffer. The caller must not
// reuse or mutate b afterwards.
func (p *pendingBuffer) append(b []byte) {
	if len(b) == 0 {
		return
	}
	p.chunks = append(p.chunks, b)
}

// first returns the oldest buffered chunk, or nil if the buffer is
// empty.
func (p *pendingBuffer) first() []byte {
	if len(p.chunks) == 0 {
		return nil
	}
	return p.chunks[0]
}

// replaceFirst overwrites the oldest chunk in place, used by the
// Authenticator to strip a matched secret prefix from it while
// leaving any overshoot bytes as legitimate tunnel payload.
func (p *pendingBuffer) replaceFirst(b []byte) {
	if len(p.chunks) == 0 {
		if len(b) == 0 {
			return
		}
		p.chunks = [][]byte{b}
		return
	}
	if len(b) == 0 {
		p.chunks = p.chunks[1:]
		return
	}
	p.chunks[0] = b
}

// drain returns every buffered chunk in order and empties the buffer.
// Per spec.md §3, this happens exactly once, immediately on pairing.
func (p *pendingBuffer) drain() [][]byte {
	out := p.chunks
	p.chunks = nil
	return out
}

// empty reports whether the buffer currently holds no bytes.
func (p *pendingBuffer) empty() bool {
	return len(p.chunks) == 0
}
