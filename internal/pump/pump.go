// Package pump implements the Pump (spec.md §4.4): once the Matcher
// has paired two SocketPipes it hands them here, and Run copies bytes
// bidirectionally between their connections until either side ends.
package pump

import (
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/relaytun/relaytun/internal/relayerr"
	"github.com/relaytun/relaytun/internal/socket"
)

// copyBufferSize matches the teacher's bridge copy loop; large enough
// to avoid excessive syscalls without holding much memory per tunnel.
const copyBufferSize = 32 * 1024

// Option customizes a Run call. The zero value of every Option field
// is inert, so existing callers that pass none keep working unchanged.
type Option func(*options)

type options struct {
	onBytes func(direction string, n int)
}

// copyResult reports which pipe owned the side of the direction that
// produced the error, so it can be attributed in a *relayerr.IoError.
type copyResult struct {
	err    error
	pipeID uint64
}

// WithByteCounter registers a callback invoked after every successful
// write in either direction, with direction one of "a_to_b" (bytes
// read from a, written to b) or "b_to_a". Run is shared by both the
// Relay (a=relay-side, b=public-side) and the Agent (a=relay-side,
// b=target-side), so the label names stay generic; callers that want
// a domain-specific label should translate at the metrics boundary.
// Used to feed internal/metrics's bytes-pumped counter; nil-safe if
// never set.
func WithByteCounter(f func(direction string, n int)) Option {
	return func(o *options) { o.onBytes = f }
}

// Run copies bytes between a and b until one direction ends, then
// tears down both sides. release is called once per pipe (b, then a)
// so the caller (the Matcher) can drop them from its active set; it
// must not block.
//
// aIdleTimeout and bIdleTimeout, if non-zero, are armed as rolling
// read deadlines on a's and b's connections respectively (spec.md
// §4.4's "optional per-side idle timeout"): if a side goes silent for
// longer than its own timeout, Run treats it the same as EOF or an
// I/O error and collapses the tunnel.
//
// Run blocks until both copy directions have finished and does not
// return an error: per spec.md §4.4 the pump has no caller that needs
// to react to which side failed, only that the tunnel is gone. Every
// call is assigned its own correlation ID so an operator can grep one
// tunnel's lifecycle out of interleaved logs.
func Run(a, b *socket.Pipe, release func(*socket.Pipe), aIdleTimeout, bIdleTimeout time.Duration, log *slog.Logger, opts ...Option) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tunnelID := uuid.NewString()
	log = log.With("tunnel_id", tunnelID)

	defer release(a)
	defer release(b)

	errc := make(chan copyResult, 2)
	go func() { // b -> a, bounded by b's timeout
		errc <- copyResult{err: copyDirection(a.Conn, b.Conn, bIdleTimeout, o.onBytes, "b_to_a"), pipeID: b.ID}
	}()
	go func() { // a -> b, bounded by a's timeout
		errc <- copyResult{err: copyDirection(b.Conn, a.Conn, aIdleTimeout, o.onBytes, "a_to_b"), pipeID: a.ID}
	}()

	if res := <-errc; res.err != nil && res.err != io.EOF {
		ioErr := &relayerr.IoError{PipeID: res.pipeID, Err: res.err}
		log.Debug("pump direction ended", "relay_pipe", a.ID, "public_pipe", b.ID, "error", ioErr)
	}

	// Whichever side ended, destroy both: a broken half always tears
	// the other half down (spec.md §2 Non-goals), so the second copy
	// goroutine unblocks with its own EOF/error shortly after.
	_ = a.Destroy()
	_ = b.Destroy()
	<-errc

	log.Info("tunnel closed", "relay_pipe", a.ID, "public_pipe", b.ID)
}

// copyDirection streams src into dst. Without an idle timeout it
// degrades to a single io.Copy, identical in shape to the teacher's
// bridge relay loop. With one armed, each read is individually bounded
// so a silently dead peer is detected without waiting for a full
// keep-alive cycle. onBytes, if non-nil, is called with direction
// after every successful write.
func copyDirection(dst, src net.Conn, idleTimeout time.Duration, onBytes func(string, int), direction string) error {
	if idleTimeout <= 0 {
		if onBytes == nil {
			_, err := io.Copy(dst, src)
			return err
		}
		return copyLoop(dst, src, 0, onBytes, direction)
	}
	return copyLoop(dst, src, idleTimeout, onBytes, direction)
}

// copyLoop is the read/write loop shared by the idle-timeout and the
// byte-counted paths; a zero idleTimeout skips arming a read deadline.
func copyLoop(dst, src net.Conn, idleTimeout time.Duration, onBytes func(string, int), direction string) error {
	buf := make([]byte, copyBufferSize)
	for {
		if idleTimeout > 0 {
			if err := src.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
				return err
			}
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			if onBytes != nil {
				onBytes(direction, n)
			}
		}
		if err != nil {
			return err
		}
	}
}
