// Package auth implements the Authenticator (spec.md §4.2): it gates a
// newly accepted relay-side pipe until it proves knowledge of the
// configured shared secret, emitting Authorized exactly once per pipe.
package auth

import (
	"crypto/subtle"
	"errors"
	"net"
	"time"

	"github.com/relaytun/relaytun/internal/relayerr"
	"github.com/relaytun/relaytun/internal/socket"
)

// readChunkSize is the buffer size used for each read off the
// underlying connection while authorization is pending.
const readChunkSize = 4096

// Authenticate gates p until it proves knowledge of secret, or
// authorizes it immediately if secret is empty.
//
// If timeout is non-zero and secret is non-empty, Authenticate
// destroys p and returns a *relayerr.AuthTimeout if no match arrives
// within timeout. Per spec.md §9, the timeout is only armed when a
// secret is configured, so idle warm-pool members with no secret
// requirement are never spuriously torn down.
//
// On a prefix mismatch Authenticate destroys p and returns a
// *relayerr.AuthMismatch. On success it marks p authorized and
// returns nil; any bytes beyond the matched secret prefix remain in
// p's pending buffer as legitimate tunnel payload.
func Authenticate(p *socket.Pipe, secret []byte, timeout time.Duration) error {
	if len(secret) == 0 {
		p.MarkAuthorized()
		return nil
	}

	if timeout > 0 {
		if err := p.Conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
		defer p.Conn.SetReadDeadline(time.Time{})
	}

	for {
		buf := make([]byte, readChunkSize)
		n, err := p.Conn.Read(buf)
		if n > 0 {
			p.AppendPending(buf[:n])

			first := p.FirstPendingChunk()
			if len(first) >= len(secret) {
				if subtle.ConstantTimeCompare(first[:len(secret)], secret) == 1 {
					p.ReplaceFirstPendingChunk(first[len(secret):])
					p.MarkAuthorized()
					return nil
				}
				_ = p.Destroy()
				return &relayerr.AuthMismatch{PipeID: p.ID}
			}
			// First chunk shorter than the secret: per spec.md §9 the
			// Authenticator does not concatenate across chunks to
			// re-check; wait for more data to arrive.
		}
		if err != nil {
			if isTimeout(err) {
				_ = p.Destroy()
				return &relayerr.AuthTimeout{PipeID: p.ID}
			}
			_ = p.Destroy()
			return err
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
