// Package tunnelkey provides the pluggable capability spec.md calls
// the "tunnel key": an opaque string derived from a verified TLS peer
// certificate subject, used to partition the relay's pairing queues
// so that a public-side connection is only ever paired with an
// agent-side connection presenting the same key.
package tunnelkey

import "crypto/x509"

// NullKey is the sentinel tunnel key used when TLS or client-certificate
// authentication is not in use. Every peer collapses onto this single
// key, so partitioning degenerates to one shared queue.
const NullKey = ""

// Func maps a verified peer certificate to a tunnel key. It must be
// pure: implementations must not mutate process state from inside it,
// since it is called synchronously on every accept.
type Func func(cert *x509.Certificate) string

// Identity is the default Func: it returns the certificate's common
// name verbatim, or NullKey if cert is nil (no client certificate was
// presented or requested).
func Identity(cert *x509.Certificate) string {
	if cert == nil {
		return NullKey
	}
	return cert.Subject.CommonName
}
