// Package listener implements the Listener adapter (spec.md §4.1): it
// accepts inbound connections on a configured address, either as
// plain byte streams or as TLS streams, authenticates each one, and
// hands the resulting SocketPipe to a callback supplied by the Relay
// orchestrator.
package listener

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/relaytun/relaytun/internal/auth"
	"github.com/relaytun/relaytun/internal/pki"
	"github.com/relaytun/relaytun/internal/relayerr"
	"github.com/relaytun/relaytun/internal/socket"
	"github.com/relaytun/relaytun/internal/tunnelkey"
)

// Transport selects the byte-stream flavor a Listener accepts.
type Transport int

const (
	Plain Transport = iota
	TLS
)

// KeepAlivePeriod is the interval spec.md §4.4 mandates on every
// paired socket, and that a Listener also arms on every accepted
// connection before the pipe is even authenticated.
const KeepAlivePeriod = 120 * time.Second

// Config describes one listener's bind address, transport, and TLS
// material. The same type backs both the relay-facing and the
// public-facing listener; the Relay orchestrator constructs two
// independently configured Adapters from it.
type Config struct {
	Address string

	Transport Transport

	// TLS material: at most one of Pfx, or CertFile+KeyFile, should be
	// set. If Transport is TLS and neither is set, a self-signed
	// certificate is generated once, per spec.md §4.1.
	Pfx           string // path to a PKCS#12 archive bundling cert+key
	Passphrase    string // passphrase for Pfx only; CertFile+KeyFile must be an unencrypted key
	CertFile      string
	KeyFile       string
	AutogenCertCN string // common name used only when autogenerating

	// CaCert, if set, is a PEM trust anchor used to verify peer
	// certificates. RequestCert additionally requires the peer to
	// present one.
	CaCert      string
	RequestCert bool

	// Secret gates every accepted connection through the
	// Authenticator. Empty means no gating: pipes authorize
	// immediately.
	Secret []byte

	// IdleTimeout, if non-zero, bounds both the Authenticator's wait
	// for a secret match and (later, once paired) each read the Pump
	// performs on this pipe's connection.
	IdleTimeout time.Duration

	// TunnelKeyFunc derives a tunnel key from a verified peer
	// certificate. Defaults to tunnelkey.Identity.
	TunnelKeyFunc tunnelkey.Func

	Role socket.Role

	// OnAuthFailure, if set, is called once for every pipe that fails
	// authentication: AuthMismatch, AuthTimeout, or the connection
	// failing before a secret match arrives. Used by the
	// Relay orchestrator to feed the auth-failures-total metric without
	// this package importing internal/metrics.
	OnAuthFailure func()
}

// Adapter is a running Listener: a bound socket plus the TLS and
// authentication policy needed to turn each accepted connection into
// an authorized SocketPipe.
type Adapter struct {
	cfg Config
	log *slog.Logger

	ln        net.Listener
	tlsConfig *tls.Config
}

// New binds cfg.Address and prepares TLS material (loading or
// autogenerating it) if cfg.Transport is TLS. It does not yet accept
// connections; call Start for that.
func New(cfg Config, log *slog.Logger) (*Adapter, error) {
	if cfg.TunnelKeyFunc == nil {
		cfg.TunnelKeyFunc = tunnelkey.Identity
	}

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, &relayerr.BindFailure{Address: cfg.Address, Err: err}
	}

	a := &Adapter{cfg: cfg, log: log, ln: ln}

	if cfg.Transport == TLS {
		tlsCfg, err := buildTLSConfig(cfg)
		if err != nil {
			ln.Close()
			return nil, err
		}
		a.tlsConfig = tlsCfg
	}

	return a, nil
}

// Addr returns the bound address, including the OS-assigned port
// when Config.Address requested an ephemeral one.
func (a *Adapter) Addr() net.Addr {
	return a.ln.Addr()
}

// Start accepts connections until ctx is cancelled or Stop is called.
// Each accepted connection is handshaken (if TLS), authenticated, and
// — on success — handed to onReady. Authentication and handshake
// failures are per-connection: they are logged and dropped without
// affecting the listener (spec.md §4.1 "Failure semantics").
func (a *Adapter) Start(ctx context.Context, onReady func(*socket.Pipe)) error {
	go func() {
		<-ctx.Done()
		a.ln.Close()
	}()

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				a.log.Warn("temporary accept error", "error", err)
				continue
			}
			return fmt.Errorf("listener accept: %w", err)
		}
		go a.handle(ctx, conn, onReady)
	}
}

// Stop closes the listening socket, unblocking any in-flight Accept.
// A socket already closed by a cancelled Start is not an error.
func (a *Adapter) Stop(_ context.Context) error {
	if err := a.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (a *Adapter) handle(ctx context.Context, conn net.Conn, onReady func(*socket.Pipe)) {
	var peerCert *x509.Certificate

	if a.tlsConfig != nil {
		tlsConn := tls.Server(conn, a.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			a.log.Warn("tls handshake failed", "remote", conn.RemoteAddr(), "error", err)
			conn.Close()
			return
		}
		conn = tlsConn
		if certs := tlsConn.ConnectionState().PeerCertificates; len(certs) > 0 {
			peerCert = certs[0]
		}
	}

	key := a.cfg.TunnelKeyFunc(peerCert)
	p := socket.New(a.cfg.Role, conn, key)
	p.ConfigureKeepAlive(KeepAlivePeriod)

	if err := auth.Authenticate(p, a.cfg.Secret, a.cfg.IdleTimeout); err != nil {
		a.log.Debug("authentication failed", "pipe", p.ID, "error", err)
		if a.cfg.OnAuthFailure != nil {
			a.cfg.OnAuthFailure()
		}
		return
	}

	onReady(p)
}

// buildTLSConfig loads or generates the certificate this listener
// presents, and configures client-certificate verification if
// cfg.RequestCert is set.
func buildTLSConfig(cfg Config) (*tls.Config, error) {
	cert, err := loadOrGenerateCert(cfg)
	if err != nil {
		return nil, err
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.CaCert != "" {
		pem, err := os.ReadFile(cfg.CaCert)
		if err != nil {
			return nil, &relayerr.TlsMaterialFailure{Reason: "read trust anchor", Err: err}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &relayerr.TlsMaterialFailure{Reason: "parse trust anchor", Err: fmt.Errorf("no certificates found in %s", cfg.CaCert)}
		}
		tlsCfg.ClientCAs = pool
	}

	switch {
	case cfg.RequestCert && cfg.CaCert != "":
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	case cfg.RequestCert:
		tlsCfg.ClientAuth = tls.RequireAnyClientCert
	default:
		tlsCfg.ClientAuth = tls.NoClientCert
	}

	return tlsCfg, nil
}

// loadOrGenerateCert implements the three TLS-material sources
// spec.md §4.1 and §6 describe: a bundled PKCS#12 archive, a separate
// key+cert pair, or — when neither is configured — a self-signed
// certificate synthesized once and reused for the process lifetime.
func loadOrGenerateCert(cfg Config) (tls.Certificate, error) {
	switch {
	case cfg.Pfx != "":
		raw, err := os.ReadFile(cfg.Pfx)
		if err != nil {
			return tls.Certificate{}, &relayerr.TlsMaterialFailure{Reason: "read pfx", Err: err}
		}
		key, certDER, caDERs, err := pkcs12.DecodeChain(raw, cfg.Passphrase)
		if err != nil {
			return tls.Certificate{}, &relayerr.TlsMaterialFailure{Reason: "decode pfx", Err: err}
		}
		chain := make([][]byte, 0, 1+len(caDERs))
		chain = append(chain, certDER.Raw)
		for _, ca := range caDERs {
			chain = append(chain, ca.Raw)
		}
		return tls.Certificate{Certificate: chain, PrivateKey: key, Leaf: certDER}, nil

	case cfg.CertFile != "" && cfg.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return tls.Certificate{}, &relayerr.TlsMaterialFailure{Reason: "load key pair", Err: err}
		}
		return cert, nil

	default:
		cn := cfg.AutogenCertCN
		if cn == "" {
			cn = "relaytun"
		}
		cert, err := pki.GenerateSelfSigned(cn, pki.DefaultValidity)
		if err != nil {
			return tls.Certificate{}, &relayerr.TlsMaterialFailure{Reason: "autogenerate certificate", Err: err}
		}
		return cert, nil
	}
}
