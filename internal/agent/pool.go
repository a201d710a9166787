// Package agent implements the Agent pool manager (spec.md §4.5): it
// keeps N warm relay-side connections open and, for each one, runs
// the wait-for-first-byte → dial target → replay buffer → pump dance.
package agent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaytun/relaytun/internal/listener"
	"github.com/relaytun/relaytun/internal/metrics"
	"github.com/relaytun/relaytun/internal/pump"
	"github.com/relaytun/relaytun/internal/relayerr"
	"github.com/relaytun/relaytun/internal/socket"
	"github.com/relaytun/relaytun/internal/tunnelkey"
)

// poolPipes tracks the relay-side pipes that are still warm in the pool
// (dialed, possibly authenticated, but not yet consumed by a first
// byte). Termination destroys every pipe still in this set to unblock
// whichever goroutine is parked in waitForFirstByte's Read.
type poolPipes struct {
	mu    sync.Mutex
	m     map[*socket.Pipe]struct{}
	gauge prometheus.Gauge // optional; reflects len(m) after every change
}

func (s *poolPipes) add(p *socket.Pipe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[*socket.Pipe]struct{})
	}
	s.m[p] = struct{}{}
	s.reportLocked()
}

func (s *poolPipes) remove(p *socket.Pipe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, p)
	s.reportLocked()
}

func (s *poolPipes) destroyAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.m {
		_ = p.Destroy()
	}
	s.m = nil
	s.reportLocked()
}

func (s *poolPipes) reportLocked() {
	if s.gauge != nil {
		s.gauge.Set(float64(len(s.m)))
	}
}

// replacementDelay is the fixed backoff spec.md §4.5 mandates before
// replacing a pool member that failed while still waiting in the
// pool: "schedule a replacement after a fixed 5-second delay." This
// is deliberately not exponential — see DESIGN.md.
const replacementDelay = 5 * time.Second

// readBufferSize is used for the single wait-for-first-byte read.
const readBufferSize = 32 * 1024

// Config describes one Agent's relay and target endpoints, their TLS
// policy, and the warm pool size.
type Config struct {
	RelayAddress    string
	RelayTLS        bool
	RelayVerifyCert bool
	RelayCaCert     string
	RelayClientCert string
	RelayClientKey  string
	RelayTimeout    time.Duration

	TargetAddress    string
	TargetTLS        bool
	TargetVerifyCert bool
	TargetCaCert     string
	TargetTimeout    time.Duration

	// Secret, if non-empty, is written as the very first bytes on
	// every relay-side connection (spec.md §4.5, §6 `relaySecret`).
	Secret []byte

	// NumConn is the warm pool size N.
	NumConn int

	// Metrics, if non-nil, is updated with the warm pool size and bytes
	// pumped per direction. Leaving it nil disables instrumentation.
	Metrics *metrics.Metrics
}

// Pool manages Config.NumConn warm relay-side connections.
type Pool struct {
	cfg Config
	log *slog.Logger

	relayTLS  *tls.Config
	targetTLS *tls.Config

	// replacementDelay defaults to the fixed replacementDelay constant;
	// tests may shrink it, but it is set once at construction and
	// never scales with retry count, preserving the "fixed, not
	// exponential" requirement.
	replacementDelay time.Duration

	pipes poolPipes

	mu          sync.Mutex
	terminating bool
	wg          sync.WaitGroup
}

// New validates cfg, loads TLS material once (spec.md §5 "Shared
// resources"), and returns a Pool ready to Start.
func New(cfg Config, log *slog.Logger) (*Pool, error) {
	if cfg.NumConn <= 0 {
		cfg.NumConn = 1
	}

	p := &Pool{cfg: cfg, log: log, replacementDelay: replacementDelay}
	if cfg.Metrics != nil {
		p.pipes.gauge = cfg.Metrics.PoolSize
	}

	if cfg.RelayTLS {
		tlsCfg, err := clientTLSConfig(cfg.RelayCaCert, cfg.RelayClientCert, cfg.RelayClientKey, cfg.RelayVerifyCert)
		if err != nil {
			return nil, err
		}
		p.relayTLS = tlsCfg
	}
	if cfg.TargetTLS {
		tlsCfg, err := clientTLSConfig(cfg.TargetCaCert, "", "", cfg.TargetVerifyCert)
		if err != nil {
			return nil, err
		}
		p.targetTLS = tlsCfg
	}

	return p, nil
}

// Start opens the initial N connections and blocks until ctx is
// cancelled, at which point it stops scheduling replacements and
// waits for in-flight pipes to wind down.
func (p *Pool) Start(ctx context.Context) error {
	for i := 0; i < p.cfg.NumConn; i++ {
		p.wg.Add(1)
		go p.runSpawn(ctx)
	}

	<-ctx.Done()
	p.Stop(context.Background())
	p.wg.Wait()
	return nil
}

// Stop sets the terminating flag so scheduled replacements are
// suppressed, then destroys every pipe still warm in the pool — this
// is what unblocks any goroutine parked in waitForFirstByte's Read,
// per spec.md §4.5's termination step. Pipes already consumed by a
// pairing are active tunnels, not pool members, and are left for the
// Pump to wind down on its own.
func (p *Pool) Stop(_ context.Context) error {
	p.mu.Lock()
	p.terminating = true
	p.mu.Unlock()
	p.pipes.destroyAll()
	return nil
}

func (p *Pool) isTerminating() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminating
}

func (p *Pool) runSpawn(ctx context.Context) {
	defer p.wg.Done()
	p.spawn(ctx)
}

// spawn opens one relay-side connection, writes the secret prefix if
// configured, and waits for its first byte.
func (p *Pool) spawn(ctx context.Context) {
	if ctx.Err() != nil || p.isTerminating() {
		return
	}

	conn, err := p.dialRelay(ctx)
	if err != nil {
		p.log.Warn("relay dial failed", "error", err)
		p.scheduleReplacement(ctx)
		return
	}

	pipe := socket.New(socket.RoleRelaySide, conn, tunnelkey.NullKey)
	pipe.ConfigureKeepAlive(listener.KeepAlivePeriod)

	if len(p.cfg.Secret) > 0 {
		if _, err := conn.Write(p.cfg.Secret); err != nil {
			_ = pipe.Destroy()
			p.scheduleReplacement(ctx)
			return
		}
	}

	p.pipes.add(pipe)
	if p.isTerminating() {
		// Closed the race against a Stop() that destroyed the pool's
		// tracked pipes just before this one registered.
		p.pipes.remove(pipe)
		_ = pipe.Destroy()
		return
	}
	p.waitForFirstByte(ctx, pipe)
}

// waitForFirstByte implements spec.md §4.5 step 98: the pipe sits
// idle until the relay sends anything, at which point it is consumed
// (a replacement is opened with no delay) and the target-side dance
// begins. A failure here means the pipe never left the pool, so — per
// step 99 — it still gets the fixed 5-second replacement delay.
func (p *Pool) waitForFirstByte(ctx context.Context, pipe *socket.Pipe) {
	buf := make([]byte, readBufferSize)
	n, err := pipe.Conn.Read(buf)
	if err != nil {
		p.pipes.remove(pipe)
		_ = pipe.Destroy()
		p.scheduleReplacement(ctx)
		return
	}
	pipe.AppendPending(buf[:n])

	// This pipe is consumed: it leaves the warm pool and becomes an
	// active tunnel, so stop tracking it for termination purposes and
	// open its replacement immediately, not after a delay (spec.md
	// §4.5 step (b)).
	p.pipes.remove(pipe)
	p.wg.Add(1)
	go p.runSpawn(ctx)

	p.openTargetAndPump(ctx, pipe)
}

// openTargetAndPump dials the target, replays whatever arrived from
// the relay before the target connection was up, then pumps. Once a
// pipe reaches this point its replacement has already been spawned;
// any failure from here on is just this one tunnel ending, not a pool
// shortfall to correct.
func (p *Pool) openTargetAndPump(ctx context.Context, relayPipe *socket.Pipe) {
	targetConn, err := p.dialTarget(ctx)
	if err != nil {
		p.log.Warn("target dial failed", "error", err, "pipe", relayPipe.ID)
		_ = relayPipe.Destroy()
		return
	}

	targetPipe := socket.New(socket.RoleTargetSide, targetConn, tunnelkey.NullKey)
	targetPipe.ConfigureKeepAlive(listener.KeepAlivePeriod)

	for _, chunk := range relayPipe.DrainPending() {
		if _, err := targetConn.Write(chunk); err != nil {
			_ = relayPipe.Destroy()
			_ = targetPipe.Destroy()
			return
		}
	}

	var opts []pump.Option
	if m := p.cfg.Metrics; m != nil {
		opts = append(opts, pump.WithByteCounter(func(direction string, n int) {
			m.BytesPumped.WithLabelValues(direction).Add(float64(n))
		}))
	}

	pump.Run(relayPipe, targetPipe, func(*socket.Pipe) {}, p.cfg.RelayTimeout, p.cfg.TargetTimeout, p.log, opts...)
}

// scheduleReplacement waits the fixed replacementDelay, then spawns a
// replacement unless the pool is terminating or ctx is done.
func (p *Pool) scheduleReplacement(ctx context.Context) {
	if p.isTerminating() {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-time.After(p.replacementDelay):
		case <-ctx.Done():
			return
		}
		if p.isTerminating() {
			return
		}
		p.spawn(ctx)
	}()
}

func (p *Pool) dialRelay(ctx context.Context) (net.Conn, error) {
	return dial(ctx, p.cfg.RelayAddress, p.relayTLS)
}

func (p *Pool) dialTarget(ctx context.Context) (net.Conn, error) {
	return dial(ctx, p.cfg.TargetAddress, p.targetTLS)
}

func dial(ctx context.Context, address string, tlsCfg *tls.Config) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &relayerr.PeerUnreachable{Target: address, Err: err}
	}

	if tlsCfg == nil {
		return conn, nil
	}

	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, &relayerr.HandshakeFailure{Remote: address, Err: err}
	}
	return tlsConn, nil
}

// clientTLSConfig builds the outbound TLS policy for a relay or
// target connection: an optional trust anchor, an optional client
// certificate, and verify toggled per spec.md §6's
// `relayVerifyCert`/`targetVerifyCert`.
func clientTLSConfig(caCert, certFile, keyFile string, verify bool) (*tls.Config, error) {
	cfg := &tls.Config{InsecureSkipVerify: !verify}

	if caCert != "" {
		pem, err := os.ReadFile(caCert)
		if err != nil {
			return nil, &relayerr.TlsMaterialFailure{Reason: "read trust anchor", Err: err}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &relayerr.TlsMaterialFailure{Reason: "parse trust anchor", Err: errNoCertsInFile(caCert)}
		}
		cfg.RootCAs = pool
	}

	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, &relayerr.TlsMaterialFailure{Reason: "load client key pair", Err: err}
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

type errNoCertsInFile string

func (e errNoCertsInFile) Error() string {
	return "no certificates found in " + string(e)
}
