// Package relay wires the two Listener adapters, the Matcher, and the
// Pump into the Relay process described by spec.md §2: a relay
// listener that accepts Agent connections and a public listener that
// accepts end-user connections, both feeding one Matcher.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/relaytun/relaytun/internal/listener"
	"github.com/relaytun/relaytun/internal/match"
	"github.com/relaytun/relaytun/internal/metrics"
	"github.com/relaytun/relaytun/internal/pump"
	"github.com/relaytun/relaytun/internal/socket"
)

// Config configures both of the Relay's listeners. PublicListener.Role
// and RelayListener.Role are set by New regardless of what the caller
// passes, since the orchestrator — not the caller — owns that
// invariant.
type Config struct {
	PublicListener listener.Config
	RelayListener  listener.Config

	// Metrics, if non-nil, is updated on every pairing, auth failure,
	// active-tunnel transition, and pumped byte. Leaving it nil disables
	// instrumentation entirely; nothing in the pairing/forwarding path
	// depends on it being set.
	Metrics *metrics.Metrics
}

// Relay is a running Relay process: two Adapters and the Matcher that
// pairs what they accept.
type Relay struct {
	cfg Config
	log *slog.Logger

	matcher *match.Matcher

	public *listener.Adapter
	agent  *listener.Adapter
}

// New binds both listeners (and prepares their TLS material) without
// yet accepting connections. A bind or TLS-material failure on either
// listener is returned immediately; the other listener, if already
// bound, is not leaked — callers that receive an error should not
// retain the returned *Relay (it is nil).
func New(cfg Config, log *slog.Logger) (*Relay, error) {
	cfg.PublicListener.Role = socket.RolePublicSide
	cfg.RelayListener.Role = socket.RoleRelaySide

	if cfg.Metrics != nil {
		cfg.PublicListener.OnAuthFailure = cfg.Metrics.AuthFailuresTotal.Inc
		cfg.RelayListener.OnAuthFailure = cfg.Metrics.AuthFailuresTotal.Inc
	}

	publicAdapter, err := listener.New(cfg.PublicListener, log.With("listener", "public"))
	if err != nil {
		return nil, err
	}

	agentAdapter, err := listener.New(cfg.RelayListener, log.With("listener", "relay"))
	if err != nil {
		_ = publicAdapter.Stop(context.Background())
		return nil, err
	}

	return &Relay{
		cfg:     cfg,
		log:     log,
		matcher: match.New(listener.KeepAlivePeriod),
		public:  publicAdapter,
		agent:   agentAdapter,
	}, nil
}

// PublicAddr and AgentAddr expose the bound addresses, useful when
// Config.Public/RelayListener.Address requested an ephemeral port.
func (r *Relay) PublicAddr() string { return r.public.Addr().String() }
func (r *Relay) AgentAddr() string  { return r.agent.Addr().String() }

// Start runs both listeners until ctx is cancelled or one of them
// fails. It satisfies internal/transport.Component.
func (r *Relay) Start(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return r.public.Start(egCtx, r.onArrive)
	})
	eg.Go(func() error {
		return r.agent.Start(egCtx, r.onArrive)
	})

	return eg.Wait()
}

// Stop closes both listening sockets and destroys every pipe the
// Matcher is still holding, pending or active — spec.md §5's operator
// shutdown: "closes the listeners, iterates pending and active maps,
// and destroys every pipe." It satisfies internal/transport.Component.
func (r *Relay) Stop(ctx context.Context) error {
	var errs []error
	if err := r.public.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.agent.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	r.matcher.Shutdown()
	return errors.Join(errs...)
}

// onArrive is handed to both Adapters as their onReady callback. It
// offers the newly authorized pipe to the Matcher and, on a
// successful pairing, starts the Pump between the relay-side and
// public-side halves.
func (r *Relay) onArrive(p *socket.Pipe) {
	counterpart, ok := r.matcher.Arrive(p)
	if !ok {
		return
	}

	relayPipe, publicPipe := p, counterpart
	if p.Role != socket.RoleRelaySide {
		relayPipe, publicPipe = counterpart, p
	}

	release := r.matcher.Release
	var opts []pump.Option

	if m := r.cfg.Metrics; m != nil {
		m.RecordPairing(fmt.Sprintf("relay-%d-public-%d", relayPipe.ID, publicPipe.ID))
		m.ActiveTunnels.WithLabelValues("relay").Inc()
		m.ActiveTunnels.WithLabelValues("public").Inc()

		// pump.Run calls release once per pipe (twice total); the
		// active-tunnel gauges represent one tunnel, so decrement them
		// exactly once regardless of which pipe's release fires first.
		var once sync.Once
		release = func(p *socket.Pipe) {
			r.matcher.Release(p)
			once.Do(func() {
				m.ActiveTunnels.WithLabelValues("relay").Dec()
				m.ActiveTunnels.WithLabelValues("public").Dec()
			})
		}

		opts = append(opts, pump.WithByteCounter(func(direction string, n int) {
			m.BytesPumped.WithLabelValues(direction).Add(float64(n))
		}))
	}

	go pump.Run(
		relayPipe, publicPipe,
		release,
		r.cfg.RelayListener.IdleTimeout, r.cfg.PublicListener.IdleTimeout,
		r.log,
		opts...,
	)
}
