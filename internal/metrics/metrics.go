// Package metrics exposes the Relay's and Agent's runtime state as
// Prometheus collectors, mounted on a plain http.ServeMux the same
// way the teacher mounts promhttp.Handler — there is no gRPC surface
// in this system to instrument beyond these few gauges and counters.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector this system exposes: warm pool size,
// active tunnel count per listener, pairings and auth failures, and
// bytes pumped per direction.
type Metrics struct {
	registry *prometheus.Registry

	PoolSize          prometheus.Gauge
	ActiveTunnels     *prometheus.GaugeVec
	PairingsTotal     prometheus.Counter
	AuthFailuresTotal prometheus.Counter
	BytesPumped       *prometheus.CounterVec
}

// New constructs and registers every collector against a fresh
// registry. Using a dedicated registry rather than the global default
// keeps repeated Agent/Relay instances in the same test process from
// colliding on collector names.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaytun_agent_pool_size",
			Help: "Current number of warm, unconsumed relay-side connections in the Agent's pool.",
		}),
		ActiveTunnels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relaytun_active_tunnels",
			Help: "Number of currently paired and pumping tunnels, by listener.",
		}, []string{"listener"}),
		PairingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaytun_pairings_total",
			Help: "Total number of successful Matcher pairings.",
		}),
		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaytun_auth_failures_total",
			Help: "Total number of pipes destroyed for a missing or mismatched secret prefix.",
		}),
		BytesPumped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaytun_bytes_pumped_total",
			Help: "Total bytes copied by the Pump, by direction.",
		}, []string{"direction"}),
	}

	reg.MustRegister(m.PoolSize, m.ActiveTunnels, m.PairingsTotal, m.AuthFailuresTotal, m.BytesPumped)
	return m
}

// RecordPairing increments the pairings counter, attaching tunnelID as
// an OpenMetrics exemplar when the underlying collector supports it
// (every counter built by this package does).
func (m *Metrics) RecordPairing(tunnelID string) {
	if adder, ok := m.PairingsTotal.(prometheus.ExemplarAdder); ok {
		adder.AddWithExemplar(1, prometheus.Labels{"tunnel_id": tunnelID})
		return
	}
	m.PairingsTotal.Inc()
}

// Server serves the registered collectors on /metrics. It satisfies
// internal/transport.Component.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer binds no socket yet; Start does that.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	return &Server{addr: addr, srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.srv.Close()
	}()

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
