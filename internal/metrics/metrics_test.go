package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_RegistersEveryCollectorWithoutPanicking(t *testing.T) {
	t.Parallel()

	m := New()
	if m.PoolSize == nil || m.ActiveTunnels == nil || m.PairingsTotal == nil ||
		m.AuthFailuresTotal == nil || m.BytesPumped == nil {
		t.Fatal("New returned a Metrics with a nil collector")
	}

	// A second instance must not collide with the first: each gets its
	// own registry, so this must not panic with "duplicate metrics
	// collector registration attempted".
	_ = New()
}

func TestRecordPairing_IncrementsCounter(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordPairing("relay-1-public-2")

	if got := testCounterValue(t, m.PairingsTotal); got != 1 {
		t.Fatalf("PairingsTotal = %v, want 1", got)
	}
}

func TestServer_ServesMetricsEndpoint(t *testing.T) {
	t.Parallel()

	m := New()
	m.PoolSize.Set(3)
	m.RecordPairing("tunnel-abc")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	s := NewServer(addr, m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/metrics")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	if !strings.Contains(string(body), "relaytun_agent_pool_size 3") {
		t.Fatalf("expected pool size gauge in output, got:\n%s", body)
	}
	if !strings.Contains(string(body), "relaytun_pairings_total") {
		t.Fatalf("expected pairings counter in output, got:\n%s", body)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Start returned: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after context cancellation")
	}
}

// testCounterValue reads back a plain (non-vector) counter's value via
// its own Write method, avoiding a dependency on the
// prometheus/client_golang/testutil package.
func testCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
