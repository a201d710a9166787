package listener

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/relaytun/relaytun/internal/socket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdapter_PlainAccept_NoSecret_NullTunnelKey(t *testing.T) {
	t.Parallel()

	a, err := New(Config{
		Address: "127.0.0.1:0",
		Role:    socket.RoleRelaySide,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan *socket.Pipe, 1)
	go a.Start(ctx, func(p *socket.Pipe) { ready <- p })

	conn, err := net.Dial("tcp", a.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case p := <-ready:
		if !p.Authorized() {
			t.Fatal("expected pipe to be authorized with no secret configured")
		}
		if p.TunnelKey != "" {
			t.Fatalf("expected null tunnel key, got %q", p.TunnelKey)
		}
		if p.Role != socket.RoleRelaySide {
			t.Fatalf("expected relay-side role, got %v", p.Role)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onReady was never called")
	}
}

func TestAdapter_PlainAccept_SecretGating(t *testing.T) {
	t.Parallel()

	a, err := New(Config{
		Address: "127.0.0.1:0",
		Role:    socket.RoleRelaySide,
		Secret:  []byte("s3cret"),
	}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan *socket.Pipe, 1)
	go a.Start(ctx, func(p *socket.Pipe) { ready <- p })

	goodConn, err := net.Dial("tcp", a.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer goodConn.Close()
	if _, err := goodConn.Write([]byte("s3crethello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case p := <-ready:
		if !p.Authorized() {
			t.Fatal("expected authorized pipe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onReady was never called for a correctly-gated connection")
	}

	badConn, err := net.Dial("tcp", a.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer badConn.Close()
	if _, err := badConn.Write([]byte("WRONG!")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-ready:
		t.Fatal("onReady must not fire for a mismatched secret")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAdapter_BindFailure(t *testing.T) {
	t.Parallel()

	held, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer held.Close()

	_, err = New(Config{Address: held.Addr().String(), Role: socket.RolePublicSide}, discardLogger())
	if err == nil {
		t.Fatal("expected a bind failure for an address already in use")
	}
}
