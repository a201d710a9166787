package pump

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/relaytun/relaytun/internal/socket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_CopiesBidirectionallyUntilClose(t *testing.T) {
	t.Parallel()

	a, a2 := net.Pipe()
	b, b2 := net.Pipe()
	defer a2.Close()
	defer b2.Close()

	pa := socket.New(socket.RoleRelaySide, a, "k")
	pb := socket.New(socket.RolePublicSide, b, "k")

	var (
		mu       sync.Mutex
		released []*socket.Pipe
	)
	done := make(chan struct{})
	go func() {
		Run(pa, pb, func(p *socket.Pipe) {
			mu.Lock()
			released = append(released, p)
			mu.Unlock()
		}, 0, 0, discardLogger())
		close(done)
	}()

	// a2 -> should surface on b2.
	if _, err := a2.Write([]byte("ping")); err != nil {
		t.Fatalf("write a2: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(b2, buf); err != nil {
		t.Fatalf("read b2: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q, want %q", buf, "ping")
	}

	// b2 -> should surface on a2.
	if _, err := b2.Write([]byte("pong")); err != nil {
		t.Fatalf("write b2: %v", err)
	}
	if _, err := io.ReadFull(a2, buf); err != nil {
		t.Fatalf("read a2: %v", err)
	}
	if string(buf) != "pong" {
		t.Fatalf("got %q, want %q", buf, "pong")
	}

	// Closing one remote end must collapse the whole tunnel.
	a2.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after one side closed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(released) != 2 {
		t.Fatalf("expected both pipes released, got %d", len(released))
	}

	b2.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := b2.Write([]byte("x")); err == nil {
		t.Fatal("expected write to fail once the relay side is destroyed")
	}
}

func TestRun_IdleTimeoutCollapsesTunnel(t *testing.T) {
	t.Parallel()

	a, a2 := net.Pipe()
	b, b2 := net.Pipe()
	defer a2.Close()
	defer b2.Close()

	pa := socket.New(socket.RoleRelaySide, a, "k")
	pb := socket.New(socket.RolePublicSide, b, "k")

	done := make(chan struct{})
	go func() {
		Run(pa, pb, func(*socket.Pipe) {}, 30*time.Millisecond, 30*time.Millisecond, discardLogger())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not collapse an idle tunnel")
	}
}
