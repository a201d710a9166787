package agent

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRelay accepts connections and hands each one to a channel so a
// test can drive the wait-for-first-byte protocol by hand.
type fakeRelay struct {
	ln      net.Listener
	conns   chan net.Conn
	closeWg sync.WaitGroup
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r := &fakeRelay{ln: ln, conns: make(chan net.Conn, 16)}
	r.closeWg.Add(1)
	go func() {
		defer r.closeWg.Done()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			r.conns <- c
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		r.closeWg.Wait()
	})
	return r
}

func (r *fakeRelay) next(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-r.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("fake relay never saw an incoming connection")
		return nil
	}
}

func newFakeTarget(t *testing.T) (addr string, accepted chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	accepted = make(chan net.Conn, 16)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- c
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String(), accepted
}

func TestPool_OpensNumConnConnectionsOnStart(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t)
	targetAddr, _ := newFakeTarget(t)

	p, err := New(Config{
		RelayAddress:  relay.ln.Addr().String(),
		TargetAddress: targetAddr,
		NumConn:       3,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		relay.next(t)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after ctx cancellation")
	}
}

func TestPool_PairingOpensTargetAndReplaysBufferedBytes(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t)
	targetAddr, targetConns := newFakeTarget(t)

	p, err := New(Config{
		RelayAddress:  relay.ln.Addr().String(),
		TargetAddress: targetAddr,
		NumConn:       1,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Start(ctx)

	relayConn := relay.next(t)
	defer relayConn.Close()

	// Send the first byte: this should consume the pool member,
	// trigger an immediate replacement connection, and dial the
	// target with the bytes replayed onto it.
	if _, err := relayConn.Write([]byte("hello-target")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// A replacement should show up at the relay listener with no
	// artificial delay.
	_ = relay.next(t)

	var targetConn net.Conn
	select {
	case targetConn = <-targetConns:
	case <-time.After(2 * time.Second):
		t.Fatal("target was never dialed")
	}
	defer targetConn.Close()

	buf := make([]byte, len("hello-target"))
	if _, err := io.ReadFull(targetConn, buf); err != nil {
		t.Fatalf("read target: %v", err)
	}
	if string(buf) != "hello-target" {
		t.Fatalf("got %q, want %q", buf, "hello-target")
	}

	// Further bytes on either side should now pump through.
	if _, err := relayConn.Write([]byte("more")); err != nil {
		t.Fatalf("write more: %v", err)
	}
	buf2 := make([]byte, len("more"))
	if _, err := io.ReadFull(targetConn, buf2); err != nil {
		t.Fatalf("read pumped bytes: %v", err)
	}
	if string(buf2) != "more" {
		t.Fatalf("got %q, want %q", buf2, "more")
	}
}

func TestPool_BrokenHalfSchedulesReplacementAfterDelay(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t)
	targetAddr, _ := newFakeTarget(t)

	p, err := New(Config{
		RelayAddress:  relay.ln.Addr().String(),
		TargetAddress: targetAddr,
		NumConn:       1,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.replacementDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go p.Start(ctx)

	first := relay.next(t)
	first.Close() // fails the wait-for-first-byte read before any pairing

	// No replacement should appear before the delay elapses.
	select {
	case <-relay.conns:
		t.Fatal("replacement connected before the replacement delay elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	// But one should appear shortly after.
	select {
	case c := <-relay.conns:
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("no replacement connection after the delay")
	}
}

func TestPool_StopSuppressesScheduledReplacement(t *testing.T) {
	t.Parallel()

	relay := newFakeRelay(t)
	targetAddr, _ := newFakeTarget(t)

	p, err := New(Config{
		RelayAddress:  relay.ln.Addr().String(),
		TargetAddress: targetAddr,
		NumConn:       1,
	}, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.replacementDelay = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	first := relay.next(t)
	first.Close()

	// Stop (via cancelling ctx) before the replacement delay elapses.
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}

	select {
	case <-relay.conns:
		t.Fatal("a replacement connected after termination was requested")
	case <-time.After(100 * time.Millisecond):
	}
}
