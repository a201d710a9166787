package auth

import (
	"net"
	"testing"
	"time"

	"github.com/relaytun/relaytun/internal/socket"
)

func TestAuthenticate_NoSecret_AuthorizesImmediately(t *testing.T) {
	t.Parallel()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	p := socket.New(socket.RoleRelaySide, c1, "")
	if err := Authenticate(p, nil, 0); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !p.Authorized() {
		t.Fatal("expected authorized with no secret configured")
	}
}

func TestAuthenticate_CorrectSecret_StripsPrefix(t *testing.T) {
	t.Parallel()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	p := socket.New(socket.RoleRelaySide, c1, "")

	done := make(chan error, 1)
	go func() { done <- Authenticate(p, []byte("s3cret"), time.Second) }()

	if _, err := c2.Write([]byte("s3crethello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !p.Authorized() {
		t.Fatal("expected authorized")
	}

	chunks := p.DrainPending()
	var got []byte
	for _, c := range chunks {
		got = append(got, c...)
	}
	if string(got) != "hello" {
		t.Fatalf("expected stripped payload %q, got %q", "hello", got)
	}
}

func TestAuthenticate_WrongSecret_DestroysConnection(t *testing.T) {
	t.Parallel()

	c1, c2 := net.Pipe()
	defer c2.Close()

	p := socket.New(socket.RoleRelaySide, c1, "")

	done := make(chan error, 1)
	go func() { done <- Authenticate(p, []byte("s3cret"), time.Second) }()

	if _, err := c2.Write([]byte("WRONG!")); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := <-done
	if err == nil {
		t.Fatal("expected auth mismatch error")
	}
	if p.Authorized() {
		t.Fatal("must not authorize on mismatch")
	}

	// The connection must be closed: further writes from the other
	// end should eventually fail once the pipe is drained.
	c2.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := c2.Write([]byte("more")); err == nil {
		t.Fatal("expected write to closed pipe to fail")
	}
}

func TestAuthenticate_SecretStraddlingChunks_NeverMatches(t *testing.T) {
	t.Parallel()

	// Documents the preserved source quirk (spec.md §9): a secret
	// split across two separate Read-delivered chunks never matches,
	// because only the first buffered chunk is ever inspected.
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	p := socket.New(socket.RoleRelaySide, c1, "")

	done := make(chan error, 1)
	go func() { done <- Authenticate(p, []byte("s3cret"), 200*time.Millisecond) }()

	if _, err := c2.Write([]byte("s3c")); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c2.Write([]byte("ret")); err != nil {
		t.Fatalf("write: %v", err)
	}

	err := <-done
	if err == nil {
		t.Fatal("expected timeout: straddling secret must never match")
	}
	if p.Authorized() {
		t.Fatal("must not authorize when secret straddles chunks")
	}
}

func TestAuthenticate_TimesOutWithoutData(t *testing.T) {
	t.Parallel()

	c1, c2 := net.Pipe()
	defer c2.Close()

	p := socket.New(socket.RoleRelaySide, c1, "")

	err := Authenticate(p, []byte("s3cret"), 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected auth timeout")
	}
	if p.Authorized() {
		t.Fatal("must not authorize after timeout")
	}
}
