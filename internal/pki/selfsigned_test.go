package pki

import (
	"testing"
	"time"
)

func TestGenerateSelfSigned_ValidForRequestedWindow(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSigned("relay.example", DefaultValidity)
	if err != nil {
		t.Fatalf("GenerateSelfSigned: %v", err)
	}
	if cert.Leaf == nil {
		t.Fatal("expected parsed leaf certificate")
	}
	if cert.Leaf.Subject.CommonName != "relay.example" {
		t.Fatalf("got CN %q, want %q", cert.Leaf.Subject.CommonName, "relay.example")
	}
	now := time.Now()
	if cert.Leaf.NotBefore.After(now) || cert.Leaf.NotAfter.Before(now) {
		t.Fatal("certificate is not currently valid")
	}
	if cert.Leaf.NotAfter.Sub(cert.Leaf.NotBefore) < DefaultValidity {
		t.Fatalf("validity window too short: %v", cert.Leaf.NotAfter.Sub(cert.Leaf.NotBefore))
	}
}
