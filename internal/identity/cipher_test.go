package identity

import (
	"bytes"
	"testing"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	a, err := c.EncryptToString("hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := c.EncryptToString("hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct ciphertexts for the same plaintext")
	}

	got, err := c.DecryptString(a)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("expected hunter2, got %q", got)
	}
}

func TestCipherRejectsWrongKey(t *testing.T) {
	c1, _ := NewCipher(bytes.Repeat([]byte{1}, 32))
	c2, _ := NewCipher(bytes.Repeat([]byte{2}, 32))

	enc, err := c1.EncryptToString("secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := c2.DecryptString(enc); err == nil {
		t.Fatal("expected decrypt with wrong key to fail")
	}
}

func TestNewCipherKeyLength(t *testing.T) {
	if _, err := NewCipher([]byte("short")); err == nil {
		t.Fatal("expected short key to be rejected")
	}
}
