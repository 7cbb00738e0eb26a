// Package crypto tests for credential sealing.
package crypto

import (
	"strings"
	"testing"
)

// TestSealOpen_roundTrip verifies decryption recovers the plaintext.
func TestSealOpen_roundTrip(t *testing.T) {
	sealed, err := Seal([]byte("tok-secret"), "machine|/data")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.Contains(sealed, "tok-secret") {
		t.Error("sealed value contains plaintext")
	}

	plain, err := Open(sealed, "machine|/data")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(plain) != "tok-secret" {
		t.Errorf("Open() = %q, want tok-secret", plain)
	}
}

// TestSeal_nondeterministic verifies a fresh nonce per call.
func TestSeal_nondeterministic(t *testing.T) {
	a, err := Seal([]byte("same"), "key")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	b, err := Seal([]byte("same"), "key")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if a == b {
		t.Error("two seals of the same plaintext are identical")
	}
}

// TestOpen_wrongKey verifies the wrong key material fails cleanly.
func TestOpen_wrongKey(t *testing.T) {
	sealed, err := Seal([]byte("tok"), "right-key")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if _, err := Open(sealed, "wrong-key"); err != ErrInvalidCiphertext {
		t.Errorf("Open() error = %v, want ErrInvalidCiphertext", err)
	}
}

// TestOpen_garbage verifies malformed input never panics.
func TestOpen_garbage(t *testing.T) {
	for _, input := range []string{"", "not-base64!!!", "aGVsbG8="} {
		if _, err := Open(input, "key"); err != ErrInvalidCiphertext {
			t.Errorf("Open(%q) error = %v, want ErrInvalidCiphertext", input, err)
		}
	}
}

// TestMachineKey_stable verifies the key material is deterministic per
// install.
func TestMachineKey_stable(t *testing.T) {
	a := MachineKey("/data/one")
	b := MachineKey("/data/one")
	if a != b {
		t.Error("MachineKey() not stable for the same data dir")
	}
	if MachineKey("/data/two") == a {
		t.Error("MachineKey() identical across installs")
	}
}
