package crypto

import (
	"os"
	"testing"

	"gitlab.com/NebulousLabs/errors"

	"github.com/water-bottle-afk/aurex/build"
)

// TestSignVerify signs data and exercises Verify with valid and corrupted
// inputs. Every rejection must surface ErrInvalidSignature so callers can
// match on it.
func TestSignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("00a1b2c3d4e5f60718293a4b5c6d7e8f00a1b2c3d4e5f60718293a4b5c6d7e8f")

	sig, err := kp.Sign(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(kp.PublicKeyPEM(), data, sig); err != nil {
		t.Fatal("valid signature did not verify:", err)
	}

	// A flipped signature byte must fail.
	bad := []byte(sig)
	if bad[0] == 'a' {
		bad[0] = 'b'
	} else {
		bad[0] = 'a'
	}
	if err := Verify(kp.PublicKeyPEM(), data, string(bad)); !errors.Contains(err, ErrInvalidSignature) {
		t.Error("corrupted signature did not yield ErrInvalidSignature:", err)
	}

	// Different data must fail.
	if err := Verify(kp.PublicKeyPEM(), []byte("other data"), sig); !errors.Contains(err, ErrInvalidSignature) {
		t.Error("wrong data did not yield ErrInvalidSignature:", err)
	}

	// A different key must fail.
	other, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(other.PublicKeyPEM(), data, sig); !errors.Contains(err, ErrInvalidSignature) {
		t.Error("wrong key did not yield ErrInvalidSignature:", err)
	}

	// Garbage inputs must fail without panicking.
	if err := Verify("not a pem block", data, sig); !errors.Contains(err, ErrInvalidSignature) {
		t.Error("garbage key did not yield ErrInvalidSignature:", err)
	}
	if err := Verify(kp.PublicKeyPEM(), data, "not hex"); !errors.Contains(err, ErrInvalidSignature) {
		t.Error("garbage signature did not yield ErrInvalidSignature:", err)
	}
}

// TestKeyPersistence checks the save/load cycle and first-boot generation.
func TestKeyPersistence(t *testing.T) {
	testdir := build.TempDir("crypto", t.Name())
	err := os.MkdirAll(testdir, 0700)
	if err != nil {
		t.Fatal(err)
	}
	nodeID := "11111111-2222-3333-4444-555555555555"

	// First call generates and persists.
	kp, err := LoadOrGenerateKeyPair(testdir, nodeID)
	if err != nil {
		t.Fatal(err)
	}
	// Second call loads the same key.
	kp2, err := LoadOrGenerateKeyPair(testdir, nodeID)
	if err != nil {
		t.Fatal(err)
	}
	if kp.PublicKeyPEM() != kp2.PublicKeyPEM() {
		t.Fatal("reloaded keypair does not match generated keypair")
	}

	// A signature from the loaded key verifies against the original public
	// key.
	sig, err := kp2.Sign([]byte("data"))
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(kp.PublicKeyPEM(), []byte("data"), sig); err != nil {
		t.Error("signature from reloaded key did not verify:", err)
	}

	// The PEM files exist on disk with the expected names.
	if _, err := os.Stat(privateKeyPath(testdir, nodeID)); err != nil {
		t.Error("private key file missing:", err)
	}
	if _, err := os.Stat(publicKeyPath(testdir, nodeID)); err != nil {
		t.Error("public key file missing:", err)
	}
}
