package testutil

import (
	"testing"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/encryption"
)

// TestPassphrase is the passphrase NewTestCryptoBox is initialized with.
const TestPassphrase = "clave-test"

// testIterations keeps key derivation fast in tests.
const testIterations = 1000

// NewTestCryptoBox returns an initialized deterministic CryptoBox.
func NewTestCryptoBox(t *testing.T) *encryption.CryptoBox {
	t.Helper()
	box := encryption.NewCryptoBox(encryption.Options{
		Iterations:        testIterations,
		Salt:              encryption.DefaultSalt,
		DeterministicSalt: true,
	}, cercasp.NewNopLogger())
	if err := box.Initialize(TestPassphrase); err != nil {
		t.Fatalf("failed to initialize crypto box: %v", err)
	}
	return box
}
