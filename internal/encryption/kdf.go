package encryption

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/pbkdf2"

	"cercasp-go/internal/cercasp"
)

const (
	// DefaultIterations is the PBKDF2 iteration count for field keys.
	DefaultIterations = 100000

	// DefaultSalt is the fixed salt used in deterministic mode.
	DefaultSalt = "cercasp-2023-salt"

	keyLength = 32
)

// PBKDF2 derives AES-256 keys with PBKDF2-HMAC-SHA256.
type PBKDF2 struct {
	Iterations int
}

var _ cercasp.KeyDerivation = PBKDF2{}

// DeriveKey returns a 32-byte key. The same passphrase and salt always give
// the same key.
func (k PBKDF2) DeriveKey(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	if k.Iterations <= 0 {
		return nil, errors.New("iteration count must be positive")
	}
	if len(salt) == 0 {
		return nil, errors.New("empty salt")
	}
	return pbkdf2.Key(passphrase, salt, k.Iterations, keyLength, sha256.New), nil
}
