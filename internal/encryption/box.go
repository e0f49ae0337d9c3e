package encryption

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"cercasp-go/internal/cercasp"
)

// saltSize is the per-record salt length used when DeterministicSalt is off.
const saltSize = 16

var errNotInitialized = errors.New("crypto box not initialized")

// Options controls key derivation for a CryptoBox.
type Options struct {
	Iterations int
	Salt       string

	// DeterministicSalt derives one key from the passphrase and the fixed Salt,
	// so the same passphrase always opens data written by any process. This
	// trades resistance to precomputed dictionary attacks for reproducibility.
	// When false, every Encrypt draws a random salt, derives a fresh key and
	// prefixes the salt to the blob.
	DeterministicSalt bool
}

// DefaultOptions returns the production settings: 100000 iterations over the
// fixed salt in deterministic mode.
func DefaultOptions() Options {
	return Options{
		Iterations:        DefaultIterations,
		Salt:              DefaultSalt,
		DeterministicSalt: true,
	}
}

// CryptoBox encrypts individual string fields with a passphrase-derived key.
// Blobs are base64(nonce ‖ ciphertext ‖ tag), with a salt prefix in per-record
// salt mode. It is safe for concurrent use.
type CryptoBox struct {
	opts   Options
	kdf    cercasp.KeyDerivation
	cipher cercasp.AuthenticatedCipher
	logger cercasp.Logger

	mu         sync.RWMutex
	key        []byte
	passphrase []byte
}

var (
	_ cercasp.FieldCipher = (*CryptoBox)(nil)
	_ cercasp.Digester    = (*CryptoBox)(nil)
)

// NewCryptoBox creates an uninitialized CryptoBox using PBKDF2 and AES-GCM.
func NewCryptoBox(opts Options, logger cercasp.Logger) *CryptoBox {
	return NewCryptoBoxWith(opts, PBKDF2{Iterations: opts.Iterations}, AESGCM{}, logger)
}

// NewCryptoBoxWith creates a CryptoBox over explicit primitives.
func NewCryptoBoxWith(opts Options, kdf cercasp.KeyDerivation, aead cercasp.AuthenticatedCipher, logger cercasp.Logger) *CryptoBox {
	if opts.Salt == "" {
		opts.Salt = DefaultSalt
	}
	return &CryptoBox{opts: opts, kdf: kdf, cipher: aead, logger: logger}
}

// Initialize derives the field key from passphrase. Calling it again replaces
// the key.
func (b *CryptoBox) Initialize(passphrase string) error {
	if passphrase == "" {
		return &cercasp.KeyDerivationError{Err: errors.New("empty passphrase")}
	}

	var key []byte
	if b.opts.DeterministicSalt {
		k, err := b.kdf.DeriveKey([]byte(passphrase), []byte(b.opts.Salt))
		if err != nil {
			return &cercasp.KeyDerivationError{Err: err}
		}
		key = k
	} else {
		// Probe the provider once so a broken KDF fails here, not on first write.
		if _, err := b.kdf.DeriveKey([]byte(passphrase), []byte(b.opts.Salt)); err != nil {
			return &cercasp.KeyDerivationError{Err: err}
		}
	}

	b.mu.Lock()
	b.key = key
	b.passphrase = []byte(passphrase)
	b.mu.Unlock()

	b.logger.Debug("crypto box initialized", "deterministic_salt", b.opts.DeterministicSalt)
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (b *CryptoBox) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.passphrase != nil
}

// Encrypt seals plaintext under a fresh nonce. Empty input gives empty output.
func (b *CryptoBox) Encrypt(plaintext string) (string, error) {
	b.mu.RLock()
	key, passphrase := b.key, b.passphrase
	b.mu.RUnlock()

	if passphrase == nil {
		return "", &cercasp.EncryptionError{Err: errNotInitialized}
	}
	if plaintext == "" {
		return "", nil
	}

	var prefix []byte
	if !b.opts.DeterministicSalt {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return "", &cercasp.EncryptionError{Err: fmt.Errorf("generating salt: %w", err)}
		}
		k, err := b.kdf.DeriveKey(passphrase, salt)
		if err != nil {
			return "", &cercasp.EncryptionError{Err: err}
		}
		key, prefix = k, salt
	}

	sealed, err := b.cipher.Seal(key, []byte(plaintext))
	if err != nil {
		return "", &cercasp.EncryptionError{Err: err}
	}
	return base64.StdEncoding.EncodeToString(append(prefix, sealed...)), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure returns the same
// DecryptionError so callers cannot tell a wrong key from tampering.
func (b *CryptoBox) Decrypt(ciphertext string) (string, error) {
	b.mu.RLock()
	key, passphrase := b.key, b.passphrase
	b.mu.RUnlock()

	if passphrase == nil {
		return "", &cercasp.EncryptionError{Err: errNotInitialized}
	}
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &cercasp.DecryptionError{}
	}

	if !b.opts.DeterministicSalt {
		if len(raw) < saltSize {
			return "", &cercasp.DecryptionError{}
		}
		k, err := b.kdf.DeriveKey(passphrase, raw[:saltSize])
		if err != nil {
			return "", &cercasp.DecryptionError{}
		}
		key, raw = k, raw[saltSize:]
	}

	plain, err := b.cipher.Open(key, raw)
	if err != nil {
		return "", &cercasp.DecryptionError{}
	}
	return string(plain), nil
}

// Digest returns the SHA-256 of text as lowercase hex.
func (b *CryptoBox) Digest(text string) string {
	return Digest(text)
}

// Digest returns the SHA-256 of text as lowercase hex.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// SHA256Digester is a stateless cercasp.Digester.
type SHA256Digester struct{}

func (SHA256Digester) Digest(text string) string { return Digest(text) }

// GenerateRandomKey returns 32 random bytes as hex, for ephemeral keys.
func GenerateRandomKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
