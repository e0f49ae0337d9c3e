package encryption

import (
	"fmt"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/config"
)

// NewCryptoBoxFromConfig creates an uninitialized CryptoBox from configuration.
func NewCryptoBoxFromConfig(cfg config.CryptoConfig, logger cercasp.Logger) (*CryptoBox, error) {
	opts := DefaultOptions()
	if cfg.Iterations != 0 {
		if cfg.Iterations < 0 {
			return nil, fmt.Errorf("crypto iterations must be positive, got %d", cfg.Iterations)
		}
		opts.Iterations = cfg.Iterations
	}
	if cfg.Salt != "" {
		opts.Salt = cfg.Salt
	}
	opts.DeterministicSalt = cfg.Deterministic()

	switch cfg.Cipher {
	case "aes-256-gcm", "":
		return NewCryptoBox(opts, logger), nil
	default:
		return nil, fmt.Errorf("unknown cipher: %q", cfg.Cipher)
	}
}
