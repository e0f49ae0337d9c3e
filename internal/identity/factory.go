package identity

import (
	"fmt"
	"time"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/config"
)

// NewProviderFromConfig builds the identity provider described by cfg.
// getenv resolves the token secret from cfg.TokenSecretEnv.
func NewProviderFromConfig(cfg config.IdentityConfig, getenv func(string) string, notifier ResetNotifier, clock cercasp.Clock, ids cercasp.IDGenerator, logger cercasp.Logger) (*LocalProvider, error) {
	switch cfg.Type {
	case "local", "":
		if cfg.TokenSecretEnv == "" {
			return nil, fmt.Errorf("identity token_secret_env is required")
		}
		secret := getenv(cfg.TokenSecretEnv)
		if secret == "" {
			return nil, fmt.Errorf("environment variable %s is not set", cfg.TokenSecretEnv)
		}
		return NewLocalProvider(Options{
			AccountsFile:        cfg.AccountsFile,
			TokenSecret:         []byte(secret),
			TokenTTL:            time.Duration(cfg.TokenTTLMinutes) * time.Minute,
			SignInRatePerMinute: cfg.SignInRatePerMinute,
			SignInBurst:         cfg.SignInBurst,
		}, notifier, clock, ids, logger)
	default:
		return nil, fmt.Errorf("unknown identity type: %s", cfg.Type)
	}
}
