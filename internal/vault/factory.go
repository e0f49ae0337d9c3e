package vault

import (
	"context"
	"fmt"

	"cercasp-go/internal/config"
)

// NewVaultFromConfig creates a Vault implementation based on the vault config
// type. getenv resolves the S3 credential variables named in cfg.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig, getenv func(string) string) (Vault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "s3":
		opts := S3Options{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		}
		if cfg.S3AccessKeyEnv != "" {
			opts.AccessKeyID = getenv(cfg.S3AccessKeyEnv)
			opts.SecretAccessKey = getenv(cfg.S3SecretKeyEnv)
			if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
				return nil, fmt.Errorf("s3 vault credentials %s/%s are not set", cfg.S3AccessKeyEnv, cfg.S3SecretKeyEnv)
			}
		}
		return NewS3Vault(ctx, cfg.Name, opts)
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		return NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}
