package remote

import (
	"context"
	"fmt"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/config"
)

// NewRemoteStoreFromConfig creates a Store based on the configuration type.
func NewRemoteStoreFromConfig(ctx context.Context, cfg config.RemoteConfig, ids cercasp.IDGenerator, clock cercasp.Clock, logger cercasp.Logger) (*Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(ids, clock, logger), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("fs_root required for filesystem remote")
		}
		return NewFileSystemStore(cfg.FSRoot, ids, clock, logger)
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url required for redis remote")
		}
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix, ids, clock, logger)
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
