package database

import (
	"fmt"
	"os"
	"path/filepath"

	"cercasp-go/internal/config"
)

// NewDatabaseFromConfig opens the local queue database named after the instance.
func NewDatabaseFromConfig(cfg config.QueueConfig, instanceID string) (*DB, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite queue")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating queue data dir: %w", err)
		}
		return Open(filepath.Join(cfg.DataDir, instanceID+".db"))
	case "memory":
		return Open(MemoryPath)
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
