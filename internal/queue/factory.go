package queue

import (
	"fmt"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/config"
	"cercasp-go/internal/database"
)

// NewQueueFromConfig creates a Queue with one table per catalog collection.
func NewQueueFromConfig(cfg config.QueueConfig, instanceID string, cipher cercasp.FieldCipher, catalog cercasp.Catalog, clock cercasp.Clock, logger cercasp.Logger) (*Queue, error) {
	var store DurableKeyedStore
	switch cfg.Type {
	case "sqlite":
		db, err := database.NewDatabaseFromConfig(cfg, instanceID)
		if err != nil {
			return nil, fmt.Errorf("opening queue database: %w", err)
		}
		store = NewSQLiteStore(db, catalog.Names())
	case "memory":
		store = NewMemoryStore(catalog.Names())
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
	return New(store, cipher, catalog, clock, logger), nil
}
