package queue

import (
	"context"
	"time"
)

// StoredItem is a raw queue row.
type StoredItem struct {
	ID         int64
	Payload    []byte
	EnqueuedAt time.Time
}

// DurableKeyedStore is the local persistence behind a Queue: one append-only
// table per collection with store-assigned, increasing ids. Stores are not
// safe for concurrent use; Queue serializes access.
type DurableKeyedStore interface {
	// Tables lists the collections this store holds a table for.
	Tables() []string

	// Append adds a row and returns its id.
	Append(ctx context.Context, collection string, payload []byte, enqueuedAt time.Time) (int64, error)

	// Scan returns every row in id order.
	Scan(ctx context.Context, collection string) ([]StoredItem, error)

	// Delete removes one row. Deleting a missing row is not an error.
	Delete(ctx context.Context, collection string, id int64) error

	// Clear removes every row.
	Clear(ctx context.Context, collection string) error

	Count(ctx context.Context, collection string) (int, error)

	Close() error
}
