package cercasp

import (
	"context"
	"time"
)

// QueueItem is a write that could not reach the remote store yet.
type QueueItem struct {
	ID         int64
	Collection string
	Payload    Record
	EnqueuedAt time.Time
}

// OfflineQueue buffers writes locally until they are accepted remotely.
type OfflineQueue interface {
	// Enqueue stores payload and returns its local id. Ids increase
	// monotonically per collection.
	Enqueue(ctx context.Context, collection string, payload Record) (int64, error)

	// DrainAll returns pending items oldest first without removing them.
	DrainAll(ctx context.Context, collection string) ([]QueueItem, error)

	// Remove deletes one item after the remote store accepted it.
	Remove(ctx context.Context, collection string, id int64) error

	// Clear deletes every item in collection.
	Clear(ctx context.Context, collection string) error

	// Collections lists the collections the queue holds tables for.
	Collections() []string
}

// BackgroundTrigger wakes the sync loop. Each receive on C requests one pass.
type BackgroundTrigger interface {
	C() <-chan struct{}
	Stop()
}

// Actor returns the id of the account that queued the item, or "" when the
// payload does not record one.
func (it QueueItem) Actor() string {
	id, _ := it.Payload[FieldCreatedBy].(string)
	return id
}
