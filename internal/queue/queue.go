// Package queue buffers record writes locally until the remote store accepts
// them. Items survive restarts when backed by SQLite.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cercasp-go/internal/cercasp"
)

// Queue is a per-collection FIFO of encrypted payloads. It is safe for
// concurrent use.
type Queue struct {
	store   DurableKeyedStore
	cipher  cercasp.FieldCipher
	catalog cercasp.Catalog
	clock   cercasp.Clock
	logger  cercasp.Logger

	mu sync.Mutex
}

var _ cercasp.OfflineQueue = (*Queue)(nil)

// New creates a Queue over store. cipher may be nil, in which case payloads
// are stored as given.
func New(store DurableKeyedStore, cipher cercasp.FieldCipher, catalog cercasp.Catalog, clock cercasp.Clock, logger cercasp.Logger) *Queue {
	return &Queue{
		store:   store,
		cipher:  cipher,
		catalog: catalog,
		clock:   clock,
		logger:  logger,
	}
}

// Enqueue encrypts the collection's sensitive fields and appends payload.
// Fields that already carry an encryption marker are stored unchanged.
func (q *Queue) Enqueue(ctx context.Context, collection string, payload cercasp.Record) (int64, error) {
	col, err := q.catalog.Lookup(collection)
	if err != nil {
		return 0, err
	}

	record := payload
	if q.cipher != nil {
		record, err = q.cipher.EncryptObject(payload, col.SensitiveFields)
		if err != nil {
			return 0, fmt.Errorf("encrypting queued %s payload: %w", collection, err)
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return 0, fmt.Errorf("encoding queued %s payload: %w", collection, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id, err := q.store.Append(ctx, collection, data, q.clock.Now())
	if err != nil {
		return 0, storageError("enqueue", err)
	}
	q.logger.Debug("queued item", "collection", collection, "id", id)
	return id, nil
}

// DrainAll returns every pending item, oldest first. Items stay queued until
// Remove is called for them.
func (q *Queue) DrainAll(ctx context.Context, collection string) ([]cercasp.QueueItem, error) {
	q.mu.Lock()
	rows, err := q.store.Scan(ctx, collection)
	q.mu.Unlock()
	if err != nil {
		return nil, storageError("drain", err)
	}

	items := make([]cercasp.QueueItem, 0, len(rows))
	for _, row := range rows {
		var payload cercasp.Record
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, storageError("drain", fmt.Errorf("decoding %s item %d: %w", collection, row.ID, err))
		}
		items = append(items, cercasp.QueueItem{
			ID:         row.ID,
			Collection: collection,
			Payload:    payload,
			EnqueuedAt: row.EnqueuedAt,
		})
	}
	return items, nil
}

// Remove deletes one item. It is called only after the remote store accepted it.
func (q *Queue) Remove(ctx context.Context, collection string, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Delete(ctx, collection, id); err != nil {
		return storageError("remove", err)
	}
	return nil
}

// Clear deletes every pending item in collection.
func (q *Queue) Clear(ctx context.Context, collection string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Clear(ctx, collection); err != nil {
		return storageError("clear", err)
	}
	q.logger.Info("cleared queue", "collection", collection)
	return nil
}

// Len returns the number of pending items in collection.
func (q *Queue) Len(ctx context.Context, collection string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, err := q.store.Count(ctx, collection)
	if err != nil {
		return 0, storageError("count", err)
	}
	return n, nil
}

// Counts returns the pending item count for every collection.
func (q *Queue) Counts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, c := range q.Collections() {
		n, err := q.Len(ctx, c)
		if err != nil {
			return nil, err
		}
		counts[c] = n
	}
	return counts, nil
}

// Collections lists the collections with a queue table.
func (q *Queue) Collections() []string {
	return q.store.Tables()
}

// Snapshot writes a consistent copy of the underlying database to path.
// Only SQLite-backed queues support it.
func (q *Queue) Snapshot(ctx context.Context, path string) error {
	b, ok := q.store.(interface{ BackupTo(string) error })
	if !ok {
		return fmt.Errorf("queue store does not support snapshots")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.BackupTo(path); err != nil {
		return storageError("snapshot", err)
	}
	q.logger.Info("queue snapshot written", "path", path)
	return nil
}

// Close releases the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}

// storageError wraps store failures. Unknown collections pass through so
// callers can match ErrUnknownCollection directly.
func storageError(op string, err error) error {
	if errors.Is(err, cercasp.ErrUnknownCollection) {
		return err
	}
	return &cercasp.StorageError{Op: op, Err: err}
}
