package cercasp

import (
	"context"
	"time"
)

// Server-assigned fields stamped on every remote write.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldCreatedBy = "createdBy"
	FieldUpdatedBy = "updatedBy"
)

// Change describes a document write observed by a subscription.
type Change struct {
	Collection string
	ID         string
	Record     Record // nil when Deleted
	Deleted    bool
}

// ChangeFunc receives document changes. Depending on the backend it runs on
// the writer's goroutine or on a notification goroutine, so it must not block
// for long.
type ChangeFunc func(Change)

// Unsubscribe cancels a subscription. Calling it more than once is safe.
type Unsubscribe func()

// RemoteStore is the external system of record. Writes are delivered at least
// once; callers that replay must tolerate duplicates.
type RemoteStore interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Record, error)

	// Add creates a document with a store-assigned id.
	Add(ctx context.Context, collection string, data Record, actorID string) (string, error)

	// Set creates or replaces a document. With merge, fields are overlaid on
	// the existing document instead.
	Set(ctx context.Context, collection, id string, data Record, actorID string, merge bool) error

	// Update overlays fields on an existing document or returns ErrNotFound.
	Update(ctx context.Context, collection, id string, data Record, actorID string) error

	Delete(ctx context.Context, collection, id string) error

	Query(ctx context.Context, collection string, constraints ...Constraint) ([]Record, error)

	// Subscribe calls fn for changes in collection. An empty id watches the
	// whole collection.
	Subscribe(ctx context.Context, collection, id string, fn ChangeFunc) (Unsubscribe, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// StampCreate returns a copy of data with creation and update metadata set.
func StampCreate(data Record, id string, now time.Time, actorID string) Record {
	out := data.Clone()
	ts := FormatTimestamp(now)
	out[FieldID] = id
	out[FieldCreatedAt] = ts
	out[FieldUpdatedAt] = ts
	out[FieldCreatedBy] = actorOrNil(actorID)
	return out
}

// StampUpdate returns a copy of data with update metadata set.
func StampUpdate(data Record, id string, now time.Time, actorID string) Record {
	out := data.Clone()
	out[FieldID] = id
	out[FieldUpdatedAt] = FormatTimestamp(now)
	out[FieldUpdatedBy] = actorOrNil(actorID)
	return out
}

// Merge overlays patch on base and returns the result as a new Record.
func Merge(base, patch Record) Record {
	out := base.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func actorOrNil(actorID string) any {
	if actorID == "" {
		return nil
	}
	return actorID
}
