// Package remote implements the external document store the core syncs to.
// Store holds the shared write semantics (ids, metadata stamps, merge rules
// and change notification); backends only persist JSON documents.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cercasp-go/internal/cercasp"
)

// documents persists encoded documents. Implementations return
// cercasp.ErrNotFound from load for missing documents.
type documents interface {
	load(ctx context.Context, collection, id string) ([]byte, error)
	save(ctx context.Context, collection, id string, doc []byte) error
	remove(ctx context.Context, collection, id string) error
	list(ctx context.Context, collection string) ([][]byte, error)
	ping(ctx context.Context) error
	close() error
}

// changeFeed delivers change notifications to subscribers.
type changeFeed interface {
	publish(ctx context.Context, c cercasp.Change) error
	subscribe(ctx context.Context, collection, id string, fn cercasp.ChangeFunc) (cercasp.Unsubscribe, error)
}

// Store is a cercasp.RemoteStore over a document backend.
type Store struct {
	docs   documents
	feed   changeFeed
	ids    cercasp.IDGenerator
	clock  cercasp.Clock
	logger cercasp.Logger

	// mu serializes read-modify-write sequences (merge, update) within this
	// process.
	mu sync.Mutex
}

var _ cercasp.RemoteStore = (*Store)(nil)

func newStore(docs documents, feed changeFeed, ids cercasp.IDGenerator, clock cercasp.Clock, logger cercasp.Logger) *Store {
	return &Store{docs: docs, feed: feed, ids: ids, clock: clock, logger: logger}
}

func (s *Store) Get(ctx context.Context, collection, id string) (cercasp.Record, error) {
	if err := checkName(collection, id); err != nil {
		return nil, err
	}
	raw, err := s.docs.load(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func (s *Store) Add(ctx context.Context, collection string, data cercasp.Record, actorID string) (string, error) {
	id := s.ids.New()
	if err := checkName(collection, id); err != nil {
		return "", err
	}

	rec, err := data.Normalize()
	if err != nil {
		return "", err
	}
	rec = cercasp.StampCreate(rec, id, s.clock.Now(), actorID)

	if err := s.write(ctx, collection, id, rec); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data cercasp.Record, actorID string, merge bool) error {
	if err := checkName(collection, id); err != nil {
		return err
	}
	rec, err := data.Normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if merge {
		existing, err := s.Get(ctx, collection, id)
		switch {
		case err == nil:
			rec = cercasp.Merge(existing, rec)
		case !errors.Is(err, cercasp.ErrNotFound):
			return err
		}
	}
	return s.write(ctx, collection, id, cercasp.StampUpdate(rec, id, s.clock.Now(), actorID))
}

func (s *Store) Update(ctx context.Context, collection, id string, data cercasp.Record, actorID string) error {
	if err := checkName(collection, id); err != nil {
		return err
	}
	patch, err := data.Normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	rec := cercasp.StampUpdate(cercasp.Merge(existing, patch), id, s.clock.Now(), actorID)
	return s.write(ctx, collection, id, rec)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := checkName(collection, id); err != nil {
		return err
	}
	if err := s.docs.remove(ctx, collection, id); err != nil {
		return err
	}
	s.notify(ctx, cercasp.Change{Collection: collection, ID: id, Deleted: true})
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, constraints ...cercasp.Constraint) ([]cercasp.Record, error) {
	if err := checkName(collection, ""); err != nil {
		return nil, err
	}
	raws, err := s.docs.list(ctx, collection)
	if err != nil {
		return nil, err
	}

	records := make([]cercasp.Record, 0, len(raws))
	for _, raw := range raws {
		r, err := decode(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return cercasp.BuildQuery(constraints...).Apply(records)
}

func (s *Store) Subscribe(ctx context.Context, collection, id string, fn cercasp.ChangeFunc) (cercasp.Unsubscribe, error) {
	if err := checkName(collection, id); err != nil {
		return nil, err
	}
	return s.feed.subscribe(ctx, collection, id, fn)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.docs.ping(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.docs.close()
}

func (s *Store) write(ctx context.Context, collection, id string, rec cercasp.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", collection, id, err)
	}
	if err := s.docs.save(ctx, collection, id, raw); err != nil {
		return err
	}
	s.notify(ctx, cercasp.Change{Collection: collection, ID: id, Record: rec})
	return nil
}

// notify publishes c. The write already succeeded, so a failed publish is
// only logged.
func (s *Store) notify(ctx context.Context, c cercasp.Change) {
	if err := s.feed.publish(ctx, c); err != nil {
		s.logger.Warn("change notification failed", "collection", c.Collection, "id", c.ID, "error", err)
	}
}

func decode(raw []byte) (cercasp.Record, error) {
	var r cercasp.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return r, nil
}

// checkName rejects names that would escape a key space or directory. id may
// be empty for collection-wide calls.
func checkName(collection, id string) error {
	if collection == "" || strings.ContainsAny(collection, `/\:`) || strings.HasPrefix(collection, ".") {
		return fmt.Errorf("invalid collection name %q", collection)
	}
	if id != "" && (strings.ContainsAny(id, `/\:`) || strings.HasPrefix(id, ".")) {
		return fmt.Errorf("invalid document id %q", id)
	}
	return nil
}
