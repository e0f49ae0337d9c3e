package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/database"
)

// sqliteStore keeps each collection in its own queue_<collection> table.
type sqliteStore struct {
	db     *sql.DB
	owner  *database.DB // nil when built over a bare connection
	tables map[string]string
}

var _ DurableKeyedStore = (*sqliteStore)(nil)

// NewSQLiteStore creates a store over an opened, migrated database. The store
// takes ownership of db and closes it on Close.
func NewSQLiteStore(db *database.DB, collections []string) DurableKeyedStore {
	s := newSQLiteStore(db.SQL(), collections)
	s.owner = db
	return s
}

func newSQLiteStore(db *sql.DB, collections []string) *sqliteStore {
	tables := make(map[string]string, len(collections))
	for _, c := range collections {
		tables[c] = "queue_" + c
	}
	return &sqliteStore{db: db, tables: tables}
}

// table maps a collection to its table name. Table names cannot be bound as
// parameters, so only names from the fixed set ever reach a query.
func (s *sqliteStore) table(collection string) (string, error) {
	t, ok := s.tables[collection]
	if !ok {
		return "", fmt.Errorf("%w: %s", cercasp.ErrUnknownCollection, collection)
	}
	return t, nil
}

func (s *sqliteStore) Tables() []string {
	names := make([]string, 0, len(s.tables))
	for c := range s.tables {
		names = append(names, c)
	}
	sort.Strings(names)
	return names
}

func (s *sqliteStore) Append(ctx context.Context, collection string, payload []byte, enqueuedAt time.Time) (int64, error) {
	t, err := s.table(collection)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO "+t+" (payload, enqueued_at) VALUES (?, ?)",
		string(payload), enqueuedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("inserting into %s: %w", t, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading id from %s: %w", t, err)
	}
	return id, nil
}

func (s *sqliteStore) Scan(ctx context.Context, collection string) ([]StoredItem, error) {
	t, err := s.table(collection)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, payload, enqueued_at FROM "+t+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", t, err)
	}
	defer rows.Close()

	var items []StoredItem
	for rows.Next() {
		var (
			item    StoredItem
			payload string
			at      int64
		)
		if err := rows.Scan(&item.ID, &payload, &at); err != nil {
			return nil, fmt.Errorf("reading row from %s: %w", t, err)
		}
		item.Payload = []byte(payload)
		item.EnqueuedAt = time.Unix(0, at).UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", t, err)
	}
	return items, nil
}

func (s *sqliteStore) Delete(ctx context.Context, collection string, id int64) error {
	t, err := s.table(collection)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t+" WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting %d from %s: %w", id, t, err)
	}
	return nil
}

func (s *sqliteStore) Clear(ctx context.Context, collection string) error {
	t, err := s.table(collection)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
		return fmt.Errorf("clearing %s: %w", t, err)
	}
	return nil
}

func (s *sqliteStore) Count(ctx context.Context, collection string) (int, error) {
	t, err := s.table(collection)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", t, err)
	}
	return n, nil
}

// BackupTo writes a consistent copy of the queue database to path.
func (s *sqliteStore) BackupTo(path string) error {
	if s.owner == nil {
		return fmt.Errorf("store has no backing database file")
	}
	return s.owner.BackupTo(path)
}

func (s *sqliteStore) Close() error {
	if s.owner != nil {
		return s.owner.Close()
	}
	return s.db.Close()
}
