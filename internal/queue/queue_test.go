package queue

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/config"
	"cercasp-go/internal/database"
	"cercasp-go/internal/encryption"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func newTestBox(t *testing.T) *encryption.CryptoBox {
	t.Helper()
	box := encryption.NewCryptoBox(encryption.Options{Iterations: 1000, DeterministicSalt: true}, cercasp.NewNopLogger())
	require.NoError(t, box.Initialize("clave-test"))
	return box
}

func newTestClock() *fixedClock {
	return &fixedClock{t: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
}

// backends returns a fresh Queue per store type.
func backends(t *testing.T) map[string]*Queue {
	t.Helper()
	catalog := cercasp.DefaultCatalog()

	db, err := database.Open(database.MemoryPath)
	require.NoError(t, err)

	queues := map[string]*Queue{
		"memory": New(NewMemoryStore(catalog.Names()), newTestBox(t), catalog, newTestClock(), cercasp.NewNopLogger()),
		"sqlite": New(NewSQLiteStore(db, catalog.Names()), newTestBox(t), catalog, newTestClock(), cercasp.NewNopLogger()),
	}
	for _, q := range queues {
		t.Cleanup(func() { q.Close() })
	}
	return queues
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, n := range []string{"A", "B", "C"} {
				_, err := q.Enqueue(ctx, cercasp.CollectionPatients, cercasp.Record{"name": n})
				require.NoError(t, err)
			}

			items, err := q.DrainAll(ctx, cercasp.CollectionPatients)
			require.NoError(t, err)
			require.Len(t, items, 3)

			var names []any
			for i, it := range items {
				names = append(names, it.Payload["name"])
				assert.Equal(t, cercasp.CollectionPatients, it.Collection)
				if i > 0 {
					assert.Greater(t, it.ID, items[i-1].ID)
				}
			}
			assert.Equal(t, []any{"A", "B", "C"}, names)

			// Draining does not remove anything.
			n, err := q.Len(ctx, cercasp.CollectionPatients)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
		})
	}
}

func TestQueue_EncryptsSensitiveFields(t *testing.T) {
	ctx := context.Background()
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, cercasp.CollectionPatients, cercasp.Record{
				"name": "Juan Pérez",
				"curp": "PEPJ800101HDFRRN09",
			})
			require.NoError(t, err)

			items, err := q.DrainAll(ctx, cercasp.CollectionPatients)
			require.NoError(t, err)
			require.Len(t, items, 1)

			p := items[0].Payload
			assert.Equal(t, "Juan Pérez", p["name"])
			assert.NotEqual(t, "PEPJ800101HDFRRN09", p["curp"])
			assert.True(t, p.IsEncrypted("curp"))

			plain := newTestBox(t).DecryptObject(p, []string{"curp"})
			assert.Equal(t, "PEPJ800101HDFRRN09", plain["curp"])
		})
	}
}

func TestQueue_DoesNotReencryptMarkedFields(t *testing.T) {
	ctx := context.Background()
	box := newTestBox(t)
	sealed, err := box.EncryptObject(cercasp.Record{"curp": "PEPJ800101HDFRRN09"}, []string{"curp"})
	require.NoError(t, err)

	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, cercasp.CollectionPatients, sealed)
			require.NoError(t, err)

			items, err := q.DrainAll(ctx, cercasp.CollectionPatients)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, sealed["curp"], items[0].Payload["curp"])
		})
	}
}

func TestQueue_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			first, err := q.Enqueue(ctx, cercasp.CollectionFinanceRecords, cercasp.Record{"concept": "cuota"})
			require.NoError(t, err)
			second, err := q.Enqueue(ctx, cercasp.CollectionFinanceRecords, cercasp.Record{"concept": "donativo"})
			require.NoError(t, err)

			require.NoError(t, q.Remove(ctx, cercasp.CollectionFinanceRecords, first))
			// Removing twice is harmless.
			require.NoError(t, q.Remove(ctx, cercasp.CollectionFinanceRecords, first))

			items, err := q.DrainAll(ctx, cercasp.CollectionFinanceRecords)
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, second, items[0].ID)

			third, err := q.Enqueue(ctx, cercasp.CollectionFinanceRecords, cercasp.Record{"concept": "otro"})
			require.NoError(t, err)
			assert.Greater(t, third, second)

			require.NoError(t, q.Clear(ctx, cercasp.CollectionFinanceRecords))
			n, err := q.Len(ctx, cercasp.CollectionFinanceRecords)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestQueue_CollectionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, cercasp.CollectionPatients, cercasp.Record{"name": "A"})
			require.NoError(t, err)
			_, err = q.Enqueue(ctx, cercasp.CollectionMedicalRecords, cercasp.Record{"patientId": "p1"})
			require.NoError(t, err)

			counts, err := q.Counts(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, counts[cercasp.CollectionPatients])
			assert.Equal(t, 1, counts[cercasp.CollectionMedicalRecords])
			assert.Equal(t, 0, counts[cercasp.CollectionSystemLogs])
			assert.Equal(t, cercasp.DefaultCatalog().Names(), q.Collections())
		})
	}
}

func TestQueue_UnknownCollection(t *testing.T) {
	ctx := context.Background()
	for name, q := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := q.Enqueue(ctx, "appointments", cercasp.Record{"a": 1})
			assert.ErrorIs(t, err, cercasp.ErrUnknownCollection)

			_, err = q.DrainAll(ctx, "appointments")
			assert.ErrorIs(t, err, cercasp.ErrUnknownCollection)

			var storageErr *cercasp.StorageError
			assert.False(t, errors.As(err, &storageErr))
		})
	}
}

func TestQueue_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := config.QueueConfig{Type: "sqlite", DataDir: t.TempDir()}
	catalog := cercasp.DefaultCatalog()

	q, err := NewQueueFromConfig(cfg, "restart-test", newTestBox(t), catalog, newTestClock(), cercasp.NewNopLogger())
	require.NoError(t, err)
	id, err := q.Enqueue(ctx, cercasp.CollectionPatients, cercasp.Record{"name": "Juan Pérez", "phone": "5512345678"})
	require.NoError(t, err)
	require.NoError(t, q.Close())

	reopened, err := NewQueueFromConfig(cfg, "restart-test", newTestBox(t), catalog, newTestClock(), cercasp.NewNopLogger())
	require.NoError(t, err)
	defer reopened.Close()

	items, err := reopened.DrainAll(ctx, cercasp.CollectionPatients)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.True(t, items[0].EnqueuedAt.Equal(newTestClock().Now()))

	plain := newTestBox(t).DecryptObject(items[0].Payload, []string{"phone"})
	assert.Equal(t, "5512345678", plain["phone"])
}

func TestQueue_Snapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	catalog := cercasp.DefaultCatalog()

	q, err := NewQueueFromConfig(config.QueueConfig{Type: "sqlite", DataDir: dir}, "snap", nil, catalog, newTestClock(), cercasp.NewNopLogger())
	require.NoError(t, err)
	defer q.Close()

	_, err = q.Enqueue(ctx, cercasp.CollectionSystemLogs, cercasp.Record{"action": "login"})
	require.NoError(t, err)

	dest := filepath.Join(dir, "snapshot.db")
	require.NoError(t, q.Snapshot(ctx, dest))

	copyDB, err := database.Open(dest)
	require.NoError(t, err)
	defer copyDB.Close()

	var n int
	require.NoError(t, copyDB.SQL().QueryRow("SELECT COUNT(*) FROM queue_system_logs").Scan(&n))
	assert.Equal(t, 1, n)

	mem := New(NewMemoryStore(catalog.Names()), nil, catalog, newTestClock(), cercasp.NewNopLogger())
	assert.Error(t, mem.Snapshot(ctx, dest))
}

func TestQueue_StoreFailuresAreStorageErrors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	catalog := cercasp.DefaultCatalog()
	q := New(newSQLiteStore(db, catalog.Names()), nil, catalog, newTestClock(), cercasp.NewNopLogger())
	defer q.Close()

	diskErr := errors.New("disk I/O error")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO queue_patients")).WillReturnError(diskErr)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, payload, enqueued_at FROM queue_patients")).WillReturnError(diskErr)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM queue_patients WHERE id = ?")).WithArgs(int64(4)).WillReturnError(diskErr)

	_, err = q.Enqueue(ctx, cercasp.CollectionPatients, cercasp.Record{"name": "A"})
	var storageErr *cercasp.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "enqueue", storageErr.Op)
	assert.ErrorIs(t, err, diskErr)

	_, err = q.DrainAll(ctx, cercasp.CollectionPatients)
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "drain", storageErr.Op)

	err = q.Remove(ctx, cercasp.CollectionPatients, 4)
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "remove", storageErr.Op)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_CorruptPayload(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	catalog := cercasp.DefaultCatalog()
	q := New(newSQLiteStore(db, catalog.Names()), nil, catalog, newTestClock(), cercasp.NewNopLogger())
	defer q.Close()

	rows := sqlmock.NewRows([]string{"id", "payload", "enqueued_at"}).AddRow(int64(1), "{not json", int64(0))
	mock.ExpectQuery("SELECT id, payload, enqueued_at FROM queue_medical_records").WillReturnRows(rows)

	_, err = q.DrainAll(ctx, cercasp.CollectionMedicalRecords)
	var storageErr *cercasp.StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestNewQueueFromConfig(t *testing.T) {
	catalog := cercasp.DefaultCatalog()
	tests := []struct {
		name    string
		cfg     config.QueueConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.QueueConfig{Type: "memory"}},
		{name: "sqlite", cfg: config.QueueConfig{Type: "sqlite", DataDir: t.TempDir()}},
		{name: "sqlite without data dir", cfg: config.QueueConfig{Type: "sqlite"}, wantErr: true},
		{name: "unknown type", cfg: config.QueueConfig{Type: "postgres"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := NewQueueFromConfig(tt.cfg, "i1", nil, catalog, newTestClock(), cercasp.NewNopLogger())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, q.Close())
		})
	}
}
