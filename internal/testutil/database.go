package testutil

import (
	"testing"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/database"
	"cercasp-go/internal/queue"
)

// NewTestQueue creates an offline queue over an in-memory SQLite database
// with the schema applied. It is closed when the test completes.
func NewTestQueue(t *testing.T, cipher cercasp.FieldCipher, clock cercasp.Clock) *queue.Queue {
	t.Helper()

	db, err := database.Open(database.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	catalog := cercasp.DefaultCatalog()
	q := queue.New(queue.NewSQLiteStore(db, catalog.Names()), cipher, catalog, clock, cercasp.NewNopLogger())
	t.Cleanup(func() {
		q.Close()
	})
	return q
}
