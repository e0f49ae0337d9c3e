package database

import (
	"os"
	"path/filepath"
	"testing"

	"cercasp-go/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(config.QueueConfig{Type: "memory"}, "instance-123")
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if got.Path() != MemoryPath {
			t.Errorf("Path() = %q, want %q", got.Path(), MemoryPath)
		}
		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() = %v, want nil", err)
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "queue")
		cfg := config.QueueConfig{Type: "sqlite", DataDir: dir}

		got, err := NewDatabaseFromConfig(cfg, "instance-123")
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		want := filepath.Join(dir, "instance-123.db")
		if got.Path() != want {
			t.Errorf("Path() = %q, want %q", got.Path(), want)
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("sqlite without data dir", func(t *testing.T) {
		if _, err := NewDatabaseFromConfig(config.QueueConfig{Type: "sqlite"}, "x"); err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing data_dir")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewDatabaseFromConfig(config.QueueConfig{Type: "postgres"}, "x"); err == nil {
			t.Error("NewDatabaseFromConfig() expected error for unknown type")
		}
	})
}

func TestDB_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := db.SQL().Exec(`INSERT INTO queue_patients (payload, enqueued_at) VALUES ('{}', 1)`); err != nil {
		t.Fatalf("insert error = %v", err)
	}
	db.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer reopened.Close()

	var n int
	if err := reopened.SQL().QueryRow(`SELECT COUNT(*) FROM queue_patients`).Scan(&n); err != nil {
		t.Fatalf("count error = %v", err)
	}
	if n != 1 {
		t.Errorf("rows after reopen = %d, want 1", n)
	}
}

func TestDB_BackupTo(t *testing.T) {
	db, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := db.SQL().Exec(`INSERT INTO queue_finance_records (payload, enqueued_at) VALUES ('{"rfc":"x"}', 1)`); err != nil {
		t.Fatalf("insert error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "snapshot.db")
	if err := db.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	copyDB, err := Open(dest)
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer copyDB.Close()

	var n int
	if err := copyDB.SQL().QueryRow(`SELECT COUNT(*) FROM queue_finance_records`).Scan(&n); err != nil {
		t.Fatalf("count error = %v", err)
	}
	if n != 1 {
		t.Errorf("rows in snapshot = %d, want 1", n)
	}
}
