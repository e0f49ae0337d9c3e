package vault

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/config"
)

// vaultContract runs the behavior every backend must share.
func vaultContract(t *testing.T, newVault func(t *testing.T) Vault) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		v := newVault(t)
		if err := v.Put(ctx, "snapshots/i1/a.age", strings.NewReader("hello world"), 11); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		var buf bytes.Buffer
		if err := v.Get(ctx, "snapshots/i1/a.age", &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != "hello world" {
			t.Errorf("Get() = %q, want %q", buf.String(), "hello world")
		}
	})

	t.Run("put replaces", func(t *testing.T) {
		v := newVault(t)
		if err := v.Put(ctx, "k", strings.NewReader("one"), 3); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := v.Put(ctx, "k", strings.NewReader("three"), -1); err != nil {
			t.Fatalf("Put() with unknown size error = %v", err)
		}
		var buf bytes.Buffer
		if err := v.Get(ctx, "k", &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != "three" {
			t.Errorf("Get() = %q, want %q", buf.String(), "three")
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		v := newVault(t)
		if err := v.Put(ctx, "short", strings.NewReader("hello"), 100); err == nil {
			t.Error("Put() expected size mismatch error")
		}
	})

	t.Run("missing key", func(t *testing.T) {
		v := newVault(t)
		err := v.Get(ctx, "snapshots/none", &bytes.Buffer{})
		if !errors.Is(err, cercasp.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		v := newVault(t)
		for _, key := range []string{"", "/abs", "../escape", "a/../b", "a//b", `a\b`, ".tmp-x"} {
			if err := v.Put(ctx, key, strings.NewReader("x"), 1); err == nil {
				t.Errorf("Put(%q) expected error", key)
			}
		}
	})

	t.Run("list by prefix", func(t *testing.T) {
		v := newVault(t)
		for _, key := range []string{"snapshots/i1/2.age", "snapshots/i1/1.age", "snapshots/i2/1.age", "other"} {
			if err := v.Put(ctx, key, strings.NewReader(key), int64(len(key))); err != nil {
				t.Fatalf("Put(%q) error = %v", key, err)
			}
		}

		objects, err := v.List(ctx, "snapshots/i1/")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(objects) != 2 {
			t.Fatalf("List() returned %d objects, want 2", len(objects))
		}
		if objects[0].Key != "snapshots/i1/1.age" || objects[1].Key != "snapshots/i1/2.age" {
			t.Errorf("List() keys = %q, %q", objects[0].Key, objects[1].Key)
		}
		if objects[0].Size != int64(len("snapshots/i1/1.age")) {
			t.Errorf("Size = %d", objects[0].Size)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		if err := newVault(t).ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}

func TestMemoryVault(t *testing.T) {
	vaultContract(t, func(*testing.T) Vault { return NewMemoryVault("test") })
}

func TestFileSystemVault(t *testing.T) {
	vaultContract(t, func(t *testing.T) Vault {
		v, err := NewFileSystemVault("test", filepath.Join(t.TempDir(), "vault"))
		if err != nil {
			t.Fatalf("NewFileSystemVault() error = %v", err)
		}
		return v
	})
}

func TestS3Vault(t *testing.T) {
	vaultContract(t, func(*testing.T) Vault {
		return newS3Vault("test", "bucket", "cercasp", newFakeS3())
	})
}

func TestS3Vault_Prefix(t *testing.T) {
	fake := newFakeS3()
	v := newS3Vault("test", "bucket", "cercasp", fake)

	if err := v.Put(context.Background(), "snapshots/a.age", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := fake.objects["cercasp/snapshots/a.age"]; !ok {
		t.Errorf("object keys = %v, want prefixed key", fake.keys())
	}
}

func TestFileSystemVault_Layout(t *testing.T) {
	root := t.TempDir()
	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	if err := v.Put(context.Background(), "snapshots/i1/a.age", strings.NewReader("data"), 4); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "snapshots", "i1", "a.age"))
	if err != nil {
		t.Fatalf("blob file not written: %v", err)
	}
	if string(data) != "data" {
		t.Errorf("file content = %q", data)
	}

	entries, err := os.ReadDir(filepath.Join(root, "snapshots", "i1"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (temp file left behind?)", len(entries))
	}
}

func TestFileSystemVault_ValidateSetup_NotDirectory(t *testing.T) {
	root := t.TempDir()
	v, err := NewFileSystemVault("test", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	if err := os.RemoveAll(root); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := v.ValidateSetup(context.Background()); err == nil {
		t.Error("ValidateSetup() expected error when root is a file")
	}
}

func TestNewVaultFromConfig(t *testing.T) {
	getenv := func(string) string { return "" }

	tests := []struct {
		name    string
		cfg     config.VaultConfig
		wantErr bool
	}{
		{name: "memory vault", cfg: config.VaultConfig{Type: "memory", Name: "m"}},
		{name: "filesystem vault", cfg: config.VaultConfig{Type: "filesystem", Name: "fs", FSVaultRoot: t.TempDir()}},
		{name: "filesystem vault without root", cfg: config.VaultConfig{Type: "filesystem", Name: "fs"}, wantErr: true},
		{name: "s3 vault without bucket", cfg: config.VaultConfig{Type: "s3", Name: "s3", S3Region: "us-east-1"}, wantErr: true},
		{
			name: "s3 vault with unset credentials",
			cfg: config.VaultConfig{Type: "s3", Name: "s3", S3Bucket: "b", S3Region: "us-east-1",
				S3AccessKeyEnv: "NO_SUCH_KEY", S3SecretKeyEnv: "NO_SUCH_SECRET"},
			wantErr: true,
		},
		{name: "unknown vault type", cfg: config.VaultConfig{Type: "tape"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVaultFromConfig(context.Background(), tt.cfg, getenv)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewVaultFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && v.Name() != tt.cfg.Name {
				t.Errorf("Name() = %q, want %q", v.Name(), tt.cfg.Name)
			}
		})
	}
}
