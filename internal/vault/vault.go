// Package vault stores opaque blobs, such as sealed queue snapshots, away from
// the machine that produced them.
package vault

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cercasp-go/internal/cercasp"
)

// Vault is a flat key/blob store. Keys are slash-separated relative paths.
type Vault interface {
	Name() string

	// Put stores the content of r under key, replacing any previous blob.
	// When size is not negative the number of bytes read must match it.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the blob stored under key to w. A missing key returns an
	// error wrapping cercasp.ErrNotFound.
	Get(ctx context.Context, key string, w io.Writer) error

	// List returns the objects whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)

	// ValidateSetup checks that the backend is reachable and usable.
	ValidateSetup(ctx context.Context) error
}

// Object describes one stored blob.
type Object struct {
	Key      string
	Size     int64
	Modified time.Time
}

// checkKey rejects keys that could escape the vault root.
func checkKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty vault key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") || path.Clean(key) != key {
		return fmt.Errorf("invalid vault key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." || strings.HasPrefix(part, ".tmp-") {
			return fmt.Errorf("invalid vault key %q", key)
		}
	}
	return nil
}

func checkSize(size, read int64) error {
	if size >= 0 && read != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, read)
	}
	return nil
}

func notFound(key string) error {
	return fmt.Errorf("vault object %s: %w", key, cercasp.ErrNotFound)
}
