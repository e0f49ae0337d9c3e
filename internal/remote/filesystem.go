package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cercasp-go/internal/cercasp"
)

// fsDocs stores each document as a JSON file:
//
//	<root>/
//	  <collection>/
//	    <id>.json
type fsDocs struct {
	root string
}

var _ documents = (*fsDocs)(nil)

// NewFileSystemStore creates a remote store rooted at root. Change
// notifications only reach subscribers in this process.
func NewFileSystemStore(root string, ids cercasp.IDGenerator, clock cercasp.Clock, logger cercasp.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create remote root: %w", err)
	}
	return newStore(&fsDocs{root: root}, newHub(), ids, clock, logger), nil
}

func (f *fsDocs) path(collection, id string) string {
	return filepath.Join(f.root, collection, id+".json")
}

func (f *fsDocs) load(_ context.Context, collection, id string) ([]byte, error) {
	data, err := os.ReadFile(f.path(collection, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, cercasp.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", collection, id, err)
	}
	return data, nil
}

// save writes through a temp file in the same directory and renames it into
// place, so readers never see a partial document.
func (f *fsDocs) save(_ context.Context, collection, id string, doc []byte) error {
	dir := filepath.Join(f.root, collection)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path(collection, id)); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func (f *fsDocs) remove(_ context.Context, collection, id string) error {
	err := os.Remove(f.path(collection, id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	return nil
}

func (f *fsDocs) list(_ context.Context, collection string) ([][]byte, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, collection))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(f.root, collection, name))
		if errors.Is(err, os.ErrNotExist) {
			continue // deleted since ReadDir
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s/%s: %w", collection, name, err)
		}
		out = append(out, data)
	}
	return out, nil
}

func (f *fsDocs) ping(context.Context) error {
	info, err := os.Stat(f.root)
	if err != nil {
		return fmt.Errorf("remote root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("remote root is not a directory: %s", f.root)
	}
	return nil
}

func (f *fsDocs) close() error { return nil }
