// Package local is a JSON-file backend for offline and single-user setups.
// Each record is one file under <base>/<collection>/<id>.json.
package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when a record file does not exist.
var ErrNotFound = errors.New("record not found")

// Files is a thread-safe collection of JSON documents on disk.
type Files struct {
	basePath string
	mu       sync.RWMutex
}

// NewFiles creates the base directory if needed.
func NewFiles(basePath string) (*Files, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Files{basePath: basePath}, nil
}

func (f *Files) path(collection, id string) string {
	return filepath.Join(f.basePath, collection, id+".json")
}

// Save writes data as indented JSON. The write goes through a temp file so a
// crash never leaves a half-written record.
func (f *Files) Save(collection, id string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Join(f.basePath, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create collection directory: %w", err)
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(collection, id)); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// Load decodes the record into data.
func (f *Files) Load(collection, id string, data any) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.load(f.path(collection, id), data)
}

func (f *Files) load(path string, data any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("open file: %w", err)
	}
	if err := json.Unmarshal(b, data); err != nil {
		return fmt.Errorf("decode json: %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Delete removes a record.
func (f *Files) Delete(collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(collection, id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// List returns the ids in a collection. A missing collection is empty.
func (f *Files) List(collection string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(f.basePath, collection))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Exists reports whether a record exists.
func (f *Files) Exists(collection, id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, err := os.Stat(f.path(collection, id))
	return err == nil
}

// Each decodes every record of a collection and calls fn with it.
func Each[T any](f *Files, collection string, fn func(*T) error) error {
	ids, err := f.List(collection)
	if err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, id := range ids {
		var v T
		if err := f.load(f.path(collection, id), &v); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		if err := fn(&v); err != nil {
			return err
		}
	}
	return nil
}
