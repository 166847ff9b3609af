package layout

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio"
)

// MemStore is an in-memory Store.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

// Get returns the value for key.
func (m *MemStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

// Set stores value under key.
func (m *MemStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// FileStore is a Store persisted as a flat TOML table of strings.
// Every Set rewrites the file atomically; the last writer wins.
type FileStore struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// OpenFileStore loads path, creating its parent directory if needed.
// A missing file yields an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	fs := &FileStore{path: path, values: make(map[string]string)}
	if err := fs.reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Path returns the backing file path.
func (fs *FileStore) Path() string { return fs.path }

// Get returns the value for key.
func (fs *FileStore) Get(key string) (string, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	v, ok := fs.values[key]
	return v, ok
}

// Set stores value under key and writes the whole table to disk.
func (fs *FileStore) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.values[key] = value

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(fs.values); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := renameio.WriteFile(fs.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func (fs *FileStore) reload() error {
	values := make(map[string]string)
	if _, err := toml.DecodeFile(fs.path, &values); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("decode %s: %w", fs.path, err)
	}
	fs.mu.Lock()
	fs.values = values
	fs.mu.Unlock()
	return nil
}

// Watch reloads the table whenever another process rewrites the file.
// It blocks until ctx is done.
func (fs *FileStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Atomic writes replace the file, so watch the directory.
	if err := w.Add(filepath.Dir(fs.path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(fs.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := fs.reload(); err != nil {
				slog.Warn("failed to reload state file", "path", fs.path, "error", err)
				continue
			}
			slog.Debug("reloaded state file", "path", fs.path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("state watcher error", "error", err)
		}
	}
}
