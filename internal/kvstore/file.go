package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStoreConfig represents file store configuration
type FileStoreConfig struct {
	Path       string `yaml:"path"`
	QuotaBytes int64  `yaml:"quota_bytes"`
}

// FileStore implements Store as a single JSON document on disk. The document
// is rewritten atomically after every mutation, so its contents survive
// restarts.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	quota  int64
	data   *orderedMap
	closed bool
}

type fileDocument struct {
	Version int           `json:"version"`
	Items   []orderedItem `json:"items"`
}

const fileDocumentVersion = 1

// NewFileStore opens the store at config.Path, loading any existing contents.
func NewFileStore(config *FileStoreConfig) (*FileStore, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("file store path cannot be empty")
	}

	path := filepath.Clean(config.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	store := &FileStore{
		path:  path,
		quota: config.QuotaBytes,
		data:  newOrderedMap(),
	}

	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}

	return store, nil
}

// GetItem returns the value stored at key
func (s *FileStore) GetItem(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, fmt.Errorf("file store is closed")
	}
	v, ok := s.data.get(key)
	return v, ok, nil
}

// SetItem stores value at key and persists the document
func (s *FileStore) SetItem(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("file store is closed")
	}

	if s.quota > 0 && s.data.sizeAfterSet(key, value) > s.quota {
		return fmt.Errorf("%w: writing %q would exceed %d bytes", ErrQuotaExceeded, key, s.quota)
	}

	previous, existed := s.data.get(key)
	s.data.set(key, value)

	if err := s.save(); err != nil {
		// Roll back so memory and disk agree
		if existed {
			s.data.set(key, previous)
		} else {
			s.data.remove(key)
		}
		return err
	}
	return nil
}

// RemoveItem deletes key and persists the document
func (s *FileStore) RemoveItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("file store is closed")
	}

	previous, existed := s.data.get(key)
	if !existed {
		return nil
	}
	s.data.remove(key)

	if err := s.save(); err != nil {
		s.data.set(key, previous)
		return err
	}
	return nil
}

// Keys lists keys in insertion order
func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("file store is closed")
	}
	return s.data.keys(), nil
}

// Ping verifies the store directory is still writable
func (s *FileStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("file store is closed")
	}
	info, err := os.Stat(filepath.Dir(s.path))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filepath.Dir(s.path))
	}
	return nil
}

// Close flushes the document and rejects further operations
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.save()
}

// Path returns the location of the backing file
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) load() error {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No existing document, start fresh
		}
		return err
	}
	defer func() { _ = file.Close() }()

	var doc fileDocument
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return err
	}
	if doc.Version > fileDocumentVersion {
		return fmt.Errorf("unsupported store version %d", doc.Version)
	}

	for _, item := range doc.Items {
		s.data.set(item.Key, item.Value)
	}
	return nil
}

func (s *FileStore) save() error {
	dir := filepath.Dir(s.path)

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	// Validate tmp path is still within the store directory
	if !strings.HasPrefix(filepath.Clean(tmpPath), filepath.Clean(dir)) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("invalid tmp store path: %s", tmpPath)
	}

	doc := fileDocument{Version: fileDocumentVersion, Items: s.data.snapshot()}
	if err := json.NewEncoder(tmp).Encode(doc); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath) // Ignore cleanup error
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	// Atomic replace
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
