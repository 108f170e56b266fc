package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// FileStorage keeps all keys in one JSON document on an afero filesystem.
type FileStorage struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewFileStorage creates the parent directory of path if needed.
func NewFileStorage(fs afero.Fs, path string) (*FileStorage, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if path == "" {
		return nil, errors.New("storage file path is required")
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{fs: fs, path: path}, nil
}

// DefaultFilePath returns the per-user session file location.
func DefaultFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "storefront", "session.json")
}

// Get retrieves a value by key
func (f *FileStorage) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil {
		return "", err
	}
	value, ok := data[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// SetMany merges values into the document and replaces the file
func (f *FileStorage) SetMany(ctx context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil {
		return err
	}
	for k, v := range values {
		data[k] = v
	}
	return f.write(data)
}

// Delete removes keys
func (f *FileStorage) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.read()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(data, k)
	}
	return f.write(data)
}

// Close is a no-op
func (f *FileStorage) Close() error {
	return nil
}

func (f *FileStorage) read() (map[string]string, error) {
	raw, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}

	data := make(map[string]string)
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse storage file %s: %w", f.path, err)
	}
	return data, nil
}

func (f *FileStorage) write(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize storage: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := afero.WriteFile(f.fs, tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := f.fs.Rename(tmp, f.path); err != nil {
		_ = f.fs.Remove(tmp)
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}
