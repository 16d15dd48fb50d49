// Package names keeps the long-term record of every name the application has
// greeted or received from the device feed.
package names

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// ErrInvalidName is returned for names the store cannot represent.
var ErrInvalidName = errors.New("invalid name")

// Store persists names in insertion order.
type Store interface {
	Store(ctx context.Context, name string) error
	RetrieveAll(ctx context.Context) ([]string, error)
}

// MemoryStore keeps names in a slice.
type MemoryStore struct {
	mu    sync.Mutex
	names []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Store appends name.
func (s *MemoryStore) Store(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	return nil
}

// RetrieveAll returns a copy of every stored name.
func (s *MemoryStore) RetrieveAll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...), nil
}

// Len returns the number of stored names.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// FileStore appends names, one per line, to a file on an afero filesystem.
type FileStore struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewFileStore stores names in path on fs. The file is created on first write.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// NewOSFileStore stores names in path on the local disk.
func NewOSFileStore(path string) *FileStore {
	return NewFileStore(afero.NewOsFs(), path)
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Store appends name as a new line. Names containing line breaks are rejected.
func (s *FileStore) Store(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(name, "\r\n") {
		return fmt.Errorf("%w: %q contains a line break", ErrInvalidName, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	f, err := s.fs.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(name + "\n"); err != nil {
		return fmt.Errorf("append name: %w", err)
	}
	return nil
}

// RetrieveAll reads every stored name. A missing file means no names.
func (s *FileStore) RetrieveAll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fs.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return out, nil
}
