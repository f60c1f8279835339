// internal/store/file.go
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// DefaultMemoryPath is where the file store keeps its log when no path is configured.
const DefaultMemoryPath = "~/.webpilot/memory.json"

// FileStore keeps the memory log as one JSON array on disk. Writes go through a
// temporary file and a rename, so a crash never leaves a half-written log.
type FileStore struct {
	path string
	mu   sync.Mutex
	log  *zap.Logger
}

// NewFileStore creates a store at path, expanding a leading "~". An empty path selects DefaultMemoryPath.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		path = DefaultMemoryPath
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve memory path %q: %w", path, err)
	}
	return &FileStore{path: expanded, log: logger.Named("store.file")}, nil
}

// Path returns the resolved location of the log.
func (s *FileStore) Path() string { return s.path }

// Append adds a record to the end of the log.
func (s *FileStore) Append(ctx context.Context, record schemas.MemoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	record.Steps = nonNilSteps(record.Steps)
	records = append(records, record)
	if err := s.write(records); err != nil {
		return err
	}
	s.log.Info("Steps memorized.", zap.String("session", record.Session), zap.String("path", s.path))
	return nil
}

// Get returns the first record for the session.
func (s *FileStore) Get(ctx context.Context, session string) (*schemas.MemoryRecord, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Session == session {
			return &records[i], nil
		}
	}
	return nil, schemas.ErrSessionNotFound
}

// List returns every record in insertion order. A missing log is an empty log.
func (s *FileStore) List(ctx context.Context) ([]schemas.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Close is a no-op; the file is only open while reading or writing.
func (s *FileStore) Close() error { return nil }

// load reads the log. A corrupt log is reset to empty rather than failing the run.
func (s *FileStore) load() ([]schemas.MemoryRecord, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read memory log: %w", err)
	}
	var records []schemas.MemoryRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		s.log.Error("Memory log is corrupt; resetting it.", zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	return records, nil
}

func (s *FileStore) write(records []schemas.MemoryRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}
	raw, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode memory log: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".memory-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary memory file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write memory log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write memory log: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace memory log: %w", err)
	}
	return nil
}
