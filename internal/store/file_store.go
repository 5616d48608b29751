package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// FileStore persists the whole table as one JSON document, rewritten on
// every accepted save.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	data   Snapshot
	logger zerolog.Logger
}

// OpenFileStore loads the document at path. A missing document starts empty;
// an unreadable one is an error.
func OpenFileStore(path string, logger zerolog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path must not be empty")
	}

	s := &FileStore{
		path:   path,
		logger: logger.With().Str("component", "file_store").Logger(),
	}

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	s.data = data

	return s, nil
}

func (s *FileStore) load() (Snapshot, error) {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info().Str("path", s.path).Msg("store document missing, starting empty")
		return EmptySnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, s.path, err)
	}

	var loaded Snapshot
	if err := json.Unmarshal(content, &loaded); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrUnavailable, s.path, err)
	}

	return normalise(loaded), nil
}

// ReadAll returns a copy of every collection.
func (s *FileStore) ReadAll(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.data.Clone(), nil
}

// ReplaceCollection swaps the named collection and flushes the document
// before returning. Memory is only updated once the flush succeeded.
func (s *FileStore) ReplaceCollection(ctx context.Context, key string, records json.RawMessage) error {
	if err := ValidateReplace(key, records); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.Clone()
	next[key] = cloneRaw(records)

	if err := s.persist(next); err != nil {
		return err
	}
	s.data = next

	s.logger.Debug().Str("collection", key).Int("bytes", len(records)).Msg("collection replaced")
	return nil
}

// persist writes next to a temp file, syncs it and renames it over the document.
func (s *FileStore) persist(next Snapshot) error {
	payload, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrUnavailable, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write temp file: %v", ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync temp file: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: replace %s: %v", ErrUnavailable, s.path, err)
	}

	return nil
}
