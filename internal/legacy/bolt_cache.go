// Package legacy reads the per-client collection snapshots kept before the
// shared store existed.
package legacy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/noah-isme/gema-portal/internal/models"
)

var bucketName = []byte("legacy")

// ErrUnknownCollection is returned for keys outside the known collections.
var ErrUnknownCollection = errors.New("unknown collection")

// storageKeys maps collection keys to the names the old consoles used.
var storageKeys = map[string]string{
	models.CollectionGroups:      "kaznpu_groups",
	models.CollectionSubjects:    "kaznpu_subjects",
	models.CollectionTasks:       "kaznpu_tasks",
	models.CollectionSubmissions: "kaznpu_submissions",
	models.CollectionProfessors:  "kaznpu_professors",
	models.CollectionTests:       "kaznpu_published_tests",
	models.CollectionTestResults: "kaznpu_test_results",
	models.CollectionSyllabuses:  "kaznpu_syllabuses",
	models.CollectionLectures:    "kaznpu_lectures",
}

// StorageKey returns the legacy name of a collection.
func StorageKey(collection string) (string, bool) {
	name, ok := storageKeys[collection]
	return name, ok
}

// Cache is the read side used by migration.
type Cache interface {
	Load(collection string) (json.RawMessage, bool, error)
}

// BoltCache keeps legacy snapshots in a local bbolt file.
type BoltCache struct {
	db     *bbolt.DB
	logger zerolog.Logger
}

// OpenBoltCache opens (or creates) the cache file at path.
func OpenBoltCache(path string, logger zerolog.Logger) (*BoltCache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create legacy cache dir: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open legacy cache: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init legacy cache: %w", err)
	}

	return &BoltCache{
		db:     db,
		logger: logger.With().Str("component", "legacy_cache").Logger(),
	}, nil
}

// Load returns the stored snapshot of a collection. Unparseable entries are
// reported as absent, matching how the old consoles treated corrupt storage.
func (c *BoltCache) Load(collection string) (json.RawMessage, bool, error) {
	name, ok := StorageKey(collection)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}

	var out json.RawMessage
	err := c.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketName).Get([]byte(name))
		if value == nil {
			return nil
		}
		out = append(json.RawMessage(nil), value...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read legacy %s: %w", name, err)
	}
	if out == nil {
		return nil, false, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(out, &items); err != nil {
		c.logger.Warn().Err(err).Str("key", name).Msg("ignoring unparseable legacy snapshot")
		return nil, false, nil
	}

	return out, true, nil
}

// Save stores a collection snapshot.
func (c *BoltCache) Save(collection string, records json.RawMessage) error {
	name, ok := StorageKey(collection)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	if !json.Valid(records) {
		return fmt.Errorf("legacy %s: invalid json", name)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(name), append([]byte(nil), records...))
	})
}

// Import loads a dump of the old browser storage, keyed by legacy names.
// Unrecognised keys are skipped. It returns the number of stored collections.
func (c *BoltCache) Import(dump map[string]json.RawMessage) (int, error) {
	byLegacy := make(map[string]string, len(storageKeys))
	for collection, name := range storageKeys {
		byLegacy[name] = collection
	}

	imported := 0
	for name, records := range dump {
		collection, ok := byLegacy[name]
		if !ok {
			c.logger.Debug().Str("key", name).Msg("skipping unrecognised legacy key")
			continue
		}
		if err := c.Save(collection, records); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

// Close releases the cache file.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
