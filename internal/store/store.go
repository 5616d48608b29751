// Package store holds the authoritative table of named collections.
//
// Every mutation is a full-collection replace and the last writer wins: the
// store keeps no versions and performs no merges. Records are opaque JSON to
// the store; identifiers are generated and checked by callers.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/gema-portal/internal/models"
)

var (
	// ErrUnavailable indicates the storage medium or the network path to it failed.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvalidKey indicates a save targeted an unknown collection.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidRecords indicates the replacement payload is not a JSON array.
	ErrInvalidRecords = errors.New("collection data must be a json array")
)

// Snapshot is the full keyed table: collection key to JSON array.
type Snapshot map[string]json.RawMessage

// Store is the contract shared by every backend and by the remote client.
type Store interface {
	ReadAll(ctx context.Context) (Snapshot, error)
	ReplaceCollection(ctx context.Context, key string, records json.RawMessage) error
}

var emptyArray = json.RawMessage("[]")

// EmptySnapshot returns a table with every known collection set to [].
func EmptySnapshot() Snapshot {
	snapshot := make(Snapshot, len(models.CollectionKeys))
	for _, key := range models.CollectionKeys {
		snapshot[key] = cloneRaw(emptyArray)
	}
	return snapshot
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for key, raw := range s {
		out[key] = cloneRaw(raw)
	}
	return out
}

// Decode unmarshals one collection into target. Missing keys decode as empty.
func (s Snapshot) Decode(key string, target interface{}) error {
	raw, ok := s[key]
	if !ok || len(raw) == 0 {
		raw = emptyArray
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode collection %s: %w", key, err)
	}
	return nil
}

// ValidateReplace checks the key and payload of a replace request.
func ValidateReplace(key string, records json.RawMessage) error {
	if !models.IsCollectionKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if !IsArray(records) {
		return fmt.Errorf("%w: %s", ErrInvalidRecords, key)
	}
	return nil
}

// IsArray reports whether raw is a well-formed JSON array.
func IsArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return false
	}
	return json.Valid(trimmed)
}

// IsEmptyArray reports whether raw is missing or an array without elements.
func IsEmptyArray(raw json.RawMessage) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return true
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return false
	}
	return len(items) == 0
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

func normalise(snapshot Snapshot) Snapshot {
	out := EmptySnapshot()
	for _, key := range models.CollectionKeys {
		if raw, ok := snapshot[key]; ok && IsArray(raw) {
			out[key] = cloneRaw(raw)
		}
	}
	return out
}
