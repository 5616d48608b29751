// Package replicator keeps a console's local copy of the shared collections
// in step with the store.
//
// Reads come from periodic full snapshots. Writes are applied locally first
// and then sent as full-collection replaces; a poll never overwrites a key
// with a write still in flight or waiting for retry.
package replicator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-portal/internal/legacy"
	"github.com/noah-isme/gema-portal/internal/observability"
	"github.com/noah-isme/gema-portal/internal/store"
)

// DefaultInterval is the poll period, and so the staleness bound.
const DefaultInterval = 5 * time.Second

const subscriberBuffer = 16

// ErrNotLoaded is returned by writes attempted before any snapshot could be
// read. Unlike a deferred write, nothing was applied locally.
var ErrNotLoaded = errors.New("no snapshot loaded")

// Options configures a Replicator.
type Options struct {
	// Interval between polls. Zero means DefaultInterval.
	Interval time.Duration
	// Owned lists the collections this console migrates from its legacy cache.
	Owned []string
	// Legacy is the pre-store snapshot cache. Nil disables migration.
	Legacy legacy.Cache
	// Nudges triggers an extra poll, typically fed by the change stream.
	Nudges <-chan struct{}
	Logger zerolog.Logger
}

// Replicator mirrors the store locally and writes through to it.
type Replicator struct {
	source   store.Store
	interval time.Duration
	owned    []string
	legacy   legacy.Cache
	nudges   <-chan struct{}
	logger   zerolog.Logger

	pollMu sync.Mutex

	mu       sync.Mutex
	local    store.Snapshot
	loaded   bool
	dirty    map[string]struct{}
	pending  map[string]string
	writeSeq map[string]uint64
	seq      uint64
	migrated map[string]bool
	keyLocks map[string]*sync.Mutex
	queued   []queuedMutation

	subsMu sync.Mutex
	subs   map[chan string]struct{}
}

// New builds a Replicator over source.
func New(source store.Store, opts Options) *Replicator {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	observability.RegisterMetrics()

	return &Replicator{
		source:   source,
		interval: interval,
		owned:    append([]string(nil), opts.Owned...),
		legacy:   opts.Legacy,
		nudges:   opts.Nudges,
		logger:   opts.Logger.With().Str("component", "replicator").Logger(),
		local:    store.EmptySnapshot(),
		dirty:    make(map[string]struct{}),
		pending:  make(map[string]string),
		writeSeq: make(map[string]uint64),
		migrated: make(map[string]bool),
		keyLocks: make(map[string]*sync.Mutex),
		subs:     make(map[chan string]struct{}),
	}
}

// Run polls immediately, then on every interval and nudge, until ctx ends.
func (r *Replicator) Run(ctx context.Context) error {
	_ = r.Poll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = r.Poll(ctx)
		case _, ok := <-r.nudges:
			if !ok {
				r.nudges = nil
				continue
			}
			_ = r.Poll(ctx)
		}
	}
}

// Poll runs one synchronisation cycle. Overlapping calls and calls made while
// a local write is in flight return immediately.
func (r *Replicator) Poll(ctx context.Context) error {
	if !r.pollMu.TryLock() {
		observability.ReplicatorPolls().WithLabelValues("skipped").Inc()
		return nil
	}
	defer r.pollMu.Unlock()

	return r.poll(ctx)
}

func (r *Replicator) poll(ctx context.Context) error {
	if r.writesInFlight() {
		observability.ReplicatorPolls().WithLabelValues("skipped").Inc()
		return nil
	}

	r.Flush(ctx)

	r.mu.Lock()
	startSeq := r.seq
	r.mu.Unlock()

	snapshot, err := r.source.ReadAll(ctx)
	if err != nil {
		observability.ReplicatorPolls().WithLabelValues("failed").Inc()
		r.logger.Warn().Err(err).Msg("poll failed; keeping local copy")
		return err
	}

	r.migrate(ctx, snapshot)
	changed := r.adopt(snapshot, startSeq)

	observability.ReplicatorPolls().WithLabelValues("ok").Inc()
	for _, key := range changed {
		r.notify(key)
	}
	r.replay(ctx)
	return nil
}

type queuedMutation struct {
	key string
	run func(ctx context.Context) error
}

// enqueue holds run until the first snapshot is adopted. It reports false
// once a snapshot is already loaded.
func (r *Replicator) enqueue(key string, run func(ctx context.Context) error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return false
	}
	r.queued = append(r.queued, queuedMutation{key: key, run: run})
	return true
}

// replay runs the mutations queued before the first snapshot. The caller
// holds pollMu.
func (r *Replicator) replay(ctx context.Context) {
	r.mu.Lock()
	queued := r.queued
	r.queued = nil
	r.mu.Unlock()

	for _, m := range queued {
		err := m.run(ctx)
		logger := r.logger.With().Str("collection", m.key).Logger()
		switch {
		case err == nil:
			logger.Info().Msg("queued write replayed")
		case errors.Is(err, store.ErrUnavailable):
			logger.Warn().Err(err).Msg("queued write replayed; store still unavailable")
		default:
			logger.Warn().Err(err).Msg("queued write dropped")
		}
	}
}

// Flush retries every dirty key once.
func (r *Replicator) Flush(ctx context.Context) {
	for _, key := range r.Dirty() {
		lock := r.keyLock(key)
		if !lock.TryLock() {
			continue
		}

		r.mu.Lock()
		_, stillDirty := r.dirty[key]
		raw := r.local[key]
		seq := r.writeSeq[key]
		r.mu.Unlock()

		if stillDirty {
			r.retry(ctx, key, raw, seq)
		}
		lock.Unlock()
	}
}

func (r *Replicator) retry(ctx context.Context, key string, raw json.RawMessage, seq uint64) {
	err := r.source.ReplaceCollection(ctx, key, raw)

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case err == nil:
		if r.writeSeq[key] == seq {
			delete(r.dirty, key)
		}
		observability.ReplicatorWrites().WithLabelValues(key, "accepted").Inc()
		r.logger.Info().Str("collection", key).Msg("deferred write accepted")
	case isRejection(err):
		// The pre-write copy is gone by now; let the next poll restore the
		// server's version.
		delete(r.dirty, key)
		observability.ReplicatorWrites().WithLabelValues(key, "rejected").Inc()
		r.logger.Error().Err(err).Str("collection", key).Msg("deferred write rejected")
	default:
		observability.ReplicatorWrites().WithLabelValues(key, "deferred").Inc()
		r.logger.Warn().Err(err).Str("collection", key).Msg("deferred write still failing")
	}
}

func (r *Replicator) migrate(ctx context.Context, snapshot store.Snapshot) {
	if r.legacy == nil {
		return
	}

	for _, key := range r.owned {
		r.mu.Lock()
		done := r.migrated[key]
		r.mu.Unlock()
		if done {
			continue
		}

		if !store.IsEmptyArray(snapshot[key]) {
			r.markMigrated(key)
			continue
		}

		raw, ok, err := r.legacy.Load(key)
		if err != nil {
			r.logger.Warn().Err(err).Str("collection", key).Msg("failed to read legacy snapshot")
			continue
		}
		if !ok || store.IsEmptyArray(raw) {
			continue
		}

		lock := r.keyLock(key)
		if !lock.TryLock() {
			continue
		}
		r.markMigrated(key)
		err = r.write(ctx, key, raw)
		lock.Unlock()

		observability.ReplicatorMigrations().WithLabelValues(key).Inc()
		r.logger.Info().Err(err).Str("collection", key).Msg("migrated legacy snapshot into store")
	}
}

func (r *Replicator) markMigrated(key string) {
	r.mu.Lock()
	r.migrated[key] = true
	r.mu.Unlock()
}

func (r *Replicator) adopt(snapshot store.Snapshot, startSeq uint64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := make([]string, 0)
	for key, raw := range snapshot {
		if _, isDirty := r.dirty[key]; isDirty {
			continue
		}
		if r.writeSeq[key] > startSeq {
			continue
		}
		if bytes.Equal(r.local[key], raw) {
			continue
		}
		r.local[key] = append(json.RawMessage(nil), raw...)
		changed = append(changed, key)
	}
	r.loaded = true

	sort.Strings(changed)
	return changed
}

// write applies raw locally and sends it to the store. The caller holds the
// key lock.
func (r *Replicator) write(ctx context.Context, key string, raw json.RawMessage) error {
	opID := uuid.NewString()

	r.mu.Lock()
	previous := r.local[key]
	r.local[key] = raw
	r.seq++
	seq := r.seq
	r.writeSeq[key] = seq
	r.pending[opID] = key
	r.mu.Unlock()
	r.notify(key)

	err := r.source.ReplaceCollection(ctx, key, raw)

	r.mu.Lock()
	delete(r.pending, opID)
	rolledBack := false
	switch {
	case err == nil:
		if r.writeSeq[key] == seq {
			delete(r.dirty, key)
		}
	case isRejection(err):
		if r.writeSeq[key] == seq {
			r.local[key] = previous
			rolledBack = true
		}
	default:
		r.dirty[key] = struct{}{}
	}
	r.mu.Unlock()

	logger := r.logger.With().Str("collection", key).Str("op_id", opID).Logger()
	switch {
	case err == nil:
		observability.ReplicatorWrites().WithLabelValues(key, "accepted").Inc()
		logger.Debug().Msg("write accepted")
		return nil
	case isRejection(err):
		observability.ReplicatorWrites().WithLabelValues(key, "rejected").Inc()
		logger.Error().Err(err).Bool("rolled_back", rolledBack).Msg("write rejected")
		if rolledBack {
			r.notify(key)
		}
		return err
	default:
		observability.ReplicatorWrites().WithLabelValues(key, "deferred").Inc()
		logger.Warn().Err(err).Msg("write deferred; will retry on next poll")
		if !errors.Is(err, store.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return err
	}
}

// Ready blocks until a first snapshot has been adopted, polling once if needed.
func (r *Replicator) Ready(ctx context.Context) error {
	return r.ensureLoaded(ctx)
}

// ensureLoaded makes sure at least one snapshot has been adopted so a
// full-collection replace never starts from an empty placeholder.
func (r *Replicator) ensureLoaded(ctx context.Context) error {
	if r.Loaded() {
		return nil
	}

	r.pollMu.Lock()
	defer r.pollMu.Unlock()
	if r.Loaded() {
		return nil
	}
	if err := r.poll(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotLoaded, err)
	}
	if !r.Loaded() {
		return fmt.Errorf("%w: %w", ErrNotLoaded, store.ErrUnavailable)
	}
	return nil
}

func (r *Replicator) keyLock(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.keyLocks[key] = lock
	}
	return lock
}

func (r *Replicator) writesInFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending) > 0
}

// Loaded reports whether a snapshot has been adopted.
func (r *Replicator) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Dirty lists keys whose latest local write has not reached the store,
// including keys with a mutation queued before the first snapshot.
func (r *Replicator) Dirty() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(r.dirty)+len(r.queued))
	for key := range r.dirty {
		seen[key] = struct{}{}
	}
	for _, m := range r.queued {
		seen[m.key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the local table.
func (r *Replicator) Snapshot() store.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local.Clone()
}

// Subscribe returns a channel of changed collection keys. Slow readers miss
// notifications rather than block the replicator.
func (r *Replicator) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)

	r.subsMu.Lock()
	r.subs[ch] = struct{}{}
	r.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subsMu.Lock()
			delete(r.subs, ch)
			close(ch)
			r.subsMu.Unlock()
		})
	}
}

func (r *Replicator) notify(key string) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	for ch := range r.subs {
		select {
		case ch <- key:
		default:
		}
	}
}

func isRejection(err error) bool {
	return errors.Is(err, store.ErrInvalidKey) || errors.Is(err, store.ErrInvalidRecords)
}
