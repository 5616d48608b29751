package replicator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/gema-portal/internal/store"
)

// Mutate applies fn to the local copy of key and writes the result through to
// the store. Mutations of the same key are serialised, so a check-then-insert
// inside fn is atomic within this process.
//
// When fn returns an error nothing is written. A store.ErrUnavailable result
// means the change is kept locally and retried on the next poll; a rejected
// write is rolled back.
func Mutate[T any](ctx context.Context, r *Replicator, key string, fn func(items []T) ([]T, error)) error {
	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	items, err := Collection[T](r, key)
	if err != nil {
		return err
	}

	next, err := fn(items)
	if err != nil {
		return err
	}
	if next == nil {
		next = []T{}
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", key, err)
	}

	return r.write(ctx, key, raw)
}

// ErrQueued is returned by MutateOrQueue when the mutation waits for the
// first snapshot. It always comes wrapped with store.ErrUnavailable.
var ErrQueued = errors.New("queued until first snapshot")

// MutateOrQueue is Mutate for writes that must not be lost while the store
// has never been reached. Before the first snapshot, fn is queued and replayed
// through Mutate right after the first successful poll, so it still sees the
// server's collection and its guards still apply.
func MutateOrQueue[T any](ctx context.Context, r *Replicator, key string, fn func(items []T) ([]T, error)) error {
	run := func(ctx context.Context) error {
		return Mutate(ctx, r, key, fn)
	}

	err := r.ensureLoaded(ctx)
	switch {
	case err == nil:
		return run(ctx)
	case !errors.Is(err, ErrNotLoaded):
		return err
	}

	if !r.enqueue(key, run) {
		return run(ctx)
	}
	r.logger.Warn().Str("collection", key).Msg("write queued until first snapshot")
	return fmt.Errorf("%w: %w", ErrQueued, store.ErrUnavailable)
}

// Collection decodes the local copy of key.
func Collection[T any](r *Replicator, key string) ([]T, error) {
	r.mu.Lock()
	raw := r.local[key]
	r.mu.Unlock()

	items := make([]T, 0)
	if err := (store.Snapshot{key: raw}).Decode(key, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = make([]T, 0)
	}
	return items, nil
}
