package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedStore serves ReadAll from a Redis snapshot and invalidates it on
// every successful replace. Cache failures fall through to the backend.
//
// A version counter kept next to the snapshot guards the cache fill: a fill
// only commits when no replace, on any node, bumped the version since the
// backend read began.
type CachedStore struct {
	next       Store
	cache      *redis.Client
	key        string
	versionKey string
	ttl        time.Duration
	logger     zerolog.Logger
}

// NewCachedStore wraps next. A nil client disables caching.
func NewCachedStore(next Store, cache *redis.Client, channelBase string, ttl time.Duration, logger zerolog.Logger) *CachedStore {
	key := "gema:snapshot"
	if channelBase != "" {
		key = channelBase + ":snapshot"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &CachedStore{
		next:       next,
		cache:      cache,
		key:        key,
		versionKey: key + ":version",
		ttl:        ttl,
		logger:     logger.With().Str("component", "cached_store").Logger(),
	}
}

var errStaleFill = errors.New("snapshot changed during read")

// ReadAll returns the cached snapshot when present.
func (s *CachedStore) ReadAll(ctx context.Context) (Snapshot, error) {
	if s.cache == nil {
		return s.next.ReadAll(ctx)
	}

	if cached, err := s.cache.Get(ctx, s.key).Bytes(); err == nil {
		var snapshot Snapshot
		if unmarshalErr := json.Unmarshal(cached, &snapshot); unmarshalErr == nil {
			s.logger.Debug().Msg("snapshot cache hit")
			return snapshot, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn().Err(err).Msg("failed to read snapshot cache")
	}

	version, versionErr := s.version(ctx, s.cache)
	snapshot, err := s.next.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if versionErr != nil {
		return snapshot, nil
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return snapshot, nil
	}
	if err := s.fill(ctx, version, payload); err != nil {
		if errors.Is(err, errStaleFill) || errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug().Msg("snapshot changed during read; cache fill skipped")
		} else {
			s.logger.Warn().Err(err).Msg("failed to store snapshot cache")
		}
	}

	return snapshot, nil
}

// fill stores payload unless the version moved away from expected.
func (s *CachedStore) fill(ctx context.Context, expected string, payload []byte) error {
	return s.cache.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.version(ctx, tx)
		if err != nil {
			return err
		}
		if current != expected {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, payload, s.ttl)
			return nil
		})
		return err
	}, s.versionKey)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *CachedStore) version(ctx context.Context, cmd getter) (string, error) {
	version, err := cmd.Get(ctx, s.versionKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return version, err
}

// ReplaceCollection writes through to the backend, bumps the version and
// drops the cached snapshot.
func (s *CachedStore) ReplaceCollection(ctx context.Context, key string, records json.RawMessage) error {
	if err := s.next.ReplaceCollection(ctx, key, records); err != nil {
		return err
	}

	if s.cache != nil {
		_, err := s.cache.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Incr(ctx, s.versionKey)
			pipe.Del(ctx, s.key)
			return nil
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("collection", key).Msg("failed to invalidate snapshot cache")
		}
	}

	return nil
}
