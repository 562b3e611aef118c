/*
Package cache provides the read-through cache facade used by read-heavy
endpoints.

PURPOSE:
  Reduce read load on the store. The cache is best-effort and never a
  correctness dependency: any cache failure degrades to loading from the
  source, logged but never surfaced to callers.

KEY PIECES:
  Cache:       minimal byte-value interface with TTL (memory or Redis)
  ReadThrough: generic hit/miss helper with JSON round-tripping
  Invalidate:  best-effort key removal after balance mutations
  Clock:       injected time source so TTL expiry is testable with
               fixed ticks instead of wall-clock sleeps

STALENESS:
  Mutations invalidate rather than write through, so a brief stale
  window before invalidation completes is acceptable.
*/
package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Cache stores opaque byte values with a TTL.
// Get reports (value, found, error); an expired or missing key is
// (nil, false, nil), not an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Clock abstracts time for deterministic TTL tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock Clock used in production.
func SystemClock() Clock { return systemClock{} }

// =============================================================================
// READ-THROUGH
// =============================================================================

// ReadThrough returns the cached value for key if present, otherwise
// invokes loader, stores the result with the given TTL, and returns it.
//
// A nil cache or any cache error degrades to calling loader directly.
func ReadThrough[T any](ctx context.Context, c Cache, log *zap.Logger, key string, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil {
		return loader(ctx)
	}

	if raw, ok, err := c.Get(ctx, key); err != nil {
		logCacheError(log, "cache get failed", key, err)
	} else if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		// Undecodable value: treat as miss and overwrite below.
		logCacheError(log, "cache value undecodable", key, err)
	}

	v, err := loader(ctx)
	if err != nil {
		return zero, err
	}

	if raw, err := json.Marshal(v); err != nil {
		logCacheError(log, "cache encode failed", key, err)
	} else if err := c.Set(ctx, key, raw, ttl); err != nil {
		logCacheError(log, "cache set failed", key, err)
	}
	return v, nil
}

// Invalidate removes keys, best effort. Failures are logged and
// swallowed: a stale entry will age out via TTL.
func Invalidate(ctx context.Context, c Cache, log *zap.Logger, keys ...string) {
	if c == nil {
		return
	}
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			logCacheError(log, "cache invalidate failed", key, err)
		}
	}
}

func logCacheError(log *zap.Logger, msg, key string, err error) {
	if log == nil {
		return
	}
	log.Warn(msg, zap.String("key", key), zap.Error(err))
}
