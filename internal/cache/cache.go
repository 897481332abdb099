// Package cache provides a small TTL cache used for memory context blocks
// and RAG query results. A redis backend is used when configured; an
// in-process map is the fallback so single-binary deployments need no
// external service.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a byte-oriented TTL cache. Keys are namespaced by the caller,
// typically "memory_ctx:{project}:" or "rag:{project}:" prefixes so a
// whole project can be invalidated at once.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
