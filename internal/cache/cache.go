package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort byte store. Misses and errors are both
// survivable; nothing in the core depends on the cache for correctness.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
