// Package cache defines the port for short-lived derived data such as the
// dashboard stats summary.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values by key. A miss is reported through the bool,
// not an error. A zero TTL keeps the value until it is deleted or evicted.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
