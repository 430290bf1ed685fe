// Package cache provides the side cache for reference data. The
// contract is deliberately forgiving: operations never fail the
// caller. A backing-store outage surfaces as a miss on Get and
// silently drops Set and Delete, so every consumer has to behave
// correctly with a no-op cache.
package cache

import (
	"context"
	"time"
)

// Cache is the reference-data side cache. Implementations return no
// errors; a broken backend degrades to misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// Noop satisfies Cache without storing anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Noop) Set(context.Context, string, []byte, time.Duration) {}
func (Noop) Delete(context.Context, string)                     {}
