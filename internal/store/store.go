// Package store persists generation jobs and API keys. Two backends
// are provided: a Postgres store for production and a volatile
// in-memory store for tests and single-process development.
//
// Scheduling state lives in the job row itself. There is no separate
// durable queue: workers re-read status=pending rows on boot, so a
// restart never loses accepted work on the Postgres backend.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/casgen-dev/casgen/internal/types"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when an insert would violate a unique
	// constraint (job id or API key hash).
	ErrDuplicate = errors.New("store: duplicate")
)

// JobFilter narrows ListJobs results. Zero values match everything.
type JobFilter struct {
	TenantKeyID string
	Status      types.JobStatus
	Limit       int
	Offset      int
}

// JobStore persists generation job records.
type JobStore interface {
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)

	// UpdateJob rewrites the mutable fields of an existing record.
	// The request payload is immutable after creation and is not
	// written again.
	UpdateJob(ctx context.Context, job *types.Job) error

	// ListJobs returns jobs newest-first, plus the total number of
	// records matching the filter before pagination was applied.
	ListJobs(ctx context.Context, filter JobFilter) ([]*types.Job, int, error)

	// JobsByStatus returns every job in the given status oldest-first.
	// Boot recovery and retention sweeps drive their passes off this.
	JobsByStatus(ctx context.Context, status types.JobStatus) ([]*types.Job, error)
}

// KeyStore persists API key records. Counters are owned by
// IncrementUsage; UpdateKey never writes them.
type KeyStore interface {
	CreateKey(ctx context.Context, key *types.APIKey) error
	GetKeyByID(ctx context.Context, id string) (*types.APIKey, error)
	GetKeyByHash(ctx context.Context, hash string) (*types.APIKey, error)
	ListKeys(ctx context.Context) ([]*types.APIKey, error)
	UpdateKey(ctx context.Context, key *types.APIKey) error
	DeleteKey(ctx context.Context, id string) error

	// IncrementUsage atomically adds to the key's usage counters and
	// returns their state after the update. When now has reached
	// DailyResetAt the daily window is zeroed first and DailyResetAt
	// advances to the next UTC midnight.
	IncrementUsage(ctx context.Context, id string, requests int, patients int64, now time.Time) (*types.KeyCounters, error)
}

// Store combines job and key persistence behind one handle.
type Store interface {
	JobStore
	KeyStore

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
	Close()
}
