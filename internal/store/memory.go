package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/casgen-dev/casgen/internal/types"
)

// Memory is a volatile store for tests and single-process development.
// It is NOT durable: every record lives in process memory, so accepted
// jobs and issued keys are lost on restart. The server logs a warning
// when it boots on this backend.
type Memory struct {
	mu     sync.RWMutex
	jobs   map[string]*types.Job
	keys   map[string]*types.APIKey
	byHash map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:   make(map[string]*types.Job),
		keys:   make(map[string]*types.APIKey),
		byHash: make(map[string]string),
	}
}

// Ping always succeeds; there is nothing to reach.
func (s *Memory) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Memory) Close() {}

func (s *Memory) CreateJob(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicate
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *Memory) GetJob(ctx context.Context, id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *Memory) UpdateJob(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	cp := job.Clone()
	cp.Request = existing.Request
	cp.CreatedAt = existing.CreatedAt
	s.jobs[job.ID] = cp
	return nil
}

func (s *Memory) ListJobs(ctx context.Context, filter JobFilter) ([]*types.Job, int, error) {
	s.mu.RLock()
	matched := make([]*types.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.TenantKeyID != "" && job.TenantKeyID != filter.TenantKeyID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matched = append(matched, job)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return []*types.Job{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	out := make([]*types.Job, len(matched))
	for i, job := range matched {
		out[i] = job.Clone()
	}
	return out, total, nil
}

func (s *Memory) JobsByStatus(ctx context.Context, status types.JobStatus) ([]*types.Job, error) {
	s.mu.RLock()
	matched := make([]*types.Job, 0)
	for _, job := range s.jobs {
		if job.Status == status {
			matched = append(matched, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return matched, nil
}

func (s *Memory) CreateKey(ctx context.Context, key *types.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := s.byHash[key.KeyHash]; ok {
		return ErrDuplicate
	}
	s.keys[key.ID] = key.Clone()
	s.byHash[key.KeyHash] = key.ID
	return nil
}

func (s *Memory) GetKeyByID(ctx context.Context, id string) (*types.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return key.Clone(), nil
}

func (s *Memory) GetKeyByHash(ctx context.Context, hash string) (*types.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return s.keys[id].Clone(), nil
}

func (s *Memory) ListKeys(ctx context.Context) ([]*types.APIKey, error) {
	s.mu.RLock()
	keys := make([]*types.APIKey, 0, len(s.keys))
	for _, key := range s.keys {
		keys = append(keys, key.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.Before(keys[j].CreatedAt)
		}
		return keys[i].ID < keys[j].ID
	})
	return keys, nil
}

func (s *Memory) UpdateKey(ctx context.Context, key *types.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.keys[key.ID]
	if !ok {
		return ErrNotFound
	}
	if key.KeyHash != existing.KeyHash {
		if _, taken := s.byHash[key.KeyHash]; taken {
			return ErrDuplicate
		}
		delete(s.byHash, existing.KeyHash)
		s.byHash[key.KeyHash] = key.ID
	}
	cp := key.Clone()
	cp.Counters = existing.Counters
	cp.CreatedAt = existing.CreatedAt
	s.keys[key.ID] = cp
	return nil
}

func (s *Memory) DeleteKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byHash, key.KeyHash)
	delete(s.keys, id)
	return nil
}

func (s *Memory) IncrementUsage(ctx context.Context, id string, requests int, patients int64, now time.Time) (*types.KeyCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	applyUsage(&key.Counters, requests, patients, now)
	key.UpdatedAt = now.UTC()
	c := key.Counters
	return &c, nil
}
