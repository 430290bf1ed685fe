package api

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultLimiterMaxClients      = 10000
	defaultLimiterClientTTL       = 10 * time.Minute
	defaultLimiterCleanupInterval = time.Minute
)

// RateLimiterConfig configures the global per-client request limiter
// that runs ahead of key authentication. Per-key sliding windows are a
// separate concern enforced during admission.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained refill rate per client.
	RequestsPerSecond float64
	// Burst is the bucket capacity per client.
	Burst int
	// Enabled controls whether the limiter is active.
	Enabled bool
	// MaxClients bounds the number of tracked client buckets.
	MaxClients int
	// ClientTTL is how long an idle client bucket is retained.
	ClientTTL time.Duration
	// CleanupInterval controls how often idle buckets are dropped.
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig returns the production defaults.
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerSecond: 50,
		Burst:             100,
		Enabled:           true,
		MaxClients:        defaultLimiterMaxClients,
		ClientTTL:         defaultLimiterClientTTL,
		CleanupInterval:   defaultLimiterCleanupInterval,
	}
}

// clientLimiter keeps one token bucket per client key. Idle buckets age
// out; at capacity the least recently seen bucket is evicted.
type clientLimiter struct {
	config      *RateLimiterConfig
	mu          sync.Mutex
	clients     map[string]*limiterEntry
	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(config *RateLimiterConfig) *clientLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	return &clientLimiter{
		config:      config,
		clients:     make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}
}

// allowKey takes one token from the client's bucket.
func (cl *clientLimiter) allowKey(key string) bool {
	if !cl.config.Enabled {
		return true
	}
	if key == "" {
		key = "unknown"
	}

	now := time.Now()
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.cleanupLocked(now)

	entry, ok := cl.clients[key]
	if !ok {
		if cl.config.MaxClients > 0 && len(cl.clients) >= cl.config.MaxClients {
			cl.evictOldestLocked()
		}
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(cl.config.RequestsPerSecond), cl.config.Burst),
		}
		cl.clients[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func (cl *clientLimiter) cleanupLocked(now time.Time) {
	interval := cl.config.CleanupInterval
	if interval <= 0 {
		interval = defaultLimiterCleanupInterval
	}
	if now.Sub(cl.lastCleanup) < interval {
		return
	}
	cl.lastCleanup = now

	ttl := cl.config.ClientTTL
	if ttl <= 0 {
		ttl = defaultLimiterClientTTL
	}
	cutoff := now.Add(-ttl)
	for key, entry := range cl.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(cl.clients, key)
		}
	}
}

func (cl *clientLimiter) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, entry := range cl.clients {
		if first || entry.lastSeen.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastSeen
			first = false
		}
	}
	if oldestKey != "" {
		log.Printf("[RateLimiter] max clients reached (%d), evicting oldest bucket", cl.config.MaxClients)
		delete(cl.clients, oldestKey)
	}
}
