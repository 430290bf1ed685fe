// Package auth authenticates API keys and enforces per-key admission
// limits for job-related requests.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/casgen-dev/casgen/internal/store"
	"github.com/casgen-dev/casgen/internal/types"
)

// LegacyKeyID is the synthetic tenant id used when the configured
// legacy singleton key authenticates. There is no store row behind it.
const LegacyKeyID = "legacy"

// Default window limits for keys created without explicit limits.
const (
	DefaultPerMinute = 60
	DefaultPerHour   = 1000
)

// Demo key limits, applied when the well-known demo key is
// auto-provisioned.
const (
	demoMaxPatients = 500
	demoDailyCap    = 100
	demoPerMinute   = 10
	demoPerHour     = 50
)

// incrementAttempts bounds the retry loop around counter increments.
const incrementAttempts = 3

// Service resolves raw API keys to records and admits requests against
// the key's limits. Counters are authoritative in the store; sliding
// windows live in process.
type Service struct {
	keys    store.KeyStore
	logger  *slog.Logger
	legacy  string
	demo    string
	windows *windowTracker
	now     func() time.Time
}

// Options configures a Service. LegacyKey and DemoKey are raw key
// strings; either may be empty to disable that path.
type Options struct {
	LegacyKey string
	DemoKey   string
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewService builds an admission service on top of a key store.
func NewService(keys store.KeyStore, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		keys:    keys,
		logger:  logger,
		legacy:  opts.LegacyKey,
		demo:    opts.DemoKey,
		windows: newWindowTracker(),
		now:     now,
	}
}

// HashKey returns the SHA-256 hex digest under which a raw key is
// stored. Raw key material never reaches the store.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewRawKey mints a fresh random key string.
func NewRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return "cgk_" + hex.EncodeToString(buf), nil
}

// DemoLimits returns the restricted limit set for the demo key.
func DemoLimits() types.KeyLimits {
	maxPatients := demoMaxPatients
	dailyCap := demoDailyCap
	return types.KeyLimits{
		MaxPatientsPerRequest: &maxPatients,
		MaxRequestsPerDay:     &dailyCap,
		MaxRequestsPerMinute:  demoPerMinute,
		MaxRequestsPerHour:    demoPerHour,
	}
}

// DefaultLimits returns the limit set for a standard key.
func DefaultLimits() types.KeyLimits {
	return types.KeyLimits{
		MaxRequestsPerMinute: DefaultPerMinute,
		MaxRequestsPerHour:   DefaultPerHour,
	}
}

// Authenticate resolves rawKey to a key record without consuming any
// quota. The legacy singleton resolves to a synthetic unlimited key;
// the demo key is auto-provisioned on first use.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*types.APIKey, error) {
	if rawKey == "" {
		return nil, ErrMissingKey
	}
	now := s.now()

	if s.legacy != "" && rawKey == s.legacy {
		return s.legacyKey(now), nil
	}

	key, err := s.keys.GetKeyByHash(ctx, HashKey(rawKey))
	if errors.Is(err, store.ErrNotFound) {
		if s.demo != "" && rawKey == s.demo {
			return s.provisionDemoKey(ctx, now)
		}
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("look up key: %w", err)
	}

	if !key.IsActive {
		return nil, ErrKeyInactive
	}
	if key.Expired(now) {
		return nil, ErrKeyExpired
	}
	return key, nil
}

// Admit runs the admission sequence for one request: resolve the key,
// enforce the per-request patient cap, the minute and hour sliding
// windows, and the daily cap, then increment the request counters.
// patientCount is zero for requests that do not submit work.
func (s *Service) Admit(ctx context.Context, rawKey string, patientCount int) (*types.APIKey, error) {
	key, err := s.Authenticate(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	now := s.now()

	if limit := key.Limits.MaxPatientsPerRequest; limit != nil && patientCount > *limit {
		return nil, &LimitError{
			Code:    CodeQuotaExceeded,
			Message: fmt.Sprintf("request of %d patients exceeds the per-request cap of %d", patientCount, *limit),
		}
	}

	if wait, ok := s.windows.Reserve(key.ID, key.Limits.MaxRequestsPerMinute, key.Limits.MaxRequestsPerHour, now); !ok {
		return nil, &LimitError{
			Code:              CodeRateLimited,
			RetryAfterSeconds: wait,
			Message:           "request rate limit exceeded",
		}
	}

	if limit := key.Limits.MaxRequestsPerDay; limit != nil {
		daily := key.Counters.DailyRequests
		if !now.Before(key.Counters.DailyResetAt) {
			daily = 0
		}
		if daily >= *limit {
			return nil, &LimitError{
				Code:              CodeRateLimited,
				RetryAfterSeconds: secondsUntil(key.Counters.DailyResetAt, now),
				Message:           fmt.Sprintf("daily request cap of %d exceeded", *limit),
			}
		}
	}

	if key.ID == LegacyKeyID {
		return key, nil
	}

	counters, err := s.incrementWithRetry(ctx, key.ID, 1, 0, now)
	if err != nil {
		return nil, err
	}
	key.Counters = *counters
	return key, nil
}

// RecordCompletion adds the produced patient count to the key's
// lifetime counter once a job completes successfully.
func (s *Service) RecordCompletion(ctx context.Context, keyID string, patients int64) error {
	if keyID == LegacyKeyID || patients <= 0 {
		return nil
	}
	_, err := s.incrementWithRetry(ctx, keyID, 0, patients, s.now())
	if errors.Is(err, store.ErrNotFound) {
		// The key was deleted while its job ran; nothing to account.
		return nil
	}
	return err
}

// Forget clears in-process window state for a key.
func (s *Service) Forget(keyID string) { s.windows.Forget(keyID) }

func (s *Service) legacyKey(now time.Time) *types.APIKey {
	return &types.APIKey{
		ID:       LegacyKeyID,
		Name:     "Legacy environment key",
		IsActive: true,
		Counters: types.KeyCounters{DailyResetAt: types.NextDailyReset(now)},
	}
}

func (s *Service) provisionDemoKey(ctx context.Context, now time.Time) (*types.APIKey, error) {
	key := &types.APIKey{
		ID:       uuid.NewString(),
		KeyHash:  HashKey(s.demo),
		Name:     "Demo key",
		IsActive: true,
		IsDemo:   true,
		Limits:   DemoLimits(),
		Counters: types.KeyCounters{
			DailyResetAt: types.NextDailyReset(now),
		},
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	err := s.keys.CreateKey(ctx, key)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the provisioning race; the winner's row is the record.
		return s.keys.GetKeyByHash(ctx, key.KeyHash)
	}
	if err != nil {
		return nil, fmt.Errorf("provision demo key: %w", err)
	}
	s.logger.Info("demo key auto-provisioned", "key_id", key.ID)
	return key, nil
}

// incrementWithRetry wraps the store increment with exponential
// backoff for transient storage failures.
func (s *Service) incrementWithRetry(ctx context.Context, id string, requests int, patients int64, now time.Time) (*types.KeyCounters, error) {
	backoff := 50 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= incrementAttempts; attempt++ {
		counters, err := s.keys.IncrementUsage(ctx, id, requests, patients, now)
		if err == nil {
			return counters, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		lastErr = err
		if attempt == incrementAttempts {
			break
		}
		s.logger.Warn("usage increment failed, retrying",
			"key_id", id, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("increment usage after %d attempts: %w", incrementAttempts, lastErr)
}

func secondsUntil(t, now time.Time) int {
	secs := int(math.Ceil(t.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
