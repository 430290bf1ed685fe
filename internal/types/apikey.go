package types

import "time"

// KeyLimits are the per-key admission bounds. Nil pointer fields mean
// unlimited.
type KeyLimits struct {
	MaxPatientsPerRequest *int `json:"max_patients_per_request,omitempty"`
	MaxRequestsPerDay     *int `json:"max_requests_per_day,omitempty"`
	MaxRequestsPerMinute  int  `json:"max_requests_per_minute"`
	MaxRequestsPerHour    int  `json:"max_requests_per_hour"`
}

// KeyCounters track cumulative and daily usage. DailyRequests resets
// when the clock passes DailyResetAt, which stays UTC midnight-aligned.
type KeyCounters struct {
	TotalRequests int       `json:"total_requests"`
	TotalPatients int64     `json:"total_patients"`
	DailyRequests int       `json:"daily_requests"`
	DailyResetAt  time.Time `json:"daily_reset_at"`
}

// APIKey is the persisted record for one tenant credential. The raw
// key material is never stored; KeyHash holds its SHA-256 hex digest.
type APIKey struct {
	ID        string            `json:"id"`
	KeyHash   string            `json:"key_hash"`
	Name      string            `json:"name"`
	Email     string            `json:"email,omitempty"`
	IsActive  bool              `json:"is_active"`
	IsDemo    bool              `json:"is_demo"`
	Limits    KeyLimits         `json:"limits"`
	Counters  KeyCounters       `json:"counters"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Metadata  map[string]string `json:"key_metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Expired reports whether the key has an expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// Clone returns a copy safe to hand across goroutine boundaries.
func (k *APIKey) Clone() *APIKey {
	cp := *k
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		cp.ExpiresAt = &t
	}
	if k.Limits.MaxPatientsPerRequest != nil {
		v := *k.Limits.MaxPatientsPerRequest
		cp.Limits.MaxPatientsPerRequest = &v
	}
	if k.Limits.MaxRequestsPerDay != nil {
		v := *k.Limits.MaxRequestsPerDay
		cp.Limits.MaxRequestsPerDay = &v
	}
	if k.Metadata != nil {
		cp.Metadata = make(map[string]string, len(k.Metadata))
		for name, val := range k.Metadata {
			cp.Metadata[name] = val
		}
	}
	return &cp
}

// NextDailyReset returns the first UTC midnight strictly after now.
func NextDailyReset(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}
