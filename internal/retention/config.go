// Package retention sweeps the artifacts of jobs that finished longer
// than the retention window ago. Swept job records stay in the store
// with Deleted set, so metadata remains queryable after the files are
// gone.
package retention

import "time"

// Config holds the sweep policy.
type Config struct {
	// RetentionDays is how long a finished job keeps its artifacts,
	// measured from its terminal timestamp.
	// Default: 7.
	RetentionDays int

	// SweepInterval is the pause between sweep passes.
	// Default: 1 hour.
	SweepInterval time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		RetentionDays: 7,
		SweepInterval: time.Hour,
	}
}

// WithDefaults returns a copy of the config with zero values replaced
// by defaults.
func (c Config) WithDefaults() Config {
	result := c
	if result.RetentionDays <= 0 {
		result.RetentionDays = 7
	}
	if result.SweepInterval <= 0 {
		result.SweepInterval = time.Hour
	}
	return result
}
