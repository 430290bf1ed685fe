// Package evac owns evacuation and transit timing tables for the
// facility chain and the triage-dependent outcome-rate modifiers.
package evac

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/casgen-dev/casgen/internal/types"
)

//go:embed data/default_times.json
var defaultTimesJSON []byte

// ConfigError reports a structural problem in an evacuation table.
// Loading fails fast on the first problem found.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "evacuation config: " + e.Message
	}
	return fmt.Sprintf("evacuation config: %s: %s", e.Field, e.Message)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Manager exposes timing draws over a validated evacuation table. It
// is read-only after construction and safe for concurrent use; the
// caller supplies the RNG so draws stay deterministic per patient.
type Manager struct {
	cfg *types.EvacuationConfig
}

// Load parses and validates an evacuation table from JSON.
func Load(raw []byte) (*Manager, error) {
	var cfg types.EvacuationConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &ConfigError{Message: "invalid JSON: " + err.Error()}
	}
	return NewManager(&cfg)
}

// Default returns a manager over the bundled evacuation table.
func Default() (*Manager, error) {
	return Load(defaultTimesJSON)
}

// DefaultConfig returns a parsed copy of the bundled evacuation table,
// for attaching to configurations that carry no inline table.
func DefaultConfig() (*types.EvacuationConfig, error) {
	m, err := Default()
	if err != nil {
		return nil, err
	}
	return m.cfg, nil
}

// NewManager validates cfg and wraps it. Every facility x triage cell,
// every adjacent transit route, and both modifier tables must be
// present and well-formed.
func NewManager(cfg *types.EvacuationConfig) (*Manager, error) {
	if cfg == nil {
		return nil, &ConfigError{Message: "nil configuration"}
	}
	chain := types.FacilityChain()
	for _, f := range chain {
		cells, ok := cfg.EvacuationTimes[f]
		if !ok {
			return nil, &ConfigError{Field: "evacuation_times." + string(f), Message: "facility missing"}
		}
		for _, t := range types.TriageClasses() {
			rng, ok := cells[t]
			field := fmt.Sprintf("evacuation_times.%s.%s", f, t)
			if !ok {
				return nil, &ConfigError{Field: field, Message: "triage cell missing"}
			}
			if err := checkRange(rng, field); err != nil {
				return nil, err
			}
		}
	}
	for i := 0; i < len(chain)-1; i++ {
		key := types.RouteKey(chain[i], chain[i+1])
		cells, ok := cfg.TransitTimes[key]
		if !ok {
			return nil, &ConfigError{Field: "transit_times." + key, Message: "route missing"}
		}
		for _, t := range types.TriageClasses() {
			rng, ok := cells[t]
			field := fmt.Sprintf("transit_times.%s.%s", key, t)
			if !ok {
				return nil, &ConfigError{Field: field, Message: "triage cell missing"}
			}
			if err := checkRange(rng, field); err != nil {
				return nil, err
			}
		}
	}
	for _, t := range types.TriageClasses() {
		if m, ok := cfg.KIAModifiers[t]; !ok || !(m > 0) || math.IsInf(m, 0) || math.IsNaN(m) {
			return nil, &ConfigError{Field: "kia_rate_modifiers." + string(t), Message: "must be a positive real"}
		}
		if m, ok := cfg.RTDModifiers[t]; !ok || !(m > 0) || math.IsInf(m, 0) || math.IsNaN(m) {
			return nil, &ConfigError{Field: "rtd_rate_modifiers." + string(t), Message: "must be a positive real"}
		}
	}
	return &Manager{cfg: cfg}, nil
}

func checkRange(rng types.TimeRange, field string) error {
	if rng.MinHours < 0 || rng.MaxHours < 0 || math.IsNaN(rng.MinHours) || math.IsNaN(rng.MaxHours) {
		return &ConfigError{Field: field, Message: "hours must be non-negative"}
	}
	if rng.MinHours > rng.MaxHours {
		return &ConfigError{Field: field, Message: fmt.Sprintf("min %.2f exceeds max %.2f", rng.MinHours, rng.MaxHours)}
	}
	return nil
}

// EvacuationHours draws a stay duration in hours for (facility, triage)
// uniformly from the configured window.
func (m *Manager) EvacuationHours(f types.Facility, t types.Triage, rng *rand.Rand) float64 {
	r := m.cfg.EvacuationTimes[f][t]
	return drawHours(r, rng)
}

// EvacuationWindow returns the configured [min, max] hours for the cell.
func (m *Manager) EvacuationWindow(f types.Facility, t types.Triage) types.TimeRange {
	return m.cfg.EvacuationTimes[f][t]
}

// TransitHours draws a transit duration for the route (from -> to). A
// missing route is a ConfigError, not a zero draw.
func (m *Manager) TransitHours(from, to types.Facility, t types.Triage, rng *rand.Rand) (float64, error) {
	cells, ok := m.cfg.TransitTimes[types.RouteKey(from, to)]
	if !ok {
		return 0, &ConfigError{Field: "transit_times." + types.RouteKey(from, to), Message: "route missing"}
	}
	r, ok := cells[t]
	if !ok {
		return 0, &ConfigError{
			Field:   fmt.Sprintf("transit_times.%s.%s", types.RouteKey(from, to), t),
			Message: "triage cell missing",
		}
	}
	return drawHours(r, rng), nil
}

// HasRoute reports whether a transit route is configured, including
// non-adjacent bypass routes like POI->Role2.
func (m *Manager) HasRoute(from, to types.Facility) bool {
	_, ok := m.cfg.TransitTimes[types.RouteKey(from, to)]
	return ok
}

// KIAModifier returns the triage multiplier applied to base KIA rates.
func (m *Manager) KIAModifier(t types.Triage) float64 {
	return m.cfg.KIAModifiers[t]
}

// RTDModifier returns the triage multiplier applied to base RTD rates.
func (m *Manager) RTDModifier(t types.Triage) float64 {
	return m.cfg.RTDModifiers[t]
}

// FacilityOrder returns the evacuation chain in order.
func (m *Manager) FacilityOrder() []types.Facility {
	return types.FacilityChain()
}

// Config returns the underlying table for read-only exposure over the
// API.
func (m *Manager) Config() *types.EvacuationConfig {
	return m.cfg
}

func drawHours(r types.TimeRange, rng *rand.Rand) float64 {
	if r.MaxHours <= r.MinHours {
		return r.MinHours
	}
	return r.MinHours + rng.Float64()*(r.MaxHours-r.MinHours)
}

// HoursToDuration converts fractional hours to a time.Duration.
func HoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
