// Package medical selects facility treatments for a diagnosis by ranking
// protocol candidates with a time-sensitive utility score.
package medical

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/casgen-dev/casgen/internal/types"
)

//go:embed data/protocols.json
var protocolsJSON []byte

// Candidate is one treatment option within a protocol, scoped to a facility.
type Candidate struct {
	Treatment         string   `json:"treatment"`
	Appropriateness   float64  `json:"appropriateness"`
	EffectivenessBase float64  `json:"effectiveness_base"`
	GoldenHourH       float64  `json:"golden_hour_threshold_h"`
	DecayRatePerH     float64  `json:"decay_rate_per_h"`
	Contraindications []string `json:"contraindications,omitempty"`
}

// Resolution reports how a diagnosis was mapped to a protocol so callers can
// log keyword fallbacks once per diagnosis.
type Resolution struct {
	Protocol   string
	ViaKeyword bool
	Keyword    string
	Fallback   bool
}

// Utility weights. T1 casualties weight elapsed time more heavily.
const (
	weightAppropriateness = 0.5
	weightTime            = 0.3
	weightTimeUrgent      = 0.5
	weightRisk            = 0.2
)

// selectionDepth caps how many ranked treatments each echelon applies.
var selectionDepth = map[types.Facility]int{
	types.FacilityPOI:   2,
	types.FacilityRole1: 3,
	types.FacilityRole2: 5,
	types.FacilityRole3: 6,
	types.FacilityRole4: 4,
}

// keywordRules map display-text fragments to protocols for diagnoses whose
// code has no protocol entry. First match wins.
var keywordRules = []struct {
	keyword  string
	protocol string
}{
	{"burn", "BI-BURN"},
	{"amputation", "BI-AMP"},
	{"fracture", "NBI-FRACTURE"},
	{"gunshot", "BI-GSW"},
	{"fragmentation", "BI-FRAG"},
	{"blast", "BI-BLAST"},
	{"crush", "BI-CRUSH"},
	{"trauma", "NBI-"},
	{"injury", "NBI-"},
	{"infection", "DIS-"},
	{"illness", "DIS-"},
}

var supportiveCare = Candidate{
	Treatment:         "Supportive care",
	Appropriateness:   0.3,
	EffectivenessBase: 0.5,
	GoldenHourH:       24,
	DecayRatePerH:     0.01,
}

// Selector resolves diagnoses to protocols and ranks candidate treatments.
type Selector struct {
	protocols map[string]map[types.Facility][]Candidate
	prefixes  []string
}

// Load parses the bundled protocol table. The table is validated once at
// process start so selection never fails mid-run.
func Load() (*Selector, error) {
	var raw map[string]map[string][]Candidate
	if err := json.Unmarshal(protocolsJSON, &raw); err != nil {
		return nil, fmt.Errorf("parse protocol table: %w", err)
	}
	s := &Selector{protocols: make(map[string]map[types.Facility][]Candidate, len(raw))}
	for prefix, byFacility := range raw {
		entry := make(map[types.Facility][]Candidate, len(byFacility))
		for name, candidates := range byFacility {
			f := types.Facility(name)
			if !types.ValidFacility(f) {
				return nil, fmt.Errorf("protocol %s: unknown facility %q", prefix, name)
			}
			for _, c := range candidates {
				if err := c.validate(); err != nil {
					return nil, fmt.Errorf("protocol %s at %s: %w", prefix, name, err)
				}
			}
			entry[f] = candidates
		}
		s.protocols[prefix] = entry
		s.prefixes = append(s.prefixes, prefix)
	}
	// Longest prefix first so BI-GSW beats a hypothetical BI- entry.
	sort.Slice(s.prefixes, func(i, j int) bool {
		if len(s.prefixes[i]) != len(s.prefixes[j]) {
			return len(s.prefixes[i]) > len(s.prefixes[j])
		}
		return s.prefixes[i] < s.prefixes[j]
	})
	return s, nil
}

func (c Candidate) validate() error {
	if c.Treatment == "" {
		return fmt.Errorf("candidate with empty treatment name")
	}
	if c.Appropriateness < 0 || c.Appropriateness > 1 {
		return fmt.Errorf("%s: appropriateness %.2f outside [0,1]", c.Treatment, c.Appropriateness)
	}
	if c.EffectivenessBase < 0 || c.EffectivenessBase > 1 {
		return fmt.Errorf("%s: effectiveness_base %.2f outside [0,1]", c.Treatment, c.EffectivenessBase)
	}
	if c.GoldenHourH < 0 || c.DecayRatePerH < 0 {
		return fmt.Errorf("%s: negative time parameter", c.Treatment)
	}
	return nil
}

// Resolve maps a diagnosis to its protocol without selecting treatments.
func (s *Selector) Resolve(diag types.Diagnosis) Resolution {
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(diag.Code, prefix) {
			return Resolution{Protocol: prefix}
		}
	}
	display := strings.ToLower(diag.Display)
	for _, rule := range keywordRules {
		if !strings.Contains(display, rule.keyword) {
			continue
		}
		if _, ok := s.protocols[rule.protocol]; ok {
			return Resolution{Protocol: rule.protocol, ViaKeyword: true, Keyword: rule.keyword}
		}
	}
	return Resolution{Fallback: true}
}

// Select ranks the protocol candidates for a diagnosis at one facility and
// returns the applied treatments, highest utility first. hoursSinceInjury is
// the elapsed time at the moment care starts. When no protocol matches, or
// every candidate is contraindicated, the generic supportive-care entry is
// applied so no casualty leaves a facility untreated.
func (s *Selector) Select(diag types.Diagnosis, facility types.Facility, triage types.Triage, hoursSinceInjury float64) ([]types.AppliedTreatment, Resolution) {
	res := s.Resolve(diag)
	var candidates []Candidate
	if !res.Fallback {
		candidates = s.protocols[res.Protocol][facility]
	}

	type scored struct {
		c Candidate
		u float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if contraindicated(c, diag) {
			continue
		}
		ranked = append(ranked, scored{c: c, u: utility(c, triage, hoursSinceInjury)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].u > ranked[j].u })

	depth := selectionDepth[facility]
	if depth == 0 || depth > len(ranked) {
		depth = len(ranked)
	}
	if len(ranked) == 0 {
		res.Fallback = true
		ranked = []scored{{c: supportiveCare, u: utility(supportiveCare, triage, hoursSinceInjury)}}
		depth = 1
	}

	applied := make([]types.AppliedTreatment, 0, depth)
	for _, sc := range ranked[:depth] {
		applied = append(applied, types.AppliedTreatment{
			Facility:      facility,
			DiagnosisCode: diag.Code,
			Treatment:     sc.c.Treatment,
			Utility:       sc.u,
		})
	}
	return applied, res
}

// utility scores a candidate. The time factor is 1 inside the treatment's
// golden window and decays exponentially past it.
func utility(c Candidate, triage types.Triage, hoursSinceInjury float64) float64 {
	wTime := weightTime
	if triage == types.TriageT1 {
		wTime = weightTimeUrgent
	}
	overdue := math.Max(0, hoursSinceInjury-c.GoldenHourH)
	timeFactor := math.Exp(-c.DecayRatePerH * overdue)
	risk := 1 - c.EffectivenessBase
	return weightAppropriateness*c.Appropriateness + wTime*timeFactor - weightRisk*risk
}

func contraindicated(c Candidate, diag types.Diagnosis) bool {
	if len(c.Contraindications) == 0 {
		return false
	}
	display := strings.ToLower(diag.Display)
	for _, token := range c.Contraindications {
		if strings.HasPrefix(diag.Code, token) {
			return true
		}
		if strings.Contains(display, strings.ToLower(token)) {
			return true
		}
	}
	return false
}

// Depth reports how many treatments are applied at a facility.
func Depth(f types.Facility) int { return selectionDepth[f] }
