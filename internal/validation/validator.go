package validation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/casgen-dev/casgen/internal/types"
)

const injuryMixTolerance = 1e-6

// Options configures a Validator. All reference data is injected so
// tests can run against their own tables.
type Options struct {
	// MaxTotalPatients caps total_patients per request. Zero selects
	// the default of 100000.
	MaxTotalPatients int
	// EnabledFormats lists the output formats with an installed
	// writer. Formats outside this set but inside the accepted enum
	// fail with FORMAT_NOT_ENABLED.
	EnabledFormats []types.OutputFormat
	// KnownScenarios lists the warfare scenario ids the generator
	// models.
	KnownScenarios []string
	// DefaultEvacuation is attached to configurations that carry no
	// inline evacuation table.
	DefaultEvacuation *types.EvacuationConfig
	// Templates resolves configuration_id references.
	Templates map[string]*types.Configuration
}

// Validator checks generation requests against the admission rules and
// produces normalized configurations for the engine.
type Validator struct {
	maxTotalPatients int
	enabledFormats   map[types.OutputFormat]bool
	knownScenarios   map[string]bool
	defaultEvac      *types.EvacuationConfig
	templates        map[string]*types.Configuration
}

// NewValidator builds a Validator from the given options.
func NewValidator(opts Options) *Validator {
	v := &Validator{
		maxTotalPatients: opts.MaxTotalPatients,
		enabledFormats:   make(map[types.OutputFormat]bool, len(opts.EnabledFormats)),
		knownScenarios:   make(map[string]bool, len(opts.KnownScenarios)),
		defaultEvac:      opts.DefaultEvacuation,
		templates:        opts.Templates,
	}
	if v.maxTotalPatients <= 0 {
		v.maxTotalPatients = 100000
	}
	for _, f := range opts.EnabledFormats {
		v.enabledFormats[f] = true
	}
	for _, id := range opts.KnownScenarios {
		v.knownScenarios[id] = true
	}
	return v
}

// ValidateRequest checks the request and, when it passes, returns the
// normalized configuration the engine runs against. The returned
// report carries every issue found, not just the first.
func (v *Validator) ValidateRequest(req *types.GenerationRequest) (*types.Configuration, *ValidationReport) {
	report := NewValidationReport()
	if req == nil {
		report.AddError(CodeRequiredFieldMissing, "request body is required", "")
		return nil, report
	}

	v.validateSource(req, report)
	v.validateFormats(req, report)
	v.validateEncryption(req, report)
	v.validatePriority(req, report)

	cfg := v.resolveConfiguration(req, report)
	if cfg == nil {
		return nil, report
	}

	v.validateCounts(cfg, report)
	v.validateInjuryMix(cfg, report)
	v.validateFronts(cfg, report)
	v.validateTempoIntensity(cfg, report)
	v.validateScenarios(cfg, report)
	v.validateConditions(cfg, report)
	v.validateSpecialEvents(cfg, report)

	if cfg.Evacuation == nil {
		cfg.Evacuation = v.defaultEvac
	}
	v.validateEvacuation(cfg.Evacuation, report)

	if !report.OK {
		return nil, report
	}
	v.normalize(cfg)
	return cfg, report
}

func (v *Validator) validateSource(req *types.GenerationRequest, report *ValidationReport) {
	hasID := req.ConfigurationID != ""
	hasInline := req.Configuration != nil
	if hasID == hasInline {
		report.AddError(CodeConfigSourceConflict,
			"exactly one of configuration_id or configuration must be provided", "")
	}
}

func (v *Validator) validateFormats(req *types.GenerationRequest, report *ValidationReport) {
	if len(req.OutputFormats) == 0 {
		report.AddError(CodeOutputFormatsEmpty, "output_formats must name at least one format", "/output_formats")
		return
	}
	for i, f := range req.OutputFormats {
		ptr := fmt.Sprintf("/output_formats/%d", i)
		if !types.ValidOutputFormat(f) {
			report.AddError(CodeOutputFormatUnknown,
				fmt.Sprintf("unknown output format %q", f), ptr)
			continue
		}
		if !v.enabledFormats[f] {
			report.AddErrorWithRemediation(CodeFormatNotEnabled,
				fmt.Sprintf("format %q has no converter installed on this server", f), ptr,
				"request one of: "+v.enabledFormatList())
		}
	}
}

func (v *Validator) enabledFormatList() string {
	names := make([]string, 0, len(v.enabledFormats))
	for f := range v.enabledFormats {
		names = append(names, string(f))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (v *Validator) validateEncryption(req *types.GenerationRequest, report *ValidationReport) {
	if req.UseEncryption && len(req.EncryptionPassword) < 8 {
		report.AddError(CodePasswordTooShort,
			"encryption_password must be at least 8 characters when use_encryption is set",
			"/encryption_password")
	}
}

func (v *Validator) validatePriority(req *types.GenerationRequest, report *ValidationReport) {
	if req.Priority == "" {
		req.Priority = types.PriorityNormal
		return
	}
	if !types.ValidPriority(req.Priority) {
		report.AddError(CodePriorityInvalid,
			fmt.Sprintf("priority %q is not one of low, normal, high", req.Priority), "/priority")
	}
}

func (v *Validator) resolveConfiguration(req *types.GenerationRequest, report *ValidationReport) *types.Configuration {
	if req.ConfigurationID != "" {
		tpl, ok := v.templates[req.ConfigurationID]
		if !ok {
			report.AddError(CodeUnknownConfiguration,
				fmt.Sprintf("configuration_id %q does not name a stored configuration", req.ConfigurationID),
				"/configuration_id")
			return nil
		}
		return cloneConfiguration(tpl)
	}
	if req.Configuration == nil {
		return nil
	}
	return cloneConfiguration(req.Configuration)
}

func (v *Validator) validateCounts(cfg *types.Configuration, report *ValidationReport) {
	if cfg.TotalPatients < 1 || cfg.TotalPatients > v.maxTotalPatients {
		report.AddError(CodePatientCountInvalid,
			fmt.Sprintf("total_patients must be between 1 and %d, got %d", v.maxTotalPatients, cfg.TotalPatients),
			"/configuration/total_patients")
	}
	if cfg.DaysOfFighting < 1 {
		report.AddError(CodeDaysOfFightingInvalid,
			fmt.Sprintf("days_of_fighting must be at least 1, got %d", cfg.DaysOfFighting),
			"/configuration/days_of_fighting")
	}
	if cfg.BaseDate.Time.IsZero() {
		report.AddError(CodeBaseDateMissing, "base_date is required", "/configuration/base_date")
	}
}

func (v *Validator) validateInjuryMix(cfg *types.Configuration, report *ValidationReport) {
	if len(cfg.InjuryMix) == 0 {
		report.AddError(CodeRequiredFieldMissing, "injury_mix is required", "/configuration/injury_mix")
		return
	}
	sum := 0.0
	for cat, p := range cfg.InjuryMix {
		ptr := "/configuration/injury_mix/" + string(cat)
		if !types.ValidInjuryCategory(cat) {
			report.AddError(CodeInjuryMixInvalid,
				fmt.Sprintf("unknown injury category %q", cat), ptr)
			continue
		}
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			report.AddError(CodeInjuryMixInvalid,
				fmt.Sprintf("injury_mix[%s] must be a non-negative probability, got %v", cat, p), ptr)
			continue
		}
		sum += p
	}
	if report.OK && math.Abs(sum-1.0) > injuryMixTolerance {
		report.AddError(CodeInjuryMixSum,
			fmt.Sprintf("injury_mix probabilities must sum to 1.0 within %g, got %.9f", injuryMixTolerance, sum),
			"/configuration/injury_mix")
	}
}

func (v *Validator) validateFronts(cfg *types.Configuration, report *ValidationReport) {
	if len(cfg.Fronts) == 0 {
		report.AddError(CodeFrontsEmpty, "at least one front is required", "/configuration/front_configs")
		return
	}
	anyPositive := false
	for i, front := range cfg.Fronts {
		ptr := fmt.Sprintf("/configuration/front_configs/%d", i)
		if front.CasualtyRate < 0 || math.IsNaN(front.CasualtyRate) {
			report.AddError(CodeFrontWeightInvalid,
				fmt.Sprintf("front %q casualty_rate must be non-negative", front.ID), ptr+"/casualty_rate")
		} else if front.CasualtyRate > 0 {
			anyPositive = true
		}
		if len(front.NationalityDistribution) == 0 {
			report.AddError(CodeNationalityEmpty,
				fmt.Sprintf("front %q has no nationality distribution", front.ID),
				ptr+"/nationality_distribution")
			continue
		}
		for nat, w := range front.NationalityDistribution {
			if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
				report.AddError(CodeNationalityWeight,
					fmt.Sprintf("front %q nationality %q weight must be positive, got %v", front.ID, nat, w),
					ptr+"/nationality_distribution/"+nat)
			}
		}
	}
	if !anyPositive {
		report.AddError(CodeFrontWeightInvalid,
			"at least one front must have casualty_rate > 0", "/configuration/front_configs")
	}
}

func (v *Validator) validateTempoIntensity(cfg *types.Configuration, report *ValidationReport) {
	if cfg.Intensity == "" {
		cfg.Intensity = types.IntensityMedium
	} else if !types.ValidIntensity(cfg.Intensity) {
		report.AddError(CodeIntensityInvalid,
			fmt.Sprintf("intensity %q is not one of low, medium, high, extreme", cfg.Intensity),
			"/configuration/intensity")
	}
	if cfg.Tempo == "" {
		cfg.Tempo = types.TempoSustained
	} else if !types.ValidTempo(cfg.Tempo) {
		report.AddError(CodeTempoInvalid,
			fmt.Sprintf("tempo %q is not one of sustained, escalating, surge, declining, intermittent", cfg.Tempo),
			"/configuration/tempo")
	}
}

func (v *Validator) validateScenarios(cfg *types.Configuration, report *ValidationReport) {
	for id := range cfg.WarfareScenarios {
		if !v.knownScenarios[id] {
			report.AddError(CodeUnknownScenario,
				fmt.Sprintf("warfare scenario %q is not known to this engine", id),
				"/configuration/warfare_scenarios/"+id)
		}
	}
}

func (v *Validator) validateConditions(cfg *types.Configuration, report *ValidationReport) {
	for i, id := range cfg.Environmental {
		if !types.KnownCondition(id) {
			report.AddWarning(CodeUnknownCondition,
				fmt.Sprintf("environmental condition %q carries no modeled modifier", id),
				fmt.Sprintf("/configuration/environmental_conditions/%d", i))
		}
	}
}

func (v *Validator) validateSpecialEvents(cfg *types.Configuration, report *ValidationReport) {
	for i, ev := range cfg.SpecialEvents {
		ptr := fmt.Sprintf("/configuration/special_events/%d", i)
		if !types.KnownSpecialEvent(ev.Type) {
			report.AddError(CodeUnknownSpecialEvent,
				fmt.Sprintf("special event type %q is not supported", ev.Type), ptr+"/type")
		}
		if ev.MinPatients < 1 || ev.MaxPatients < ev.MinPatients {
			report.AddError(CodeSpecialEventRange,
				fmt.Sprintf("special event %q requires 1 <= min_patients <= max_patients, got [%d, %d]",
					ev.Type, ev.MinPatients, ev.MaxPatients), ptr)
		}
		if ev.DayOffset != nil && (*ev.DayOffset < 0 || *ev.DayOffset >= cfg.DaysOfFighting) {
			report.AddError(CodeSpecialEventRange,
				fmt.Sprintf("special event %q day_offset %d is outside the %d-day horizon",
					ev.Type, *ev.DayOffset, cfg.DaysOfFighting), ptr+"/day_offset")
		}
	}
}

func (v *Validator) validateEvacuation(ec *types.EvacuationConfig, report *ValidationReport) {
	if ec == nil {
		report.AddError(CodeRequiredFieldMissing,
			"no evacuation configuration available (no inline table and no server default)",
			"/configuration/evacuation_config")
		return
	}
	base := "/configuration/evacuation_config"
	for _, f := range types.FacilityChain() {
		cells, ok := ec.EvacuationTimes[f]
		if !ok {
			report.AddError(CodeEvacCoverageIncomplete,
				fmt.Sprintf("evacuation_times missing facility %s", f),
				base+"/evacuation_times/"+string(f))
			continue
		}
		for _, t := range types.TriageClasses() {
			rng, ok := cells[t]
			ptr := base + "/evacuation_times/" + string(f) + "/" + string(t)
			if !ok {
				report.AddError(CodeEvacCoverageIncomplete,
					fmt.Sprintf("evacuation_times missing cell (%s, %s)", f, t), ptr)
				continue
			}
			checkRange(report, rng, fmt.Sprintf("(%s, %s)", f, t), ptr)
		}
	}

	chain := types.FacilityChain()
	for i := 0; i < len(chain)-1; i++ {
		key := types.RouteKey(chain[i], chain[i+1])
		cells, ok := ec.TransitTimes[key]
		ptr := base + "/transit_times/" + key
		if !ok {
			report.AddError(CodeTransitRouteMissing,
				fmt.Sprintf("transit route %s is not configured", key), ptr)
			continue
		}
		for _, t := range types.TriageClasses() {
			rng, ok := cells[t]
			if !ok {
				report.AddError(CodeEvacCoverageIncomplete,
					fmt.Sprintf("transit route %s missing triage %s", key, t), ptr+"/"+string(t))
				continue
			}
			checkRange(report, rng, fmt.Sprintf("route %s %s", key, t), ptr+"/"+string(t))
		}
	}

	for _, t := range types.TriageClasses() {
		if m, ok := ec.KIAModifiers[t]; !ok || !(m > 0) || math.IsInf(m, 0) {
			report.AddError(CodeRateModifierInvalid,
				fmt.Sprintf("kia_rate_modifiers[%s] must be a positive real", t),
				base+"/kia_rate_modifiers/"+string(t))
		}
		if m, ok := ec.RTDModifiers[t]; !ok || !(m > 0) || math.IsInf(m, 0) {
			report.AddError(CodeRateModifierInvalid,
				fmt.Sprintf("rtd_rate_modifiers[%s] must be a positive real", t),
				base+"/rtd_rate_modifiers/"+string(t))
		}
	}
}

func checkRange(report *ValidationReport, rng types.TimeRange, what, ptr string) {
	if rng.MinHours < 0 || rng.MaxHours < 0 || math.IsNaN(rng.MinHours) || math.IsNaN(rng.MaxHours) {
		report.AddError(CodeEvacRangeInvalid,
			fmt.Sprintf("%s hours must be non-negative", what), ptr)
		return
	}
	if rng.MinHours > rng.MaxHours {
		report.AddError(CodeEvacRangeInvalid,
			fmt.Sprintf("%s min_hours %.2f exceeds max_hours %.2f", what, rng.MinHours, rng.MaxHours), ptr)
	}
}

// normalize canonicalizes a configuration that passed validation:
// injury mix scaled to an exact 1.0 and fronts sorted by id.
func (v *Validator) normalize(cfg *types.Configuration) {
	sum := 0.0
	for _, p := range cfg.InjuryMix {
		sum += p
	}
	if sum > 0 {
		for cat, p := range cfg.InjuryMix {
			cfg.InjuryMix[cat] = p / sum
		}
	}
	sort.Slice(cfg.Fronts, func(i, j int) bool { return cfg.Fronts[i].ID < cfg.Fronts[j].ID })
}

func cloneConfiguration(src *types.Configuration) *types.Configuration {
	cp := *src
	if src.InjuryMix != nil {
		cp.InjuryMix = make(map[types.InjuryCategory]float64, len(src.InjuryMix))
		for k, v := range src.InjuryMix {
			cp.InjuryMix[k] = v
		}
	}
	if src.Fronts != nil {
		cp.Fronts = make([]types.FrontConfig, len(src.Fronts))
		copy(cp.Fronts, src.Fronts)
		for i, f := range src.Fronts {
			if f.NationalityDistribution != nil {
				nd := make(map[string]float64, len(f.NationalityDistribution))
				for k, v := range f.NationalityDistribution {
					nd[k] = v
				}
				cp.Fronts[i].NationalityDistribution = nd
			}
		}
	}
	if src.WarfareScenarios != nil {
		cp.WarfareScenarios = make(map[string]bool, len(src.WarfareScenarios))
		for k, v := range src.WarfareScenarios {
			cp.WarfareScenarios[k] = v
		}
	}
	if src.Environmental != nil {
		cp.Environmental = append([]string(nil), src.Environmental...)
	}
	if src.SpecialEvents != nil {
		cp.SpecialEvents = append([]types.SpecialEventConfig(nil), src.SpecialEvents...)
	}
	if src.Seed != nil {
		seed := *src.Seed
		cp.Seed = &seed
	}
	return &cp
}
