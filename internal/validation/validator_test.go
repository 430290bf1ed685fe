package validation

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/casgen-dev/casgen/internal/types"
)

// testEvacConfig builds a minimal table with full facility and route
// coverage, independent of the bundled defaults.
func testEvacConfig() *types.EvacuationConfig {
	ec := &types.EvacuationConfig{
		EvacuationTimes: make(map[types.Facility]map[types.Triage]types.TimeRange),
		TransitTimes:    make(map[string]map[types.Triage]types.TimeRange),
		KIAModifiers: map[types.Triage]float64{
			types.TriageT1: 1.5,
			types.TriageT2: 1.0,
			types.TriageT3: 0.5,
		},
		RTDModifiers: map[types.Triage]float64{
			types.TriageT1: 0.5,
			types.TriageT2: 1.0,
			types.TriageT3: 1.5,
		},
	}
	for _, f := range types.FacilityChain() {
		cells := make(map[types.Triage]types.TimeRange)
		for _, t := range types.TriageClasses() {
			cells[t] = types.TimeRange{MinHours: 1, MaxHours: 2}
		}
		ec.EvacuationTimes[f] = cells
	}
	chain := types.FacilityChain()
	for i := 0; i < len(chain)-1; i++ {
		cells := make(map[types.Triage]types.TimeRange)
		for _, t := range types.TriageClasses() {
			cells[t] = types.TimeRange{MinHours: 0.5, MaxHours: 1}
		}
		ec.TransitTimes[types.RouteKey(chain[i], chain[i+1])] = cells
	}
	return ec
}

func validConfig() *types.Configuration {
	return &types.Configuration{
		TotalPatients:  200,
		DaysOfFighting: 3,
		BaseDate:       types.NewDate(2026, time.March, 1),
		InjuryMix: map[types.InjuryCategory]float64{
			types.InjuryBattle:    0.6,
			types.InjuryNonBattle: 0.25,
			types.InjuryDisease:   0.15,
		},
		Fronts: []types.FrontConfig{
			{
				ID:           "north",
				CasualtyRate: 1.0,
				NationalityDistribution: map[string]float64{
					"USA": 0.7,
					"GBR": 0.3,
				},
			},
		},
		WarfareScenarios: map[string]bool{"conventional": true},
	}
}

func validRequest() *types.GenerationRequest {
	return &types.GenerationRequest{
		Configuration: validConfig(),
		OutputFormats: []types.OutputFormat{types.FormatJSON},
	}
}

func testValidator() *Validator {
	return NewValidator(Options{
		MaxTotalPatients:  10000,
		EnabledFormats:    []types.OutputFormat{types.FormatJSON, types.FormatCSV},
		KnownScenarios:    []string{"conventional", "artillery", "urban", "guerrilla", "drone", "airstrike"},
		DefaultEvacuation: testEvacConfig(),
		Templates: map[string]*types.Configuration{
			"baseline": validConfig(),
		},
	})
}

func hasCode(issues []ValidationIssue, code string) bool {
	for _, is := range issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

func requireCode(t *testing.T, report *ValidationReport, code string) {
	t.Helper()
	if report.OK {
		t.Fatalf("report.OK = true, want failure with code %s", code)
	}
	if !hasCode(report.Errors, code) {
		t.Fatalf("report missing error code %s, got %s", code, report.String())
	}
}

func TestValidationReport(t *testing.T) {
	t.Run("starts clean", func(t *testing.T) {
		r := NewValidationReport()
		if !r.OK || r.HasErrors() || r.HasWarnings() {
			t.Fatalf("fresh report not clean: %+v", r)
		}
		if got := r.String(); got != "Validation passed" {
			t.Fatalf("String() = %q", got)
		}
	})

	t.Run("error flips OK", func(t *testing.T) {
		r := NewValidationReport()
		r.AddError(CodeFrontsEmpty, "no fronts", "/configuration/front_configs")
		if r.OK {
			t.Fatal("OK should be false after AddError")
		}
		if !r.HasErrors() || len(r.Errors) != 1 {
			t.Fatalf("Errors = %+v", r.Errors)
		}
		if r.Errors[0].Level != LevelError {
			t.Fatalf("Level = %s", r.Errors[0].Level)
		}
		s := r.String()
		if !strings.Contains(s, CodeFrontsEmpty) || !strings.Contains(s, "/configuration/front_configs") {
			t.Fatalf("String() missing code or pointer: %q", s)
		}
	})

	t.Run("warning keeps OK", func(t *testing.T) {
		r := NewValidationReport()
		r.AddWarning(CodeUnknownCondition, "sandstorm not modeled", "/configuration/environmental_conditions/0")
		if !r.OK {
			t.Fatal("warnings must not flip OK")
		}
		if !r.HasWarnings() || r.Warnings[0].Level != LevelWarning {
			t.Fatalf("Warnings = %+v", r.Warnings)
		}
		if !strings.Contains(r.String(), "passed with 1 warning") {
			t.Fatalf("String() = %q", r.String())
		}
	})

	t.Run("remediation recorded", func(t *testing.T) {
		r := NewValidationReport()
		r.AddErrorWithRemediation(CodeFormatNotEnabled, "no converter", "/output_formats/0", "request one of: json")
		if r.Errors[0].Remediation != "request one of: json" {
			t.Fatalf("Remediation = %q", r.Errors[0].Remediation)
		}
	})

	t.Run("merge", func(t *testing.T) {
		a := NewValidationReport()
		a.AddWarning(CodeUnknownCondition, "w", "")
		b := NewValidationReport()
		b.AddError(CodeFrontsEmpty, "e", "")
		a.Merge(b)
		if a.OK {
			t.Fatal("merge of failed report must flip OK")
		}
		if len(a.Errors) != 1 || len(a.Warnings) != 1 {
			t.Fatalf("errors=%d warnings=%d", len(a.Errors), len(a.Warnings))
		}
		a.Merge(nil)
		if len(a.Errors) != 1 {
			t.Fatal("merge(nil) must be a no-op")
		}
	})

	t.Run("error wrapper", func(t *testing.T) {
		r := NewValidationReport()
		if err := NewValidationErrorFromReport(r); err != nil {
			t.Fatalf("clean report produced error %v", err)
		}
		r.AddError(CodeBaseDateMissing, "base_date is required", "/configuration/base_date")
		err := NewValidationErrorFromReport(r)
		if err == nil {
			t.Fatal("failed report produced nil error")
		}
		if !strings.Contains(err.Error(), CodeBaseDateMissing) {
			t.Fatalf("Error() = %q", err.Error())
		}
	})
}

func TestValidateRequest_Valid(t *testing.T) {
	v := testValidator()
	req := validRequest()
	cfg, report := v.ValidateRequest(req)
	if !report.OK {
		t.Fatalf("valid request rejected: %s", report.String())
	}
	if cfg == nil {
		t.Fatal("no configuration returned")
	}
	if req.Priority != types.PriorityNormal {
		t.Fatalf("Priority default = %q, want normal", req.Priority)
	}
	if cfg.Intensity != types.IntensityMedium {
		t.Fatalf("Intensity default = %q, want medium", cfg.Intensity)
	}
	if cfg.Tempo != types.TempoSustained {
		t.Fatalf("Tempo default = %q, want sustained", cfg.Tempo)
	}
	if cfg.Evacuation == nil {
		t.Fatal("default evacuation table not attached")
	}
	sum := 0.0
	for _, p := range cfg.InjuryMix {
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-12 {
		t.Fatalf("normalized injury mix sums to %.15f", sum)
	}
}

func TestValidateRequest_NilRequest(t *testing.T) {
	cfg, report := testValidator().ValidateRequest(nil)
	if cfg != nil {
		t.Fatal("nil request returned a configuration")
	}
	requireCode(t, report, CodeRequiredFieldMissing)
}

func TestValidateRequest_SourceConflict(t *testing.T) {
	v := testValidator()

	both := validRequest()
	both.ConfigurationID = "baseline"
	_, report := v.ValidateRequest(both)
	requireCode(t, report, CodeConfigSourceConflict)

	neither := &types.GenerationRequest{OutputFormats: []types.OutputFormat{types.FormatJSON}}
	cfg, report := v.ValidateRequest(neither)
	if cfg != nil {
		t.Fatal("sourceless request returned a configuration")
	}
	requireCode(t, report, CodeConfigSourceConflict)
}

func TestBuiltinDefaultTemplate(t *testing.T) {
	v := NewValidator(Options{
		EnabledFormats:    []types.OutputFormat{types.FormatJSON},
		KnownScenarios:    []string{"conventional", "artillery", "urban", "guerrilla", "drone", "airstrike"},
		DefaultEvacuation: testEvacConfig(),
		Templates:         BuiltinTemplates(),
	})
	req := &types.GenerationRequest{
		ConfigurationID: "default",
		OutputFormats:   []types.OutputFormat{types.FormatJSON},
	}
	cfg, report := v.ValidateRequest(req)
	if !report.OK {
		t.Fatalf("shipped template does not validate: %s", report.String())
	}
	if cfg.TotalPatients != 500 || cfg.DaysOfFighting != 3 {
		t.Fatalf("unexpected template sizing: %d patients over %d days", cfg.TotalPatients, cfg.DaysOfFighting)
	}
	if len(cfg.Fronts) != 2 {
		t.Fatalf("fronts = %d, want 2", len(cfg.Fronts))
	}
	if cfg.Evacuation == nil {
		t.Fatal("template should pick up the server default evacuation table")
	}
}

func TestValidateRequest_UnknownTemplate(t *testing.T) {
	req := &types.GenerationRequest{
		ConfigurationID: "no_such_template",
		OutputFormats:   []types.OutputFormat{types.FormatJSON},
	}
	cfg, report := testValidator().ValidateRequest(req)
	if cfg != nil {
		t.Fatal("unknown template returned a configuration")
	}
	requireCode(t, report, CodeUnknownConfiguration)
}

func TestValidateRequest_TemplateResolvedAndCloned(t *testing.T) {
	tpl := validConfig()
	v := NewValidator(Options{
		EnabledFormats:    []types.OutputFormat{types.FormatJSON},
		KnownScenarios:    []string{"conventional"},
		DefaultEvacuation: testEvacConfig(),
		Templates:         map[string]*types.Configuration{"baseline": tpl},
	})
	req := &types.GenerationRequest{
		ConfigurationID: "baseline",
		OutputFormats:   []types.OutputFormat{types.FormatJSON},
	}
	cfg, report := v.ValidateRequest(req)
	if !report.OK {
		t.Fatalf("template request rejected: %s", report.String())
	}
	if cfg.TotalPatients != tpl.TotalPatients {
		t.Fatalf("TotalPatients = %d, want %d", cfg.TotalPatients, tpl.TotalPatients)
	}

	// The returned configuration must be detached from the stored
	// template, including nested maps.
	cfg.InjuryMix[types.InjuryBattle] = 99
	cfg.Fronts[0].NationalityDistribution["USA"] = 99
	cfg.WarfareScenarios["conventional"] = false
	if tpl.InjuryMix[types.InjuryBattle] == 99 {
		t.Fatal("injury mix aliases the template")
	}
	if tpl.Fronts[0].NationalityDistribution["USA"] == 99 {
		t.Fatal("nationality distribution aliases the template")
	}
	if !tpl.WarfareScenarios["conventional"] {
		t.Fatal("warfare scenarios alias the template")
	}
}

func TestValidateRequest_Formats(t *testing.T) {
	v := testValidator()

	t.Run("empty", func(t *testing.T) {
		req := validRequest()
		req.OutputFormats = nil
		_, report := v.ValidateRequest(req)
		requireCode(t, report, CodeOutputFormatsEmpty)
	})

	t.Run("unknown", func(t *testing.T) {
		req := validRequest()
		req.OutputFormats = []types.OutputFormat{"yaml"}
		_, report := v.ValidateRequest(req)
		requireCode(t, report, CodeOutputFormatUnknown)
	})

	t.Run("known but not enabled", func(t *testing.T) {
		req := validRequest()
		req.OutputFormats = []types.OutputFormat{types.FormatXLSX}
		_, report := v.ValidateRequest(req)
		requireCode(t, report, CodeFormatNotEnabled)
		var issue ValidationIssue
		for _, is := range report.Errors {
			if is.Code == CodeFormatNotEnabled {
				issue = is
			}
		}
		if !strings.Contains(issue.Remediation, "csv, json") {
			t.Fatalf("remediation should list enabled formats, got %q", issue.Remediation)
		}
	})

	t.Run("mixed valid and invalid", func(t *testing.T) {
		req := validRequest()
		req.OutputFormats = []types.OutputFormat{types.FormatJSON, "yaml", types.FormatFHIR}
		_, report := v.ValidateRequest(req)
		requireCode(t, report, CodeOutputFormatUnknown)
		requireCode(t, report, CodeFormatNotEnabled)
	})
}

func TestValidateRequest_Encryption(t *testing.T) {
	v := testValidator()

	req := validRequest()
	req.UseEncryption = true
	req.EncryptionPassword = "short"
	_, report := v.ValidateRequest(req)
	requireCode(t, report, CodePasswordTooShort)

	req = validRequest()
	req.UseEncryption = true
	req.EncryptionPassword = "long enough secret"
	_, report = v.ValidateRequest(req)
	if hasCode(report.Errors, CodePasswordTooShort) {
		t.Fatal("adequate password rejected")
	}

	// Without use_encryption the password is not checked at all.
	req = validRequest()
	req.EncryptionPassword = "x"
	_, report = v.ValidateRequest(req)
	if hasCode(report.Errors, CodePasswordTooShort) {
		t.Fatal("password checked without use_encryption")
	}
}

func TestValidateRequest_Priority(t *testing.T) {
	v := testValidator()

	req := validRequest()
	req.Priority = "urgent"
	_, report := v.ValidateRequest(req)
	requireCode(t, report, CodePriorityInvalid)

	req = validRequest()
	req.Priority = types.PriorityHigh
	_, report = v.ValidateRequest(req)
	if !report.OK {
		t.Fatalf("high priority rejected: %s", report.String())
	}
	if req.Priority != types.PriorityHigh {
		t.Fatalf("explicit priority overwritten to %q", req.Priority)
	}
}

func TestValidateRequest_Counts(t *testing.T) {
	v := testValidator()

	cases := []struct {
		name   string
		mutate func(cfg *types.Configuration)
		code   string
	}{
		{"zero patients", func(cfg *types.Configuration) { cfg.TotalPatients = 0 }, CodePatientCountInvalid},
		{"negative patients", func(cfg *types.Configuration) { cfg.TotalPatients = -5 }, CodePatientCountInvalid},
		{"over cap", func(cfg *types.Configuration) { cfg.TotalPatients = 10001 }, CodePatientCountInvalid},
		{"zero days", func(cfg *types.Configuration) { cfg.DaysOfFighting = 0 }, CodeDaysOfFightingInvalid},
		{"missing base date", func(cfg *types.Configuration) { cfg.BaseDate = types.Date{} }, CodeBaseDateMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req.Configuration)
			_, report := v.ValidateRequest(req)
			requireCode(t, report, tc.code)
		})
	}

	t.Run("at cap passes", func(t *testing.T) {
		req := validRequest()
		req.Configuration.TotalPatients = 10000
		_, report := v.ValidateRequest(req)
		if hasCode(report.Errors, CodePatientCountInvalid) {
			t.Fatalf("count at cap rejected: %s", report.String())
		}
	})
}

func TestValidateRequest_DefaultPatientCap(t *testing.T) {
	v := NewValidator(Options{
		EnabledFormats:    []types.OutputFormat{types.FormatJSON},
		KnownScenarios:    []string{"conventional"},
		DefaultEvacuation: testEvacConfig(),
	})
	req := validRequest()
	req.Configuration.TotalPatients = 100000
	_, report := v.ValidateRequest(req)
	if hasCode(report.Errors, CodePatientCountInvalid) {
		t.Fatalf("default cap should admit 100000: %s", report.String())
	}
	req = validRequest()
	req.Configuration.TotalPatients = 100001
	_, report = v.ValidateRequest(req)
	requireCode(t, report, CodePatientCountInvalid)
}

func TestValidateRequest_InjuryMix(t *testing.T) {
	v := testValidator()

	cases := []struct {
		name   string
		mutate func(cfg *types.Configuration)
		code   string
	}{
		{"missing", func(cfg *types.Configuration) { cfg.InjuryMix = nil }, CodeRequiredFieldMissing},
		{"unknown category", func(cfg *types.Configuration) {
			cfg.InjuryMix["Psychological"] = 0.1
		}, CodeInjuryMixInvalid},
		{"negative weight", func(cfg *types.Configuration) {
			cfg.InjuryMix[types.InjuryBattle] = -0.2
		}, CodeInjuryMixInvalid},
		{"NaN weight", func(cfg *types.Configuration) {
			cfg.InjuryMix[types.InjuryBattle] = math.NaN()
		}, CodeInjuryMixInvalid},
		{"sum off", func(cfg *types.Configuration) {
			cfg.InjuryMix[types.InjuryBattle] = 0.1
		}, CodeInjuryMixSum},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req.Configuration)
			_, report := v.ValidateRequest(req)
			requireCode(t, report, tc.code)
		})
	}

	t.Run("within tolerance normalizes exactly", func(t *testing.T) {
		req := validRequest()
		req.Configuration.InjuryMix = map[types.InjuryCategory]float64{
			types.InjuryBattle:    0.6000000001,
			types.InjuryNonBattle: 0.25,
			types.InjuryDisease:   0.15,
		}
		cfg, report := v.ValidateRequest(req)
		if !report.OK {
			t.Fatalf("mix within tolerance rejected: %s", report.String())
		}
		sum := 0.0
		for _, p := range cfg.InjuryMix {
			sum += p
		}
		if math.Abs(sum-1.0) > 1e-12 {
			t.Fatalf("normalized sum = %.15f", sum)
		}
	})
}

func TestValidateRequest_Fronts(t *testing.T) {
	v := testValidator()

	cases := []struct {
		name   string
		mutate func(cfg *types.Configuration)
		code   string
	}{
		{"none", func(cfg *types.Configuration) { cfg.Fronts = nil }, CodeFrontsEmpty},
		{"negative rate", func(cfg *types.Configuration) {
			cfg.Fronts[0].CasualtyRate = -1
		}, CodeFrontWeightInvalid},
		{"all rates zero", func(cfg *types.Configuration) {
			cfg.Fronts[0].CasualtyRate = 0
		}, CodeFrontWeightInvalid},
		{"no nationalities", func(cfg *types.Configuration) {
			cfg.Fronts[0].NationalityDistribution = nil
		}, CodeNationalityEmpty},
		{"zero nationality weight", func(cfg *types.Configuration) {
			cfg.Fronts[0].NationalityDistribution["USA"] = 0
		}, CodeNationalityWeight},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req.Configuration)
			_, report := v.ValidateRequest(req)
			requireCode(t, report, tc.code)
		})
	}
}

func TestValidateRequest_FrontsSortedByID(t *testing.T) {
	req := validRequest()
	req.Configuration.Fronts = []types.FrontConfig{
		{ID: "south", CasualtyRate: 1, NationalityDistribution: map[string]float64{"USA": 1}},
		{ID: "east", CasualtyRate: 0.5, NationalityDistribution: map[string]float64{"GBR": 1}},
		{ID: "north", CasualtyRate: 0.25, NationalityDistribution: map[string]float64{"FRA": 1}},
	}
	cfg, report := testValidator().ValidateRequest(req)
	if !report.OK {
		t.Fatalf("request rejected: %s", report.String())
	}
	want := []string{"east", "north", "south"}
	for i, front := range cfg.Fronts {
		if front.ID != want[i] {
			t.Fatalf("fronts[%d] = %q, want %q", i, front.ID, want[i])
		}
	}
}

func TestValidateRequest_TempoIntensity(t *testing.T) {
	v := testValidator()

	req := validRequest()
	req.Configuration.Intensity = "apocalyptic"
	_, report := v.ValidateRequest(req)
	requireCode(t, report, CodeIntensityInvalid)

	req = validRequest()
	req.Configuration.Tempo = "chaotic"
	_, report = v.ValidateRequest(req)
	requireCode(t, report, CodeTempoInvalid)

	req = validRequest()
	req.Configuration.Intensity = types.IntensityExtreme
	req.Configuration.Tempo = types.TempoSurge
	cfg, report := v.ValidateRequest(req)
	if !report.OK {
		t.Fatalf("explicit tempo/intensity rejected: %s", report.String())
	}
	if cfg.Intensity != types.IntensityExtreme || cfg.Tempo != types.TempoSurge {
		t.Fatalf("explicit values overwritten: %s/%s", cfg.Intensity, cfg.Tempo)
	}
}

func TestValidateRequest_Scenarios(t *testing.T) {
	req := validRequest()
	req.Configuration.WarfareScenarios["trench"] = true
	_, report := testValidator().ValidateRequest(req)
	requireCode(t, report, CodeUnknownScenario)

	// Disabled entries are still checked; the key itself must be known.
	req = validRequest()
	req.Configuration.WarfareScenarios["naval"] = false
	_, report = testValidator().ValidateRequest(req)
	requireCode(t, report, CodeUnknownScenario)
}

func TestValidateRequest_UnknownConditionWarnsOnly(t *testing.T) {
	req := validRequest()
	req.Configuration.Environmental = []string{types.CondNightOperations, "sandstorm"}
	cfg, report := testValidator().ValidateRequest(req)
	if !report.OK {
		t.Fatalf("unknown condition must not fail validation: %s", report.String())
	}
	if cfg == nil {
		t.Fatal("configuration withheld despite passing")
	}
	if !report.HasWarnings() || !hasCode(report.Warnings, CodeUnknownCondition) {
		t.Fatalf("expected UNKNOWN_CONDITION warning, got %+v", report.Warnings)
	}
}

func TestValidateRequest_SpecialEvents(t *testing.T) {
	v := testValidator()
	day := func(d int) *int { return &d }

	cases := []struct {
		name  string
		event types.SpecialEventConfig
		code  string
	}{
		{"unknown type", types.SpecialEventConfig{Type: "alien_invasion", MinPatients: 1, MaxPatients: 2}, CodeUnknownSpecialEvent},
		{"min below one", types.SpecialEventConfig{Type: types.SpecialAmbush, MinPatients: 0, MaxPatients: 2}, CodeSpecialEventRange},
		{"max below min", types.SpecialEventConfig{Type: types.SpecialAmbush, MinPatients: 5, MaxPatients: 2}, CodeSpecialEventRange},
		{"day offset past horizon", types.SpecialEventConfig{Type: types.SpecialAmbush, MinPatients: 1, MaxPatients: 2, DayOffset: day(3)}, CodeSpecialEventRange},
		{"negative day offset", types.SpecialEventConfig{Type: types.SpecialAmbush, MinPatients: 1, MaxPatients: 2, DayOffset: day(-1)}, CodeSpecialEventRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			req.Configuration.SpecialEvents = []types.SpecialEventConfig{tc.event}
			_, report := v.ValidateRequest(req)
			requireCode(t, report, tc.code)
		})
	}

	t.Run("valid pinned event", func(t *testing.T) {
		req := validRequest()
		req.Configuration.SpecialEvents = []types.SpecialEventConfig{
			{Type: types.SpecialMassCasualty, MinPatients: 10, MaxPatients: 20, DayOffset: day(2)},
		}
		_, report := v.ValidateRequest(req)
		if !report.OK {
			t.Fatalf("valid special event rejected: %s", report.String())
		}
	})
}

func TestValidateRequest_Evacuation(t *testing.T) {
	t.Run("no table anywhere", func(t *testing.T) {
		v := NewValidator(Options{
			EnabledFormats: []types.OutputFormat{types.FormatJSON},
			KnownScenarios: []string{"conventional"},
		})
		_, report := v.ValidateRequest(validRequest())
		requireCode(t, report, CodeRequiredFieldMissing)
	})

	cases := []struct {
		name   string
		mutate func(ec *types.EvacuationConfig)
		code   string
	}{
		{"facility missing", func(ec *types.EvacuationConfig) {
			delete(ec.EvacuationTimes, types.FacilityRole3)
		}, CodeEvacCoverageIncomplete},
		{"triage cell missing", func(ec *types.EvacuationConfig) {
			delete(ec.EvacuationTimes[types.FacilityPOI], types.TriageT2)
		}, CodeEvacCoverageIncomplete},
		{"inverted window", func(ec *types.EvacuationConfig) {
			ec.EvacuationTimes[types.FacilityRole1][types.TriageT1] = types.TimeRange{MinHours: 3, MaxHours: 1}
		}, CodeEvacRangeInvalid},
		{"negative hours", func(ec *types.EvacuationConfig) {
			ec.EvacuationTimes[types.FacilityRole1][types.TriageT1] = types.TimeRange{MinHours: -1, MaxHours: 1}
		}, CodeEvacRangeInvalid},
		{"route missing", func(ec *types.EvacuationConfig) {
			delete(ec.TransitTimes, types.RouteKey(types.FacilityRole2, types.FacilityRole3))
		}, CodeTransitRouteMissing},
		{"route triage missing", func(ec *types.EvacuationConfig) {
			delete(ec.TransitTimes[types.RouteKey(types.FacilityPOI, types.FacilityRole1)], types.TriageT3)
		}, CodeEvacCoverageIncomplete},
		{"zero KIA modifier", func(ec *types.EvacuationConfig) {
			ec.KIAModifiers[types.TriageT1] = 0
		}, CodeRateModifierInvalid},
		{"missing RTD modifier", func(ec *types.EvacuationConfig) {
			delete(ec.RTDModifiers, types.TriageT3)
		}, CodeRateModifierInvalid},
		{"infinite RTD modifier", func(ec *types.EvacuationConfig) {
			ec.RTDModifiers[types.TriageT2] = math.Inf(1)
		}, CodeRateModifierInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ec := testEvacConfig()
			tc.mutate(ec)
			req := validRequest()
			req.Configuration.Evacuation = ec
			_, report := testValidator().ValidateRequest(req)
			requireCode(t, report, tc.code)
		})
	}

	t.Run("inline table wins over default", func(t *testing.T) {
		ec := testEvacConfig()
		ec.EvacuationTimes[types.FacilityPOI][types.TriageT1] = types.TimeRange{MinHours: 0.1, MaxHours: 0.2}
		req := validRequest()
		req.Configuration.Evacuation = ec
		cfg, report := testValidator().ValidateRequest(req)
		if !report.OK {
			t.Fatalf("inline table rejected: %s", report.String())
		}
		got := cfg.Evacuation.EvacuationTimes[types.FacilityPOI][types.TriageT1]
		if got.MinHours != 0.1 || got.MaxHours != 0.2 {
			t.Fatalf("inline table replaced by default: %+v", got)
		}
	})
}

func TestValidateRequest_CollectsAllIssues(t *testing.T) {
	req := validRequest()
	req.OutputFormats = []types.OutputFormat{"yaml"}
	req.Priority = "urgent"
	req.Configuration.TotalPatients = 0
	req.Configuration.DaysOfFighting = 0
	req.Configuration.Fronts = nil
	cfg, report := testValidator().ValidateRequest(req)
	if cfg != nil {
		t.Fatal("failed request returned a configuration")
	}
	for _, code := range []string{
		CodeOutputFormatUnknown,
		CodePriorityInvalid,
		CodePatientCountInvalid,
		CodeDaysOfFightingInvalid,
		CodeFrontsEmpty,
	} {
		if !hasCode(report.Errors, code) {
			t.Errorf("missing %s in %s", code, report.String())
		}
	}
}
