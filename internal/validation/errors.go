// Package validation checks and normalizes casualty generation requests.
package validation

import (
	"fmt"
	"strings"
)

// ValidationLevel indicates the severity of a validation issue.
type ValidationLevel string

const (
	LevelError   ValidationLevel = "error"
	LevelWarning ValidationLevel = "warning"
)

// ValidationIssue represents a single validation problem.
type ValidationIssue struct {
	Level       ValidationLevel `json:"level"`
	Code        string          `json:"code"`
	Message     string          `json:"message"`
	JSONPointer string          `json:"json_pointer,omitempty"`
	Remediation string          `json:"remediation,omitempty"`
}

// ValidationReport contains the results of validating a generation
// request.
type ValidationReport struct {
	OK       bool              `json:"ok"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// NewValidationReport creates a new empty validation report.
func NewValidationReport() *ValidationReport {
	return &ValidationReport{
		OK:       true,
		Errors:   []ValidationIssue{},
		Warnings: []ValidationIssue{},
	}
}

// AddError adds an error-level issue to the report.
func (r *ValidationReport) AddError(code, message, jsonPointer string) {
	r.OK = false
	r.Errors = append(r.Errors, ValidationIssue{
		Level:       LevelError,
		Code:        code,
		Message:     message,
		JSONPointer: jsonPointer,
	})
}

// AddErrorWithRemediation adds an error-level issue with remediation guidance.
func (r *ValidationReport) AddErrorWithRemediation(code, message, jsonPointer, remediation string) {
	r.OK = false
	r.Errors = append(r.Errors, ValidationIssue{
		Level:       LevelError,
		Code:        code,
		Message:     message,
		JSONPointer: jsonPointer,
		Remediation: remediation,
	})
}

// AddWarning adds a warning-level issue to the report.
func (r *ValidationReport) AddWarning(code, message, jsonPointer string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Level:       LevelWarning,
		Code:        code,
		Message:     message,
		JSONPointer: jsonPointer,
	})
}

// Merge combines another report into this one.
func (r *ValidationReport) Merge(other *ValidationReport) {
	if other == nil {
		return
	}
	if !other.OK {
		r.OK = false
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// HasErrors returns true if there are any error-level issues.
func (r *ValidationReport) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any warning-level issues.
func (r *ValidationReport) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// String returns a human-readable summary of the report.
func (r *ValidationReport) String() string {
	if r.OK && !r.HasWarnings() {
		return "Validation passed"
	}

	var sb strings.Builder
	if !r.OK {
		sb.WriteString(fmt.Sprintf("Validation failed with %d error(s)", len(r.Errors)))
		if r.HasWarnings() {
			sb.WriteString(fmt.Sprintf(" and %d warning(s)", len(r.Warnings)))
		}
		sb.WriteString(":\n")
	} else {
		sb.WriteString(fmt.Sprintf("Validation passed with %d warning(s):\n", len(r.Warnings)))
	}

	for _, e := range r.Errors {
		sb.WriteString(fmt.Sprintf("  [ERROR] %s: %s", e.Code, e.Message))
		if e.JSONPointer != "" {
			sb.WriteString(fmt.Sprintf(" (at %s)", e.JSONPointer))
		}
		sb.WriteString("\n")
	}

	for _, w := range r.Warnings {
		sb.WriteString(fmt.Sprintf("  [WARN] %s: %s", w.Code, w.Message))
		if w.JSONPointer != "" {
			sb.WriteString(fmt.Sprintf(" (at %s)", w.JSONPointer))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// Validation Issue Codes - Request shape
const (
	CodeRequiredFieldMissing  = "REQUIRED_FIELD_MISSING"
	CodeConfigSourceConflict  = "CONFIG_SOURCE_CONFLICT"
	CodeUnknownConfiguration  = "UNKNOWN_CONFIGURATION"
	CodeOutputFormatsEmpty    = "OUTPUT_FORMATS_EMPTY"
	CodeOutputFormatUnknown   = "OUTPUT_FORMAT_UNKNOWN"
	CodeFormatNotEnabled      = "FORMAT_NOT_ENABLED"
	CodePasswordTooShort      = "ENCRYPTION_PASSWORD_TOO_SHORT"
	CodePriorityInvalid       = "PRIORITY_INVALID"
)

// Validation Issue Codes - Configuration semantics
const (
	CodePatientCountInvalid   = "PATIENT_COUNT_INVALID"
	CodeDaysOfFightingInvalid = "DAYS_OF_FIGHTING_INVALID"
	CodeBaseDateMissing       = "BASE_DATE_MISSING"
	CodeInjuryMixInvalid      = "INJURY_MIX_INVALID"
	CodeInjuryMixSum          = "INJURY_MIX_SUM_OUT_OF_TOLERANCE"
	CodeFrontsEmpty           = "FRONTS_EMPTY"
	CodeFrontWeightInvalid    = "FRONT_WEIGHT_INVALID"
	CodeNationalityEmpty      = "NATIONALITY_DISTRIBUTION_EMPTY"
	CodeNationalityWeight     = "NATIONALITY_WEIGHT_INVALID"
	CodeIntensityInvalid      = "INTENSITY_INVALID"
	CodeTempoInvalid          = "TEMPO_INVALID"
	CodeUnknownScenario       = "UNKNOWN_SCENARIO"
	CodeUnknownCondition      = "UNKNOWN_CONDITION"
	CodeUnknownSpecialEvent   = "UNKNOWN_SPECIAL_EVENT"
	CodeSpecialEventRange     = "SPECIAL_EVENT_RANGE_INVALID"
)

// Validation Issue Codes - Evacuation configuration
const (
	CodeEvacCoverageIncomplete = "EVACUATION_COVERAGE_INCOMPLETE"
	CodeEvacRangeInvalid       = "EVACUATION_RANGE_INVALID"
	CodeTransitRouteMissing    = "TRANSIT_ROUTE_MISSING"
	CodeRateModifierInvalid    = "RATE_MODIFIER_INVALID"
)

// ValidationError is an error type that wraps a validation report.
type ValidationError struct {
	Report *ValidationReport
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Report.String()
}

// NewValidationErrorFromReport creates a ValidationError from a report.
func NewValidationErrorFromReport(report *ValidationReport) error {
	if report.OK {
		return nil
	}
	return &ValidationError{Report: report}
}
