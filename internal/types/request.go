package types

// OutputFormat names an artifact format a job may produce.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatCSV  OutputFormat = "csv"
	FormatXLSX OutputFormat = "xlsx"
	FormatXML  OutputFormat = "xml"
	FormatFHIR OutputFormat = "fhir"
)

// ValidOutputFormat reports whether f is a member of the accepted
// format set. Membership does not imply a converter is installed.
func ValidOutputFormat(f OutputFormat) bool {
	switch f {
	case FormatJSON, FormatCSV, FormatXLSX, FormatXML, FormatFHIR:
		return true
	}
	return false
}

// Priority orders jobs in the worker queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ValidPriority reports whether p is a known priority class.
func ValidPriority(p Priority) bool {
	return p == PriorityLow || p == PriorityNormal || p == PriorityHigh
}

// Rank maps the priority to its queue ordering weight; higher drains
// first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// GenerationRequest is the submission body for a generation job.
// Exactly one of ConfigurationID or Configuration must be set.
type GenerationRequest struct {
	ConfigurationID    string         `json:"configuration_id,omitempty"`
	Configuration      *Configuration `json:"configuration,omitempty"`
	OutputFormats      []OutputFormat `json:"output_formats"`
	UseEncryption      bool           `json:"use_encryption,omitempty"`
	EncryptionPassword string         `json:"encryption_password,omitempty"`
	Priority           Priority       `json:"priority,omitempty"`
}
