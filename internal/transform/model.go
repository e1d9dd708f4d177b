package transform

import (
	"fmt"

	"github.com/ehrsync/ehrsync/internal/canonical"
)

// Direction of a transform relative to the local store.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Format names a wire representation handled by the service.
type Format string

const (
	FormatFHIRR4     Format = "FHIR_R4"
	FormatHL7v2      Format = "HL7_V2"
	FormatVendorJSON Format = "VENDOR_JSON"
	FormatCanonical  Format = "CANONICAL"
)

// Options tune a single transform invocation.
type Options struct {
	// StrictMode fails the transform when a required field cannot be
	// mapped. Outbound transforms run strict so vendor writes never carry
	// half-built payloads; inbound defaults to lenient.
	StrictMode bool
	// PreserveUnmapped keeps source fields with no canonical equivalent in
	// Result.Unmapped instead of discarding them.
	PreserveUnmapped bool
	// ValidateOutput re-checks required fields on the produced payload.
	ValidateOutput bool
}

// Context describes one transform invocation. Ephemeral, never persisted.
type Context struct {
	Provider     canonical.Provider
	ResourceType canonical.ResourceType
	Direction    Direction
	SourceFormat Format
	TargetFormat Format
	Options      Options
}

// Issue is one structured error or warning tied to a field.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// Result is the outcome of a transform. Data is the produced payload when
// Success is true. Shape problems are reported here, never as panics.
type Result struct {
	Success  bool                   `json:"success"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Unmapped map[string]interface{} `json:"unmapped,omitempty"`
	Errors   []Issue                `json:"errors,omitempty"`
	Warnings []Issue                `json:"warnings,omitempty"`
}

func (r *Result) addError(field, format string, args ...interface{}) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) addWarning(field, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ErrorStrings flattens Errors for the sync-result contract.
func (r *Result) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.String())
	}
	return out
}

// WarningStrings flattens Warnings for the sync-result contract.
func (r *Result) WarningStrings() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.String())
	}
	return out
}
