package findings

import (
	"fmt"
	"strings"
)

// Severity is the closed severity scale every finding is normalized to.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityNote    Severity = "note"
)

// severityRanks orders severities by dominance: one error outweighs any
// number of warnings.
var severityRanks = map[Severity]int{
	SeverityError:   0,
	SeverityWarning: 1,
	SeverityInfo:    2,
	SeverityNote:    3,
}

// ParseSeverity maps a raw severity string onto the closed enum. Unknown
// values are rejected, never coerced.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := severityRanks[s]; !ok {
		return "", fmt.Errorf("unrecognized severity %q", raw)
	}
	return s, nil
}

// Rank returns the dominance rank of the severity, strongest first.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return len(severityRanks)
}

// ReservedPropertyPrefix namespaces keys the normalizer may inject into a
// properties bag so tool-supplied keys are never clobbered.
const ReservedPropertyPrefix = "scantrail."

// Properties is an open bag of tool-specific values keyed by string.
type Properties map[string]interface{}

// Clone returns a shallow copy of the bag, never nil.
func (p Properties) Clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ToolIdentity identifies the producer of a run. Immutable once a run is
// recorded.
type ToolIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// FindingInput is a raw, pre-normalization finding candidate as emitted by a
// tool output adapter. RuleID, Message and FilePath are required; position
// fields are pointers so "absent" is distinguishable from zero.
type FindingInput struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	FilePath string `json:"file_path"`

	StartLine   *int `json:"start_line,omitempty"`
	StartColumn *int `json:"start_column,omitempty"`
	EndLine     *int `json:"end_line,omitempty"`
	EndColumn   *int `json:"end_column,omitempty"`

	// ChunkID is a stable handle to a logical code unit (function, block)
	// independent of line numbers, e.g. a SARIF fully qualified logical name.
	ChunkID string `json:"chunk_id,omitempty"`

	// Fingerprint is a caller-supplied identity; tools that compute stable
	// fingerprints are trusted and the value passes through unchanged.
	Fingerprint string `json:"fingerprint,omitempty"`

	Properties Properties `json:"properties,omitempty"`
}

// NormalizedFinding is the canonical stored form of a finding. FindingID is
// unique within the owning analysis run; Fingerprint is always present.
type NormalizedFinding struct {
	FindingID   string   `json:"finding_id"`
	AnalysisID  string   `json:"analysis_id"`
	Fingerprint string   `json:"fingerprint"`
	RuleID      string   `json:"rule_id"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	FilePath    string   `json:"file_path"`

	StartLine   *int `json:"start_line,omitempty"`
	StartColumn *int `json:"start_column,omitempty"`
	EndLine     *int `json:"end_line,omitempty"`
	EndColumn   *int `json:"end_column,omitempty"`

	ChunkID string `json:"chunk_id,omitempty"`

	Properties Properties `json:"properties,omitempty"`
}
