// Package sarif adapts raw SARIF reports into the finding inputs the
// normalization core consumes. The core never reads the raw report itself.
package sarif

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/scantrail/scantrail/pkg/findings"
)

// ToolOutput is the adapter's contract with the core: an ordered sequence of
// unvalidated finding inputs plus the tool identity when the report names it.
type ToolOutput struct {
	Findings    []findings.FindingInput
	ToolName    string
	ToolVersion string
}

// Reader converts SARIF files into tool output.
type Reader struct {
	logger hclog.Logger

	// DropSuppressed removes results carrying SARIF suppressions before
	// conversion.
	DropSuppressed bool
}

// NewReader creates a SARIF reader.
func NewReader(logger hclog.Logger) *Reader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Reader{logger: logger, DropSuppressed: true}
}

// ReadFile loads a SARIF report from disk and converts it.
func (r *Reader) ReadFile(inputPath string) (*ToolOutput, error) {
	jsonFile, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("open sarif report: %w", err)
	}
	defer jsonFile.Close()

	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, fmt.Errorf("read sarif report: %w", err)
	}

	var report sarif.Report
	if err := json.Unmarshal(byteValue, &report); err != nil {
		return nil, fmt.Errorf("parse sarif report: %w", err)
	}

	return r.Convert(&report)
}

// Convert walks an in-memory SARIF report and emits a finding input per
// result. Severity values are carried through verbatim where they fall
// outside the SARIF level vocabulary; the normalizer owns rejection.
func (r *Reader) Convert(report *sarif.Report) (*ToolOutput, error) {
	if report == nil || len(report.Runs) == 0 {
		return nil, fmt.Errorf("sarif report has no runs")
	}

	out := &ToolOutput{}
	if driver := report.Runs[0].Tool.Driver; driver != nil {
		out.ToolName = driver.Name
		if driver.SemanticVersion != nil {
			out.ToolVersion = *driver.SemanticVersion
		} else if driver.Version != nil {
			out.ToolVersion = *driver.Version
		}
	}

	for _, run := range report.Runs {
		rulesByID := map[string]*sarif.ReportingDescriptor{}
		if run.Tool.Driver != nil {
			for _, rule := range run.Tool.Driver.Rules {
				if rule == nil || strings.TrimSpace(rule.ID) == "" {
					continue
				}
				rulesByID[rule.ID] = rule
			}
		}

		for _, res := range run.Results {
			if res == nil {
				continue
			}
			if r.DropSuppressed && len(res.Suppressions) > 0 {
				continue
			}

			input := findings.FindingInput{
				Severity:   mapLevel(resolveLevel(res, rulesByID)),
				Properties: findings.Properties{},
			}
			if res.RuleID != nil {
				input.RuleID = *res.RuleID
			}
			if res.Message.Text != nil {
				input.Message = *res.Message.Text
			}

			fillLocation(&input, res)
			input.Fingerprint = callerFingerprint(res)

			for k, v := range res.Properties {
				input.Properties[k] = v
			}

			out.Findings = append(out.Findings, input)
		}
	}

	return out, nil
}

// resolveLevel mirrors the level fallback chain tools actually use: the
// result's own level (snyk), the rule's "problem.severity" property (codeql),
// then the rule's default configuration.
func resolveLevel(res *sarif.Result, rulesByID map[string]*sarif.ReportingDescriptor) string {
	if res.Level != nil && *res.Level != "" {
		return *res.Level
	}
	if res.RuleID != nil {
		if rule, ok := rulesByID[*res.RuleID]; ok {
			if sev, ok := rule.Properties["problem.severity"].(string); ok && sev != "" {
				return sev
			}
			if rule.DefaultConfiguration != nil && rule.DefaultConfiguration.Level != "" {
				return rule.DefaultConfiguration.Level
			}
		}
	}
	return ""
}

// mapLevel translates SARIF's level vocabulary onto the normalized severity
// scale. Values outside the vocabulary pass through unchanged so the
// normalizer can reject them instead of silently coercing.
func mapLevel(level string) string {
	switch strings.ToLower(level) {
	case "error":
		return string(findings.SeverityError)
	case "warning":
		return string(findings.SeverityWarning)
	case "note":
		return string(findings.SeverityNote)
	case "none", "info":
		return string(findings.SeverityInfo)
	default:
		return level
	}
}

// fillLocation copies the first location's physical region and, when present,
// its fully qualified logical name as the chunk identifier.
func fillLocation(input *findings.FindingInput, res *sarif.Result) {
	if len(res.Locations) == 0 || res.Locations[0] == nil {
		return
	}
	loc := res.Locations[0]

	if phys := loc.PhysicalLocation; phys != nil {
		if phys.ArtifactLocation != nil && phys.ArtifactLocation.URI != nil {
			input.FilePath = *phys.ArtifactLocation.URI
		}
		if region := phys.Region; region != nil {
			input.StartLine = region.StartLine
			input.StartColumn = region.StartColumn
			input.EndLine = region.EndLine
			input.EndColumn = region.EndColumn
		}
	}

	for _, logical := range loc.LogicalLocations {
		if logical == nil {
			continue
		}
		if logical.FullyQualifiedName != nil && *logical.FullyQualifiedName != "" {
			input.ChunkID = *logical.FullyQualifiedName
			break
		}
		if logical.Name != nil && *logical.Name != "" {
			input.ChunkID = *logical.Name
			break
		}
	}
}

// callerFingerprint extracts a tool-computed identity when the result carries
// one. Full fingerprints win over partial ones; keys are joined in sorted
// order so the extraction is deterministic.
func callerFingerprint(res *sarif.Result) string {
	if fp := joinFingerprints(res.Fingerprints); fp != "" {
		return fp
	}
	if v, ok := res.PartialFingerprints["primaryLocationLineHash"].(string); ok && v != "" {
		return v
	}
	return ""
}

func joinFingerprints(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		if _, ok := m[k].(string); ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, m[k].(string)))
	}
	return strings.Join(parts, ";")
}
