package findings

import (
	"crypto/sha256"
	"fmt"
	"strings"

	scanerrors "github.com/scantrail/scantrail/pkg/shared/errors"
)

// Keys the normalizer injects into a finding's properties bag, namespaced so
// tool-supplied keys survive untouched.
const (
	PropertyFingerprintBasis = ReservedPropertyPrefix + "fingerprint_basis"
)

// Fingerprint basis values recorded under PropertyFingerprintBasis.
const (
	BasisCaller   = "caller"
	BasisChunk    = "chunk"
	BasisPosition = "position"
)

// Normalize validates and completes a single finding input. The ordinal is
// the finding's position within its batch and guarantees FindingID uniqueness
// within the run. Malformed input is rejected with a ValidationError naming
// the offending field.
func Normalize(in FindingInput, analysisID string, ordinal int) (*NormalizedFinding, error) {
	if strings.TrimSpace(in.RuleID) == "" {
		return nil, scanerrors.NewValidationError("ruleId")
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, scanerrors.NewValidationError("message")
	}
	if strings.TrimSpace(in.FilePath) == "" {
		return nil, scanerrors.NewValidationError("filePath")
	}

	severity, err := ParseSeverity(in.Severity)
	if err != nil {
		return nil, scanerrors.NewValidationErrorf("severity", "has unrecognized value %q", in.Severity)
	}

	if in.StartLine != nil && in.EndLine != nil && *in.StartLine > *in.EndLine {
		return nil, scanerrors.NewValidationErrorf("startLine", "is %d but endLine is %d", *in.StartLine, *in.EndLine)
	}
	if in.StartColumn != nil && in.EndColumn != nil && *in.StartColumn > *in.EndColumn {
		return nil, scanerrors.NewValidationErrorf("startColumn", "is %d but endColumn is %d", *in.StartColumn, *in.EndColumn)
	}

	fingerprint, basis := deriveFingerprint(in)

	props := in.Properties.Clone()
	if _, exists := props[PropertyFingerprintBasis]; !exists {
		props[PropertyFingerprintBasis] = basis
	}

	return &NormalizedFinding{
		FindingID:   findingID(analysisID, ordinal, fingerprint),
		AnalysisID:  analysisID,
		Fingerprint: fingerprint,
		RuleID:      in.RuleID,
		Severity:    severity,
		Message:     in.Message,
		FilePath:    in.FilePath,
		StartLine:   in.StartLine,
		StartColumn: in.StartColumn,
		EndLine:     in.EndLine,
		EndColumn:   in.EndColumn,
		ChunkID:     in.ChunkID,
		Properties:  props,
	}, nil
}

// NormalizeBatch normalizes a sequence of finding inputs in order. Validation
// failures are collected per finding and returned alongside the successfully
// normalized findings, so one malformed finding never discards the batch.
func NormalizeBatch(inputs []FindingInput, analysisID string) ([]*NormalizedFinding, []error) {
	normalized := make([]*NormalizedFinding, 0, len(inputs))
	var failures []error

	for i, in := range inputs {
		nf, err := Normalize(in, analysisID, i)
		if err != nil {
			failures = append(failures, fmt.Errorf("finding %d: %w", i, err))
			continue
		}
		normalized = append(normalized, nf)
	}
	return normalized, failures
}

// deriveFingerprint applies the ordered identity policy: trust a caller
// fingerprint, otherwise anchor to the chunk (survives line drift), otherwise
// fall back to the start position. The same policy is applied to every tool
// so equivalent findings at different precision levels neither collide nor
// diverge.
func deriveFingerprint(in FindingInput) (string, string) {
	if in.Fingerprint != "" {
		return in.Fingerprint, BasisCaller
	}
	if in.ChunkID != "" {
		return hashFields("chunk", in.RuleID, in.FilePath, in.ChunkID), BasisChunk
	}
	return hashFields("position",
		in.RuleID,
		in.FilePath,
		fmt.Sprintf("%d", intOrZero(in.StartLine)),
		fmt.Sprintf("%d", intOrZero(in.StartColumn)),
	), BasisPosition
}

// findingID derives a deterministic per-run identifier from the analysis
// stream, the batch ordinal and the fingerprint material. The ordinal keeps
// it unique even when two findings share a fingerprint.
func findingID(analysisID string, ordinal int, fingerprint string) string {
	return hashFields("finding", analysisID, fmt.Sprintf("%d", ordinal), fingerprint)[:24]
}

func hashFields(fields ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return fmt.Sprintf("%x", sum[:])
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
