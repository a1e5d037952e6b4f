package findings

import (
	"errors"
	"testing"

	scanerrors "github.com/scantrail/scantrail/pkg/shared/errors"
)

func intp(v int) *int { return &v }

func validInput() FindingInput {
	return FindingInput{
		RuleID:   "G101",
		Severity: "warning",
		Message:  "hardcoded credentials",
		FilePath: "internal/auth/token.go",
		StartLine: intp(42),
	}
}

func TestNormalizeRejectsMissingFilePath(t *testing.T) {
	in := validInput()
	in.FilePath = ""

	_, err := Normalize(in, "analysis-1", 0)
	if err == nil {
		t.Fatalf("expected validation error for missing filePath")
	}

	var verr *scanerrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Field != "filePath" {
		t.Fatalf("expected field filePath, got %q", verr.Field)
	}
}

func TestNormalizeRejectsMissingRuleIDAndMessage(t *testing.T) {
	for _, tc := range []struct {
		field string
		mut   func(*FindingInput)
	}{
		{"ruleId", func(in *FindingInput) { in.RuleID = "" }},
		{"message", func(in *FindingInput) { in.Message = "" }},
	} {
		in := validInput()
		tc.mut(&in)

		_, err := Normalize(in, "analysis-1", 0)
		var verr *scanerrors.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected *ValidationError, got %v", tc.field, err)
		}
		if verr.Field != tc.field {
			t.Fatalf("expected field %q, got %q", tc.field, verr.Field)
		}
	}
}

func TestNormalizeRejectsUnknownSeverity(t *testing.T) {
	in := validInput()
	in.Severity = "critical"

	_, err := Normalize(in, "analysis-1", 0)
	var verr *scanerrors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.Field != "severity" {
		t.Fatalf("expected field severity, got %q", verr.Field)
	}
}

func TestNormalizeRejectsInvertedRange(t *testing.T) {
	in := validInput()
	in.StartLine = intp(10)
	in.EndLine = intp(5)

	if _, err := Normalize(in, "analysis-1", 0); err == nil {
		t.Fatalf("expected validation error for startLine > endLine")
	}

	in = validInput()
	in.StartColumn = intp(9)
	in.EndColumn = intp(3)

	if _, err := Normalize(in, "analysis-1", 0); err == nil {
		t.Fatalf("expected validation error for startColumn > endColumn")
	}
}

func TestNormalizeTrustsCallerFingerprint(t *testing.T) {
	in := validInput()
	in.Fingerprint = "tool-supplied-fp"

	nf, err := Normalize(in, "analysis-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nf.Fingerprint != "tool-supplied-fp" {
		t.Fatalf("expected caller fingerprint to pass through, got %q", nf.Fingerprint)
	}
	if nf.Properties[PropertyFingerprintBasis] != BasisCaller {
		t.Fatalf("expected basis %q, got %v", BasisCaller, nf.Properties[PropertyFingerprintBasis])
	}
}

func TestChunkFingerprintSurvivesLineDrift(t *testing.T) {
	in := validInput()
	in.ChunkID = "pkg.Handler.ServeHTTP"
	in.StartLine = intp(42)
	in.StartColumn = intp(3)

	before, err := Normalize(in, "analysis-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate an unrelated edit elsewhere in the file.
	in.StartLine = intp(80)
	in.StartColumn = intp(7)

	after, err := Normalize(in, "analysis-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if before.Fingerprint != after.Fingerprint {
		t.Fatalf("chunk-anchored fingerprint changed under line drift: %q vs %q", before.Fingerprint, after.Fingerprint)
	}
	if before.Properties[PropertyFingerprintBasis] != BasisChunk {
		t.Fatalf("expected basis %q, got %v", BasisChunk, before.Properties[PropertyFingerprintBasis])
	}
}

func TestFingerprintIndependentOfMessage(t *testing.T) {
	in := validInput()
	a, err := Normalize(in, "analysis-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in.Message = "hardcoded credentials detected (reworded)"
	b, err := Normalize(in, "analysis-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Fingerprint != b.Fingerprint {
		t.Fatalf("message rewording changed fingerprint")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base, err := Normalize(validInput(), "analysis-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in := validInput()
	in.RuleID = "G102"
	otherRule, err := Normalize(in, "analysis-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otherRule.Fingerprint == base.Fingerprint {
		t.Fatalf("changing ruleId did not change fingerprint")
	}

	in = validInput()
	in.FilePath = "internal/auth/session.go"
	otherFile, err := Normalize(in, "analysis-1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if otherFile.Fingerprint == base.Fingerprint {
		t.Fatalf("changing filePath did not change fingerprint")
	}
}

func TestPositionFingerprintIsFallback(t *testing.T) {
	in := validInput()
	nf, err := Normalize(in, "analysis-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nf.Properties[PropertyFingerprintBasis] != BasisPosition {
		t.Fatalf("expected basis %q, got %v", BasisPosition, nf.Properties[PropertyFingerprintBasis])
	}

	in.StartLine = intp(43)
	moved, err := Normalize(in, "analysis-1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved.Fingerprint == nf.Fingerprint {
		t.Fatalf("position-based fingerprint should change when the line moves")
	}
}

func TestNormalizeDoesNotClobberToolProperties(t *testing.T) {
	in := validInput()
	in.Properties = Properties{
		"tool.confidence":        "high",
		PropertyFingerprintBasis: "tool-claimed",
	}

	nf, err := Normalize(in, "analysis-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nf.Properties["tool.confidence"] != "high" {
		t.Fatalf("tool property lost during normalization")
	}
	if nf.Properties[PropertyFingerprintBasis] != "tool-claimed" {
		t.Fatalf("tool-supplied reserved key was clobbered")
	}
	if in.Properties[PropertyFingerprintBasis] != "tool-claimed" {
		t.Fatalf("caller's map was mutated")
	}
}

func TestNormalizeBatchCollectsFailures(t *testing.T) {
	bad := validInput()
	bad.FilePath = ""

	normalized, failures := NormalizeBatch([]FindingInput{validInput(), bad, validInput()}, "analysis-1")
	if len(normalized) != 2 {
		t.Fatalf("expected 2 normalized findings, got %d", len(normalized))
	}
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}

	var verr *scanerrors.ValidationError
	if !errors.As(failures[0], &verr) {
		t.Fatalf("expected wrapped *ValidationError, got %v", failures[0])
	}

	seen := map[string]bool{}
	for _, nf := range normalized {
		if seen[nf.FindingID] {
			t.Fatalf("duplicate finding id %q within batch", nf.FindingID)
		}
		seen[nf.FindingID] = true
		if nf.AnalysisID != "analysis-1" {
			t.Fatalf("finding not bound to analysis: %q", nf.AnalysisID)
		}
	}
}

func TestParseSeverityRejectsUnknown(t *testing.T) {
	if _, err := ParseSeverity("blocker"); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
	sev, err := ParseSeverity(" Warning ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sev != SeverityWarning {
		t.Fatalf("expected warning, got %q", sev)
	}
}
