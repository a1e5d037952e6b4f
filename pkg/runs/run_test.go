package runs

import (
	"math/rand"
	"testing"

	"github.com/scantrail/scantrail/pkg/findings"
)

func finding(fingerprint string, severity findings.Severity) *findings.NormalizedFinding {
	return &findings.NormalizedFinding{
		FindingID:   "id-" + fingerprint,
		AnalysisID:  "analysis-1",
		Fingerprint: fingerprint,
		RuleID:      "R1",
		Severity:    severity,
		Message:     "m",
		FilePath:    "f.go",
	}
}

func TestDeriveStatus(t *testing.T) {
	mixed := []*findings.NormalizedFinding{
		finding("a", findings.SeverityWarning),
		finding("b", findings.SeverityInfo),
		finding("c", findings.SeverityError),
	}
	if got := DeriveStatus(mixed); got != StatusFailed {
		t.Fatalf("one error must dominate: expected failed, got %q", got)
	}

	warnings := []*findings.NormalizedFinding{
		finding("a", findings.SeverityWarning),
		finding("b", findings.SeverityNote),
	}
	if got := DeriveStatus(warnings); got != StatusPartial {
		t.Fatalf("expected partial, got %q", got)
	}

	quiet := []*findings.NormalizedFinding{
		finding("a", findings.SeverityInfo),
		finding("b", findings.SeverityNote),
	}
	if got := DeriveStatus(quiet); got != StatusPassed {
		t.Fatalf("expected passed, got %q", got)
	}

	if got := DeriveStatus(nil); got != StatusPassed {
		t.Fatalf("empty batch must pass, got %q", got)
	}
}

func TestFindingsDigestOrderIndependent(t *testing.T) {
	batch := []*findings.NormalizedFinding{
		finding("fp-c", findings.SeverityError),
		finding("fp-a", findings.SeverityWarning),
		finding("fp-b", findings.SeverityNote),
		finding("fp-d", findings.SeverityInfo),
	}

	want := FindingsDigest(batch)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := make([]*findings.NormalizedFinding, len(batch))
		copy(shuffled, batch)
		r.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		if got := FindingsDigest(shuffled); got != want {
			t.Fatalf("digest depends on ordering: %q vs %q", got, want)
		}
	}
}

func TestFindingsDigestIsSetSemantics(t *testing.T) {
	once := []*findings.NormalizedFinding{finding("fp-a", findings.SeverityError)}
	twice := []*findings.NormalizedFinding{
		finding("fp-a", findings.SeverityError),
		finding("fp-a", findings.SeverityError),
	}
	if FindingsDigest(once) != FindingsDigest(twice) {
		t.Fatalf("duplicate (fingerprint, severity) pairs must not change the digest")
	}
}

func TestFindingsDigestSensitivity(t *testing.T) {
	base := FindingsDigest([]*findings.NormalizedFinding{finding("fp-a", findings.SeverityError)})

	if FindingsDigest([]*findings.NormalizedFinding{finding("fp-b", findings.SeverityError)}) == base {
		t.Fatalf("different fingerprint must change digest")
	}
	if FindingsDigest([]*findings.NormalizedFinding{finding("fp-a", findings.SeverityWarning)}) == base {
		t.Fatalf("different severity must change digest")
	}
	if FindingsDigest(nil) == base {
		t.Fatalf("empty set must not collide with a non-empty one")
	}
}

func TestAnalysisIDDeterministic(t *testing.T) {
	a := AnalysisID("github.com/acme/api", "semgrep", "cfg-1")
	b := AnalysisID("github.com/acme/api", "semgrep", "cfg-1")
	if a != b {
		t.Fatalf("analysis id must be deterministic")
	}

	if AnalysisID("github.com/acme/api", "semgrep", "cfg-2") == a {
		t.Fatalf("different config must map to a different analysis stream")
	}
	if AnalysisID("github.com/acme/web", "semgrep", "cfg-1") == a {
		t.Fatalf("different project must map to a different analysis stream")
	}
	if AnalysisID("github.com/acme/api", "gosec", "cfg-1") == a {
		t.Fatalf("different tool must map to a different analysis stream")
	}
}

func TestQueryFilterMatches(t *testing.T) {
	run := &DiagnosticRun{
		ProjectID: "github.com/acme/api",
		TreeHash:  "tree-1",
		Tool:      findings.ToolIdentity{Name: "semgrep", Version: "1.50.0"},
	}

	if !(QueryFilter{ProjectID: "github.com/acme/api"}).Matches(run) {
		t.Fatalf("project-only filter should match")
	}
	if (QueryFilter{ProjectID: "github.com/acme/web"}).Matches(run) {
		t.Fatalf("different project must not match")
	}
	if !(QueryFilter{ProjectID: "github.com/acme/api", ToolName: "semgrep", TreeHash: "tree-1"}).Matches(run) {
		t.Fatalf("AND of matching optional fields should match")
	}
	if (QueryFilter{ProjectID: "github.com/acme/api", ToolName: "semgrep", ToolVersion: "1.49.0"}).Matches(run) {
		t.Fatalf("one mismatching optional field must exclude the run")
	}
}
