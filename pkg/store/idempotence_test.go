package store

import (
	"path/filepath"
	"testing"

	"github.com/scantrail/scantrail/pkg/findings"
	"github.com/scantrail/scantrail/pkg/runs"
)

// End-to-end idempotence: the recorder wired against a real store must flag
// a second ingestion of unchanged tool output as a repeat, and both runs must
// carry the same digest.
func TestRepeatIngestionAgainstStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	analysisID := runs.AnalysisID("github.com/acme/api", "semgrep", "cfg-1")
	inputs := []findings.FindingInput{
		{RuleID: "R1", Severity: "error", Message: "first", FilePath: "a.go"},
		{RuleID: "R2", Severity: "warning", Message: "second", FilePath: "b.go"},
	}

	ingest := func(ins []findings.FindingInput) *runs.RecordResult {
		t.Helper()
		normalized, failures := findings.NormalizeBatch(ins, analysisID)
		if len(failures) != 0 {
			t.Fatalf("unexpected validation failures: %v", failures)
		}
		recorder := runs.NewRecorder(s, nil)
		result, err := recorder.Record(runs.RecordRequest{
			ProjectID:  "github.com/acme/api",
			Tool:       findings.ToolIdentity{Name: "semgrep", Version: "1.50.0"},
			TreeHash:   "tree-1",
			ConfigHash: "cfg-1",
			Findings:   normalized,
		})
		if err != nil {
			t.Fatalf("record failed: %v", err)
		}
		return result
	}

	first := ingest(inputs)
	if first.Repeat {
		t.Fatalf("first ingestion must not be a repeat")
	}
	normalized, _ := findings.NormalizeBatch(inputs, analysisID)
	if err := s.PutRun(first.Run, normalized); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// Same output, permuted order: same digest, flagged as repeat.
	permuted := []findings.FindingInput{inputs[1], inputs[0]}
	second := ingest(permuted)
	if !second.Repeat {
		t.Fatalf("unchanged output must be reported as an idempotent repeat")
	}
	if second.PriorRunID != first.Run.RunID {
		t.Fatalf("expected prior run %q, got %q", first.Run.RunID, second.PriorRunID)
	}
	if second.Run.FindingsDigest != first.Run.FindingsDigest {
		t.Fatalf("permuted ingestion must produce the same digest")
	}

	// Storing the repeat anyway (audit trail) keeps both runs queryable.
	if err := s.PutRun(second.Run, nil); err != nil {
		t.Fatalf("audit put failed: %v", err)
	}
	stored, err := s.Query(runs.QueryFilter{ProjectID: "github.com/acme/api"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored runs, got %d", len(stored))
	}
	if stored[0].FindingsDigest != stored[1].FindingsDigest {
		t.Fatalf("audit runs must share the digest")
	}
}
