// Package runs models diagnostic runs: one execution of one tool against one
// snapshot of a project, grouped into logical analysis streams so findings
// can be compared across repeated runs over time.
package runs

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/scantrail/scantrail/pkg/findings"
)

// Status is the derived outcome of a run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusPartial Status = "partial"
)

// DiagnosticRun is a point-in-time fact: created atomically once, immutable
// thereafter. Corrections require a new run, never an in-place edit.
type DiagnosticRun struct {
	RunID      string `json:"run_id"`
	AnalysisID string `json:"analysis_id"`
	ProjectID  string `json:"project_id"`
	TreeHash   string `json:"tree_hash"`

	CommitHash *string `json:"commit_hash,omitempty"`

	Tool            findings.ToolIdentity `json:"tool"`
	ConfigHash      string                `json:"config_hash"`
	EnvironmentHash *string               `json:"environment_hash,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	DurationMs *int64 `json:"duration_ms,omitempty"`

	// FindingsDigest is an order-independent content hash over the run's
	// normalized finding set, used to detect unchanged repeat ingestions.
	FindingsDigest string `json:"findings_digest"`

	RawReport []byte            `json:"raw_report,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// QueryFilter selects runs for read access. ProjectID is required; every
// optional field present must match exactly (logical AND). Not persisted.
type QueryFilter struct {
	ProjectID   string
	ToolName    string
	ToolVersion string
	TreeHash    string
}

// Matches reports whether the run satisfies the filter.
func (f QueryFilter) Matches(run *DiagnosticRun) bool {
	if run.ProjectID != f.ProjectID {
		return false
	}
	if f.ToolName != "" && run.Tool.Name != f.ToolName {
		return false
	}
	if f.ToolVersion != "" && run.Tool.Version != f.ToolVersion {
		return false
	}
	if f.TreeHash != "" && run.TreeHash != f.TreeHash {
		return false
	}
	return true
}

// AnalysisID derives the identifier of the logical analysis stream a run
// belongs to. The same project, tool and configuration always map to the
// same stream across runs, even as the analyzed tree changes.
func AnalysisID(projectID, toolName, configHash string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{projectID, toolName, configHash}, "\x1f")))
	return fmt.Sprintf("%x", sum[:])[:32]
}

// DeriveStatus applies severity dominance: failed if any finding is an
// error, else partial if any is a warning, else passed.
func DeriveStatus(batch []*findings.NormalizedFinding) Status {
	status := StatusPassed
	for _, f := range batch {
		switch f.Severity {
		case findings.SeverityError:
			return StatusFailed
		case findings.SeverityWarning:
			status = StatusPartial
		}
	}
	return status
}

// FindingsDigest computes an order-independent content hash over the set of
// (fingerprint, severity) pairs in a run. Pairs are deduplicated and sorted
// before hashing, so tool-reported ordering never leaks into the digest.
func FindingsDigest(batch []*findings.NormalizedFinding) string {
	type pair struct {
		fingerprint string
		rank        int
	}

	seen := make(map[pair]struct{}, len(batch))
	pairs := make([]pair, 0, len(batch))
	for _, f := range batch {
		p := pair{fingerprint: f.Fingerprint, rank: f.Severity.Rank()}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].fingerprint != pairs[j].fingerprint {
			return pairs[i].fingerprint < pairs[j].fingerprint
		}
		return pairs[i].rank < pairs[j].rank
	})

	h := sha256.New()
	for _, p := range pairs {
		fmt.Fprintf(h, "%s:%d\n", p.fingerprint, p.rank)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
