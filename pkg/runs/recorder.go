package runs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/scantrail/scantrail/pkg/findings"
)

// RunIndex is the slice of the store the recorder needs for idempotence
// detection: every prior run of an analysis stream against a given tree.
type RunIndex interface {
	RunsByAnalysisAndTree(analysisID, treeHash string) ([]*DiagnosticRun, error)
}

// RecordRequest carries everything needed to record one diagnostic run.
// Findings must already be normalized against the request's analysis stream.
type RecordRequest struct {
	ProjectID  string
	Tool       findings.ToolIdentity
	TreeHash   string
	ConfigHash string

	CommitHash      *string
	EnvironmentHash *string
	DurationMs      *int64

	Findings []*findings.NormalizedFinding

	RawReport []byte
	Metadata  map[string]string
}

// RecordResult is the outcome of recording a run. Repeat is a typed signal,
// not an error: the run is fully built either way and callers decide whether
// to persist it anyway (audit trail) or skip.
type RecordResult struct {
	Run *DiagnosticRun

	// Repeat is true when a prior run of the same analysis stream against
	// the same tree produced an identical findings digest.
	Repeat bool

	// PriorRunID identifies the earlier identical run when Repeat is true.
	PriorRunID string
}

// Recorder groups normalized findings into immutable diagnostic runs.
type Recorder struct {
	index  RunIndex
	logger hclog.Logger

	now   func() time.Time
	newID func() string
}

// NewRecorder creates a Recorder backed by the given run index.
func NewRecorder(index RunIndex, logger hclog.Logger) *Recorder {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Recorder{
		index:  index,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Record builds a DiagnosticRun from the request and checks it against prior
// runs of the same analysis stream and tree. It does not persist; the caller
// owns the put so a repeat can be skipped or stored for audit.
func (r *Recorder) Record(req RecordRequest) (*RecordResult, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("record: project id is required")
	}
	if req.Tool.Name == "" {
		return nil, fmt.Errorf("record: tool name is required")
	}
	if req.TreeHash == "" {
		return nil, fmt.Errorf("record: tree hash is required")
	}

	analysisID := AnalysisID(req.ProjectID, req.Tool.Name, req.ConfigHash)
	for _, f := range req.Findings {
		if f.AnalysisID != analysisID {
			return nil, fmt.Errorf("record: finding %s was normalized for analysis %s, expected %s",
				f.FindingID, f.AnalysisID, analysisID)
		}
	}

	run := &DiagnosticRun{
		RunID:           r.newID(),
		AnalysisID:      analysisID,
		ProjectID:       req.ProjectID,
		TreeHash:        req.TreeHash,
		CommitHash:      req.CommitHash,
		Tool:            req.Tool,
		ConfigHash:      req.ConfigHash,
		EnvironmentHash: req.EnvironmentHash,
		Status:          DeriveStatus(req.Findings),
		CreatedAt:       r.now().UTC(),
		DurationMs:      req.DurationMs,
		FindingsDigest:  FindingsDigest(req.Findings),
		RawReport:       req.RawReport,
		Metadata:        req.Metadata,
	}

	result := &RecordResult{Run: run}

	prior, err := r.index.RunsByAnalysisAndTree(analysisID, req.TreeHash)
	if err != nil {
		return nil, fmt.Errorf("record: checking prior runs: %w", err)
	}
	for _, p := range prior {
		if p.FindingsDigest == run.FindingsDigest {
			result.Repeat = true
			result.PriorRunID = p.RunID
			r.logger.Debug("identical run already recorded",
				"analysis_id", analysisID, "tree_hash", req.TreeHash, "prior_run_id", p.RunID)
			break
		}
	}

	return result, nil
}
