// Package manifest provides process-external project bookkeeping: which
// analysis streams and runs are known for a project. It is deliberately a
// small load/save contract, not part of the normalization core.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	scanerrors "github.com/scantrail/scantrail/pkg/shared/errors"
)

// ErrNotFound is returned by Load when no manifest exists for a project.
var ErrNotFound = errors.New("manifest not found")

// AnalysisPointer records the last known run of one analysis stream.
type AnalysisPointer struct {
	AnalysisID   string    `json:"analysis_id"`
	LastRunID    string    `json:"last_run_id"`
	LastTreeHash string    `json:"last_tree_hash"`
	LastDigest   string    `json:"last_digest"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProjectManifest is the per-project bookkeeping record. Version is an
// optimistic concurrency marker: Save refuses to overwrite a manifest whose
// on-disk version differs from the one that was loaded, so two parallel
// ingestions fail loudly instead of silently losing an update.
type ProjectManifest struct {
	ProjectID string    `json:"project_id"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`

	LastRunID string `json:"last_run_id,omitempty"`

	// Analyses is keyed by analysis id.
	Analyses map[string]AnalysisPointer `json:"analyses,omitempty"`
}

// RecordRun updates the manifest's pointers for a newly stored run.
func (m *ProjectManifest) RecordRun(analysisID, runID, treeHash, digest string, at time.Time) {
	if m.Analyses == nil {
		m.Analyses = make(map[string]AnalysisPointer)
	}
	m.LastRunID = runID
	m.Analyses[analysisID] = AnalysisPointer{
		AnalysisID:   analysisID,
		LastRunID:    runID,
		LastTreeHash: treeHash,
		LastDigest:   digest,
		UpdatedAt:    at,
	}
}

// Store is the manifest persistence contract the core depends on.
type Store interface {
	// Load returns the manifest for a project, or ErrNotFound when absent.
	Load(projectID string) (*ProjectManifest, error)
	// Save persists the manifest, failing with a ManifestConflictError when
	// the stored version no longer matches the loaded one.
	Save(m *ProjectManifest) error
}

// FileStore keeps one JSON manifest file per project under a directory.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the manifest directory if needed and returns a store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load reads a project's manifest from disk.
func (s *FileStore) Load(projectID string) (*ProjectManifest, error) {
	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, scanerrors.NewStorageError("manifest load", err)
	}

	m := &ProjectManifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, scanerrors.NewStorageError("manifest load", err)
	}
	return m, nil
}

// Save writes the manifest back with its version bumped. The write goes
// through a temp file and rename so a crash never leaves a torn manifest.
func (s *FileStore) Save(m *ProjectManifest) error {
	if m.ProjectID == "" {
		return fmt.Errorf("manifest has no project id")
	}

	current, err := s.Load(m.ProjectID)
	switch {
	case errors.Is(err, ErrNotFound):
		if m.Version != 0 {
			return scanerrors.NewManifestConflictError(m.ProjectID, m.Version, 0)
		}
	case err != nil:
		return err
	default:
		if current.Version != m.Version {
			return scanerrors.NewManifestConflictError(m.ProjectID, m.Version, current.Version)
		}
	}

	m.Version++
	m.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return scanerrors.NewStorageError("manifest save", err)
	}

	path := s.path(m.ProjectID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return scanerrors.NewStorageError("manifest save", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return scanerrors.NewStorageError("manifest save", err)
	}
	return nil
}

func (s *FileStore) path(projectID string) string {
	return filepath.Join(s.dir, slug(projectID)+".manifest.json")
}

// slug flattens a project id (often host/owner/repo) into a file name.
func slug(projectID string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return r.Replace(projectID)
}
