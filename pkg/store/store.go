// Package store persists diagnostic runs and their findings in an embedded
// bbolt database and answers filtered historical queries.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/scantrail/scantrail/pkg/findings"
	"github.com/scantrail/scantrail/pkg/runs"
	scanerrors "github.com/scantrail/scantrail/pkg/shared/errors"
)

// ErrNotFound is returned when a run id has no stored record.
var ErrNotFound = errors.New("not found")

// Bucket names. Index buckets hold one nested bucket per key so range scans
// stay local to a project or analysis stream.
var (
	bucketRuns           = []byte("runs")
	bucketRunFindings    = []byte("run_findings")
	bucketRunsByProject  = []byte("runs_by_project")
	bucketRunsByAnalysis = []byte("runs_by_analysis")
)

// BoltStore implements run and finding persistence using bbolt. A run and
// its full finding set become visible together or not at all: every put is a
// single write transaction.
type BoltStore struct {
	db *bolt.DB
}

// Compile-time check: the store serves the recorder's idempotence lookups.
var _ runs.RunIndex = (*BoltStore)(nil)

// Open opens or creates the run store at the given path.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, scanerrors.NewStorageError("open", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketRunFindings, bucketRunsByProject, bucketRunsByAnalysis} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, scanerrors.NewStorageError("init", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutRun persists a run and its findings atomically. A racing duplicate
// write for the same run id lands an identical logical record.
func (s *BoltStore) PutRun(run *runs.DiagnosticRun, batch []*findings.NormalizedFinding) error {
	if run == nil || run.RunID == "" {
		return scanerrors.NewStorageError("put", fmt.Errorf("run id is empty"))
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		runData, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run %s: %w", run.RunID, err)
		}
		if err := tx.Bucket(bucketRuns).Put([]byte(run.RunID), runData); err != nil {
			return err
		}

		fb, err := tx.Bucket(bucketRunFindings).CreateBucketIfNotExists([]byte(run.RunID))
		if err != nil {
			return err
		}
		for _, f := range batch {
			data, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("marshal finding %s: %w", f.FindingID, err)
			}
			if err := fb.Put([]byte(f.FindingID), data); err != nil {
				return err
			}
		}

		pb, err := tx.Bucket(bucketRunsByProject).CreateBucketIfNotExists([]byte(run.ProjectID))
		if err != nil {
			return err
		}
		if err := pb.Put(projectIndexKey(run), []byte(run.RunID)); err != nil {
			return err
		}

		ab, err := tx.Bucket(bucketRunsByAnalysis).CreateBucketIfNotExists([]byte(run.AnalysisID))
		if err != nil {
			return err
		}
		return ab.Put(analysisIndexKey(run.TreeHash, run.RunID), []byte(run.RunID))
	})
	if err != nil {
		return scanerrors.NewStorageError("put", err)
	}
	return nil
}

// GetRun loads a single run by id.
func (s *BoltStore) GetRun(runID string) (*runs.DiagnosticRun, error) {
	var run *runs.DiagnosticRun
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(runID))
		if data == nil {
			return ErrNotFound
		}
		run = &runs.DiagnosticRun{}
		return json.Unmarshal(data, run)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, scanerrors.NewStorageError("get", err)
	}
	return run, nil
}

// FindingsForRun returns the full finding set owned by a run. Findings never
// outlive their run; an unknown run id is an error.
func (s *BoltStore) FindingsForRun(runID string) ([]*findings.NormalizedFinding, error) {
	var out []*findings.NormalizedFinding
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketRuns).Get([]byte(runID)) == nil {
			return ErrNotFound
		}
		fb := tx.Bucket(bucketRunFindings).Bucket([]byte(runID))
		if fb == nil {
			return nil
		}
		return fb.ForEach(func(_, v []byte) error {
			f := &findings.NormalizedFinding{}
			if err := json.Unmarshal(v, f); err != nil {
				return err
			}
			out = append(out, f)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, scanerrors.NewStorageError("findings", err)
	}
	return out, nil
}

// Query returns the runs matching the filter, most recent first. An unknown
// project yields an empty result, not an error.
func (s *BoltStore) Query(filter runs.QueryFilter) ([]*runs.DiagnosticRun, error) {
	if filter.ProjectID == "" {
		return nil, scanerrors.NewStorageError("query", fmt.Errorf("project id is required"))
	}

	matched := []*runs.DiagnosticRun{}
	err := s.db.View(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketRunsByProject).Bucket([]byte(filter.ProjectID))
		if pb == nil {
			return nil
		}
		runsBucket := tx.Bucket(bucketRuns)

		// Index keys lead with the creation timestamp, so a reverse scan
		// yields createdAt-descending order directly.
		c := pb.Cursor()
		for k, runID := c.Last(); k != nil; k, runID = c.Prev() {
			data := runsBucket.Get(runID)
			if data == nil {
				continue
			}
			run := &runs.DiagnosticRun{}
			if err := json.Unmarshal(data, run); err != nil {
				return err
			}
			if filter.Matches(run) {
				matched = append(matched, run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, scanerrors.NewStorageError("query", err)
	}
	return matched, nil
}

// RunsByAnalysisAndTree returns every run of an analysis stream recorded
// against the given tree. It backs the recorder's idempotence check.
func (s *BoltStore) RunsByAnalysisAndTree(analysisID, treeHash string) ([]*runs.DiagnosticRun, error) {
	var out []*runs.DiagnosticRun
	err := s.db.View(func(tx *bolt.Tx) error {
		ab := tx.Bucket(bucketRunsByAnalysis).Bucket([]byte(analysisID))
		if ab == nil {
			return nil
		}
		runsBucket := tx.Bucket(bucketRuns)

		prefix := analysisIndexPrefix(treeHash)
		c := ab.Cursor()
		for k, runID := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, runID = c.Next() {
			data := runsBucket.Get(runID)
			if data == nil {
				continue
			}
			run := &runs.DiagnosticRun{}
			if err := json.Unmarshal(data, run); err != nil {
				return err
			}
			out = append(out, run)
		}
		return nil
	})
	if err != nil {
		return nil, scanerrors.NewStorageError("index scan", err)
	}
	return out, nil
}

// projectIndexKey orders a project's runs by creation time, with the run id
// as a tiebreaker for runs recorded in the same nanosecond.
func projectIndexKey(run *runs.DiagnosticRun) []byte {
	key := make([]byte, 0, 8+1+len(run.RunID))
	key = append(key, itob(uint64(run.CreatedAt.UnixNano()))...)
	key = append(key, 0x00)
	key = append(key, run.RunID...)
	return key
}

func analysisIndexPrefix(treeHash string) []byte {
	return append([]byte(treeHash), 0x00)
}

func analysisIndexKey(treeHash, runID string) []byte {
	return append(analysisIndexPrefix(treeHash), runID...)
}

// itob converts a uint64 to a big-endian byte slice.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	for i := uint(0); i < 8; i++ {
		b[7-i] = byte(v >> (i * 8))
	}
	return b
}
