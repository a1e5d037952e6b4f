// Package artifacts archives raw report payloads and run summaries so the
// exact tool output behind a recorded run can be retrieved later.
package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/hashicorp/go-hclog"

	"github.com/scantrail/scantrail/pkg/findings"
	"github.com/scantrail/scantrail/pkg/runs"
	"github.com/scantrail/scantrail/pkg/shared/config"
	"github.com/scantrail/scantrail/pkg/shared/files"
)

// RunArtifact is the archived shape: the run record, its findings, and the
// raw report the tool produced.
type RunArtifact struct {
	Run      *runs.DiagnosticRun          `json:"run"`
	Findings []*findings.NormalizedFinding `json:"findings"`
}

// GetArtifactName builds a timestamped artifact base name.
// Example: ingest_semgrep_2025-09-15T08:28:46Z.scantrail-artifact.
func GetArtifactName(command, tool string, t time.Time) string {
	ts := t.UTC().Format(time.RFC3339)
	return fmt.Sprintf("%s_%s_%s.scantrail-artifact", command, tool, ts)
}

// SaveRunArtifact writes the run artifact to <artifacts home>/<base>.json and
// returns the full path.
func SaveRunArtifact(cfg *config.Config, logger hclog.Logger, command string, artifact RunArtifact) (string, error) {
	base := GetArtifactName(command, artifact.Run.Tool.Name, artifact.Run.CreatedAt)
	path := filepath.Join(cfg.Artifacts.Home, base+".json")

	data, err := json.MarshalIndent(artifact, "", "    ")
	if err != nil {
		return path, fmt.Errorf("error marshaling the run artifact: %w", err)
	}

	if err := files.WriteJSONFile(path, data); err != nil {
		return path, fmt.Errorf("error writing run artifact: %w", err)
	}
	logger.Info("artifact saved to file", "path", path)

	return path, nil
}

// UploadRawReport pushes the raw report payload to S3 when artifact storage
// is configured as s3. The object key mirrors the project layout so repeated
// runs of the same analysis sit next to each other.
func UploadRawReport(cfg *config.Config, logger hclog.Logger, run *runs.DiagnosticRun) error {
	if cfg.Artifacts.StorageType != "s3" {
		return nil
	}
	if cfg.Artifacts.S3Bucket == "" {
		return fmt.Errorf("artifact storage is s3 but no bucket is configured")
	}
	if len(run.RawReport) == 0 {
		logger.Debug("run carries no raw report payload, skipping upload", "run_id", run.RunID)
		return nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Artifacts.S3Region),
	})
	if err != nil {
		return fmt.Errorf("failed to create aws session: %w", err)
	}

	key := filepath.Join(run.ProjectID, run.AnalysisID, fmt.Sprintf("%s.raw", run.RunID))
	uploader := s3manager.NewUploader(sess)
	result, err := uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(cfg.Artifacts.S3Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(run.RawReport),
	})
	if err != nil {
		return fmt.Errorf("failed to upload raw report: %w", err)
	}

	logger.Info("uploaded raw report", "bucket", cfg.Artifacts.S3Bucket, "key", key, "location", result.Location)
	return nil
}
