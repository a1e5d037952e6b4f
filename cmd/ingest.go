package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scantrail/scantrail/internal/exporter"
	"github.com/scantrail/scantrail/internal/git"
	"github.com/scantrail/scantrail/internal/logger"
	"github.com/scantrail/scantrail/internal/sarif"
	"github.com/scantrail/scantrail/pkg/findings"
	"github.com/scantrail/scantrail/pkg/manifest"
	"github.com/scantrail/scantrail/pkg/runs"
	"github.com/scantrail/scantrail/pkg/shared/artifacts"
	scanerrors "github.com/scantrail/scantrail/pkg/shared/errors"
	"github.com/scantrail/scantrail/pkg/shared/files"
	"github.com/scantrail/scantrail/pkg/store"
)

// IngestOptions holds the flag values for the ingest command.
type IngestOptions struct {
	InputFile    string
	SourceFolder string

	Project         string
	TreeHash        string
	ConfigFile      string
	ConfigHash      string
	ToolName        string
	ToolVersion     string
	EnvironmentHash string

	IncludeSeverity []string
	KeepSuppressed  bool
	AttachRaw       bool
	StoreRepeat     bool
	NoArtifact      bool
	Export          bool
}

var allIngestOptions IngestOptions

// IngestSummary is printed to stdout after a successful ingest.
type IngestSummary struct {
	RunID          string      `json:"run_id"`
	AnalysisID     string      `json:"analysis_id"`
	ProjectID      string      `json:"project_id"`
	Status         runs.Status `json:"status"`
	FindingsDigest string      `json:"findings_digest"`
	Findings       int         `json:"findings"`
	Invalid        int         `json:"invalid"`
	Repeat         bool        `json:"repeat"`
	PriorRunID     string      `json:"prior_run_id,omitempty"`
	Stored         bool        `json:"stored"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a SARIF report and record it as a diagnostic run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(allIngestOptions)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVarP(&allIngestOptions.InputFile, "input", "i", "", "path to the SARIF report to ingest")
	ingestCmd.Flags().StringVar(&allIngestOptions.SourceFolder, "source-folder", ".", "checkout the report was produced from")
	ingestCmd.Flags().StringVar(&allIngestOptions.Project, "project", "", "project id (default: derived from the origin remote)")
	ingestCmd.Flags().StringVar(&allIngestOptions.TreeHash, "tree-hash", "", "tree hash (default: HEAD tree of the source folder)")
	ingestCmd.Flags().StringVar(&allIngestOptions.ConfigFile, "config-file", "", "tool configuration file; its content hash becomes the config hash")
	ingestCmd.Flags().StringVar(&allIngestOptions.ConfigHash, "config-hash", "", "explicit config hash, overrides --config-file")
	ingestCmd.Flags().StringVar(&allIngestOptions.ToolName, "tool-name", "", "tool name override")
	ingestCmd.Flags().StringVar(&allIngestOptions.ToolVersion, "tool-version", "", "tool version override")
	ingestCmd.Flags().StringVar(&allIngestOptions.EnvironmentHash, "environment-hash", "", "environment content hash")
	ingestCmd.Flags().StringSliceVar(&allIngestOptions.IncludeSeverity, "severity", nil, "only ingest findings with these severities")
	ingestCmd.Flags().BoolVar(&allIngestOptions.KeepSuppressed, "keep-suppressed", false, "keep results carrying SARIF suppressions")
	ingestCmd.Flags().BoolVar(&allIngestOptions.AttachRaw, "attach-raw", false, "attach the raw report payload to the stored run")
	ingestCmd.Flags().BoolVar(&allIngestOptions.StoreRepeat, "store-repeat", false, "store a new run even when an identical one exists")
	ingestCmd.Flags().BoolVar(&allIngestOptions.NoArtifact, "no-artifact", false, "skip writing the run artifact")
	ingestCmd.Flags().BoolVar(&allIngestOptions.Export, "export", false, "push the recorded run to the configured aggregation service")

	ingestCmd.MarkFlagRequired("input")
}

func runIngest(o IngestOptions) error {
	log := logger.NewLogger(AppConfig, "ingest")

	reader := sarif.NewReader(log)
	reader.DropSuppressed = !o.KeepSuppressed
	output, err := reader.ReadFile(o.InputFile)
	if err != nil {
		return err
	}

	tool := findings.ToolIdentity{Name: output.ToolName, Version: output.ToolVersion}
	if o.ToolName != "" {
		tool.Name = o.ToolName
	}
	if o.ToolVersion != "" {
		tool.Version = o.ToolVersion
	}
	if tool.Name == "" {
		return fmt.Errorf("report names no tool; pass --tool-name")
	}

	projectID, treeHash := o.Project, o.TreeHash
	var commitHash *string
	metadata := map[string]string{}
	if projectID == "" || treeHash == "" {
		snapshot, err := git.CollectSnapshotMetadata(o.SourceFolder)
		if err != nil {
			return fmt.Errorf("cannot derive snapshot identity from %q (%w); pass --project and --tree-hash", o.SourceFolder, err)
		}
		if projectID == "" {
			projectID = snapshot.ProjectID
		}
		if treeHash == "" {
			treeHash = snapshot.TreeHash
		}
		commitHash = snapshot.CommitHash
		if snapshot.BranchName != nil {
			metadata["branch"] = *snapshot.BranchName
		}
		if snapshot.RepositoryFullName != nil {
			metadata["repository"] = *snapshot.RepositoryFullName
		}
	}

	configHash := o.ConfigHash
	if configHash == "" && o.ConfigFile != "" {
		configHash, err = files.HashFileSHA256(o.ConfigFile)
		if err != nil {
			return fmt.Errorf("cannot hash config file: %w", err)
		}
	}

	inputs := filterBySeverity(output.Findings, o.IncludeSeverity)

	analysisID := runs.AnalysisID(projectID, tool.Name, configHash)
	normalized, failures := findings.NormalizeBatch(inputs, analysisID)
	for _, failure := range failures {
		log.Warn("skipping malformed finding", "error", failure)
	}

	runStore, err := store.Open(AppConfig.Store.Path)
	if err != nil {
		return err
	}
	defer runStore.Close()

	req := runs.RecordRequest{
		ProjectID:  projectID,
		Tool:       tool,
		TreeHash:   treeHash,
		ConfigHash: configHash,
		CommitHash: commitHash,
		Findings:   normalized,
		Metadata:   metadata,
	}
	if o.EnvironmentHash != "" {
		req.EnvironmentHash = &o.EnvironmentHash
	}
	if o.AttachRaw {
		raw, err := os.ReadFile(o.InputFile)
		if err != nil {
			return fmt.Errorf("cannot read raw report: %w", err)
		}
		req.RawReport = raw
	}

	recorder := runs.NewRecorder(runStore, log)
	result, err := recorder.Record(req)
	if err != nil {
		return err
	}

	summary := IngestSummary{
		RunID:          result.Run.RunID,
		AnalysisID:     result.Run.AnalysisID,
		ProjectID:      projectID,
		Status:         result.Run.Status,
		FindingsDigest: result.Run.FindingsDigest,
		Findings:       len(normalized),
		Invalid:        len(failures),
		Repeat:         result.Repeat,
		PriorRunID:     result.PriorRunID,
	}

	if result.Repeat && !o.StoreRepeat {
		log.Info("identical run already recorded, skipping storage",
			"prior_run_id", result.PriorRunID, "findings_digest", result.Run.FindingsDigest)
		return printSummary(summary)
	}

	if err := runStore.PutRun(result.Run, normalized); err != nil {
		return err
	}
	summary.Stored = true

	if err := updateManifest(result.Run); err != nil {
		return err
	}

	if !o.NoArtifact {
		if _, err := artifacts.SaveRunArtifact(AppConfig, log, "ingest", artifacts.RunArtifact{
			Run:      result.Run,
			Findings: normalized,
		}); err != nil {
			log.Warn("failed to save run artifact", "error", err)
		}
		if err := artifacts.UploadRawReport(AppConfig, log, result.Run); err != nil {
			log.Warn("failed to upload raw report", "error", err)
		}
	}

	if o.Export {
		if AppConfig.Exporter.URL == "" {
			return fmt.Errorf("--export requires exporter.url in the config")
		}
		client := exporter.New(AppConfig, AppConfig.Exporter.URL, os.Getenv(AppConfig.Exporter.TokenEnv))
		id, err := client.ExportRun(result.Run, normalized)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		log.Info("run exported", "remote_id", id)
	}

	return printSummary(summary)
}

// updateManifest moves the project's last-run pointers forward. The save is
// retried once on an optimistic concurrency conflict with a fresh load, so a
// parallel ingestion's update is preserved rather than overwritten.
func updateManifest(run *runs.DiagnosticRun) error {
	manifests, err := manifest.NewFileStore(AppConfig.Manifests.Dir)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		m, err := manifests.Load(run.ProjectID)
		if errors.Is(err, manifest.ErrNotFound) {
			m = &manifest.ProjectManifest{ProjectID: run.ProjectID}
		} else if err != nil {
			return err
		}

		m.RecordRun(run.AnalysisID, run.RunID, run.TreeHash, run.FindingsDigest, run.CreatedAt)
		err = manifests.Save(m)
		if err == nil {
			return nil
		}

		var conflict *scanerrors.ManifestConflictError
		if !errors.As(err, &conflict) || attempt == 1 {
			return err
		}
	}
	return nil
}

func filterBySeverity(inputs []findings.FindingInput, include []string) []findings.FindingInput {
	if len(include) == 0 {
		return inputs
	}
	allowed := make(map[findings.Severity]bool, len(include))
	for _, s := range include {
		if sev, err := findings.ParseSeverity(s); err == nil {
			allowed[sev] = true
		}
	}
	filtered := make([]findings.FindingInput, 0, len(inputs))
	for _, in := range inputs {
		if sev, err := findings.ParseSeverity(in.Severity); err == nil && allowed[sev] {
			filtered = append(filtered, in)
		}
	}
	return filtered
}

func printSummary(summary IngestSummary) error {
	data, err := json.MarshalIndent(summary, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
