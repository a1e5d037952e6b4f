package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scantrail/scantrail/pkg/runs"
	"github.com/scantrail/scantrail/pkg/store"
)

// HistoryOptions holds the flag values for the history command.
type HistoryOptions struct {
	Project     string
	ToolName    string
	ToolVersion string
	TreeHash    string
	RunID       string
	Findings    bool
}

var allHistoryOptions HistoryOptions

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query recorded runs for a project, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(allHistoryOptions)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVarP(&allHistoryOptions.Project, "project", "p", "", "project id to query")
	historyCmd.Flags().StringVar(&allHistoryOptions.ToolName, "tool-name", "", "only runs produced by this tool")
	historyCmd.Flags().StringVar(&allHistoryOptions.ToolVersion, "tool-version", "", "only runs produced by this tool version")
	historyCmd.Flags().StringVar(&allHistoryOptions.TreeHash, "tree-hash", "", "only runs against this tree")
	historyCmd.Flags().StringVar(&allHistoryOptions.RunID, "run", "", "show one run with its findings instead of the run list")
	historyCmd.Flags().BoolVar(&allHistoryOptions.Findings, "findings", false, "include findings for each listed run")
}

func runHistory(o HistoryOptions) error {
	runStore, err := store.Open(AppConfig.Store.Path)
	if err != nil {
		return err
	}
	defer runStore.Close()

	if o.RunID != "" {
		return printRunDetail(runStore, o.RunID)
	}

	if o.Project == "" {
		return fmt.Errorf("--project is required")
	}

	matched, err := runStore.Query(runs.QueryFilter{
		ProjectID:   o.Project,
		ToolName:    o.ToolName,
		ToolVersion: o.ToolVersion,
		TreeHash:    o.TreeHash,
	})
	if err != nil {
		return err
	}

	if !o.Findings {
		return printJSON(matched)
	}

	type runWithFindings struct {
		Run      *runs.DiagnosticRun `json:"run"`
		Findings interface{}         `json:"findings"`
	}
	detailed := make([]runWithFindings, 0, len(matched))
	for _, run := range matched {
		batch, err := runStore.FindingsForRun(run.RunID)
		if err != nil {
			return err
		}
		detailed = append(detailed, runWithFindings{Run: run, Findings: batch})
	}
	return printJSON(detailed)
}

func printRunDetail(runStore *store.BoltStore, runID string) error {
	run, err := runStore.GetRun(runID)
	if err != nil {
		return err
	}
	batch, err := runStore.FindingsForRun(runID)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"run":      run,
		"findings": batch,
	})
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
