package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scantrail/scantrail/cmd/version"
	"github.com/scantrail/scantrail/pkg/shared/config"
)

var (
	cfgFile   string
	AppConfig *config.Config
	rootCmd   = &cobra.Command{
		Use:                   "scantrail [command]",
		SilenceUsage:          true,
		DisableFlagsInUseLine: true,
		Short:                 "Scantrail records static analysis findings and tracks them across runs.",
		Long: `Scantrail ingests SARIF reports, normalizes their findings into a canonical
	content-addressed record model, and persists runs so the same logical finding
	can be recognized across repeated analyses of a project over time.
	`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config.yml)")
	rootCmd.AddCommand(version.NewVersionCmd())
}

func Execute() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	var err error

	if cfgFile == "" {
		cfgFile = "config.yml"
	}
	AppConfig, err = config.NewConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize config: %v\n", err)
		os.Exit(1)
	}
}
