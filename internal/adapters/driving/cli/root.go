// Package cli implements the tablens command line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tablens/tablens-cli/internal/core/ports/driving"
	"github.com/tablens/tablens-cli/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

// Services used by the commands. Wired by ensureServices on first use;
// tests substitute mocks directly.
var (
	searchService driving.SearchService
	tabIndexer    driving.Indexer
	indexerAdmin  driving.IndexerAdmin
	engineControl driving.EngineControl
)

var (
	verboseFlag bool
	configDir   string
	dataDir     string
)

var rootCmd = &cobra.Command{
	Use:   "tablens",
	Short: "Semantic search over your open browser tabs",
	Long: `Tablens indexes the content of your open browser tabs and answers
natural language queries about them, both from the command line and
through the Model Context Protocol (MCP) for AI assistants.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verboseFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default ~/.tablens)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.tablens/data)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
