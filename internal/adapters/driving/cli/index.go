package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var clearYes bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index management commands",
	Long:  `Commands for inspecting and resetting the tab index.`,
}

var indexTabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "List tracked tabs and their indexing state",
	RunE:  runIndexTabs,
}

var indexClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all indexed tab content",
	Long: `Removes every vector, chunk and tab record. Open tabs are re-indexed
on their next content update, so this is safe but forces re-embedding.`,
	RunE: runIndexClear,
}

func init() {
	indexClearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "skip the confirmation prompt")
	indexCmd.AddCommand(indexTabsCmd)
	indexCmd.AddCommand(indexClearCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexTabs(cmd *cobra.Command, _ []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}
	if indexerAdmin == nil {
		return errors.New("indexer not configured")
	}

	states, err := indexerAdmin.ListTabs(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing tabs: %w", err)
	}

	if len(states) == 0 {
		cmd.Println("No tabs tracked.")
		return nil
	}

	for _, st := range states {
		title := st.Title
		if title == "" {
			title = st.URL
		}
		cmd.Printf("  [%d] %s: %s (%d chunks)\n", st.TabID, st.State, title, len(st.ChunkIDs))
		if st.LastError != "" {
			cmd.Printf("      last error: %s\n", st.LastError)
		}
	}
	return nil
}

func runIndexClear(cmd *cobra.Command, _ []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}
	if indexerAdmin == nil {
		return errors.New("indexer not configured")
	}

	if !clearYes {
		cmd.Print("Remove all indexed tab content? [y/N] ")
		var answer string
		fmt.Fscanln(cmd.InOrStdin(), &answer)
		if answer != "y" && answer != "Y" {
			cmd.Println("Aborted.")
			return nil
		}
	}

	if err := indexerAdmin.ClearAll(cmd.Context()); err != nil {
		return fmt.Errorf("clearing indexes: %w", err)
	}
	cmd.Println("All indexes cleared.")
	return nil
}
