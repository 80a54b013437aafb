package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine and index status",
	Long:  `Shows the embedding engine state, the active model and index statistics.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}
	if engineControl == nil || indexerAdmin == nil {
		return errors.New("services not configured")
	}

	st := engineControl.Status()

	if statusJSON {
		stats, err := indexerAdmin.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("reading index stats: %w", err)
		}
		data, err := json.MarshalIndent(struct {
			Engine domain.EngineStatus `json:"engine"`
			Index  domain.IndexStats   `json:"index"`
		}{st, stats}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Engine:  %s", st.State)
	switch st.State {
	case domain.EngineDownloading, domain.EngineInitializing:
		cmd.Printf(" (%.0f%%)", st.Progress*100)
	case domain.EngineError:
		cmd.Printf(" (%s)", st.Error)
	}
	cmd.Println()
	if st.Model.Preset != "" {
		cmd.Printf("Model:   %s\n", st.Model.Identity())
	}

	stats, err := indexerAdmin.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("reading index stats: %w", err)
	}
	cmd.Printf("Tabs:    %d indexed / %d tracked\n", stats.IndexedTabs, stats.TotalTabs)
	cmd.Printf("Chunks:  %d stored, %d vectors live\n", stats.TotalChunks, stats.IndexSize)

	return nil
}
