package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

var (
	searchMaxTabs     int
	searchMaxSnippets int
	searchJSON        bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the content of your open tabs",
	Long: `Performs a semantic search across all indexed browser tabs.
The query is matched against page content by meaning rather than exact
keywords, so "that article about pasta" finds the recipe tab.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchMaxTabs, "tabs", "n", 5, "maximum number of tabs to return")
	searchCmd.Flags().IntVar(&searchMaxSnippets, "snippets", 3, "maximum snippets per tab (1-3)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}
	if searchService == nil {
		return errors.New("search service not configured")
	}

	opts := domain.SearchOptions{
		MaxTabs:     searchMaxTabs,
		MaxSnippets: searchMaxSnippets,
	}

	resp, err := searchService.SearchTabs(cmd.Context(), query, opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, resp)
	}

	return outputSearchTable(cmd, resp)
}

func outputSearchJSON(cmd *cobra.Command, resp *domain.SearchResponse) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, resp *domain.SearchResponse) error {
	if resp.Status != domain.SearchOK {
		cmd.Printf("Search %s: %s\n", resp.Status, resp.StatusDetail)
	}

	if len(resp.Matches) == 0 {
		cmd.Println("No matching tabs found.")
		return nil
	}

	cmd.Printf("Matched %d of %d indexed tabs:\n", len(resp.Matches), resp.TotalTabsSearched)
	cmd.Println()
	for i := range resp.Matches {
		m := &resp.Matches[i]
		title := m.Title
		if title == "" {
			title = m.URL
		}

		cmd.Printf("  [%d] %s (%.2f)\n", i+1, title, m.Score)
		cmd.Printf("      Tab %d: %s\n", m.TabID, m.URL)
		for _, sn := range m.Snippets {
			cmd.Printf("      %s\n", sn.Text)
		}
		cmd.Println()
	}

	return nil
}
