package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tablens/tablens-cli/internal/adapters/driven/content/spool"
	"github.com/tablens/tablens-cli/internal/adapters/driving/mcp"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
	"github.com/tablens/tablens-cli/internal/logger"
)

var (
	servePort     int
	serveSpoolDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tab indexer and MCP server",
	Long: `Start the long-running Tablens daemon. It watches the browser
extension's snapshot spool for tab content, keeps the semantic index
up to date, and serves the Model Context Protocol for AI assistants.

By default, MCP communicates over stdio using JSON-RPC and can be used
with Claude Desktop and other MCP-compatible AI assistants.

Use --port to serve MCP over HTTP instead, which enables:
  - Testing with MCP Inspector web UI
  - Remote access via HTTP

Examples:
  # Stdio mode (default, for Claude Desktop)
  tablens serve

  # HTTP mode (for MCP Inspector, remote access)
  tablens serve --port 8080

Claude Desktop configuration (claude_desktop_config.json):
  {
    "mcpServers": {
      "tablens": {
        "command": "/path/to/tablens",
        "args": ["serve"]
      }
    }
  }`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port for MCP (0 = use stdio)")
	serveCmd.Flags().StringVar(&serveSpoolDir, "spool-dir", "", "tab snapshot spool directory (default ~/.tablens/spool)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureServices(ctx); err != nil {
		return err
	}
	if application != nil {
		defer application.close()
	}

	spoolDir := serveSpoolDir
	if spoolDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		spoolDir = filepath.Join(home, ".tablens", "spool")
	}

	watcher, err := spool.NewWatcher(spoolDir)
	if err != nil {
		return fmt.Errorf("creating spool watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("starting spool watcher: %w", err)
	}
	defer watcher.Close()

	ports := &mcp.Ports{
		Search: searchService,
		Admin:  indexerAdmin,
		Engine: engineControl,
	}
	server, err := mcp.NewServer(ports)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// The engine warms up in the background; MCP is available immediately
	// and search reports unavailable until the model is ready.
	if application != nil {
		model, err := activeModel(ctx, application.config, application.store)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := application.engine.Initialize(ctx, model); err != nil {
				logger.Warn("engine initialisation failed: %v", err)
			}
			return nil
		})
		application.sweeper.Start(ctx)
	}

	g.Go(func() error {
		consumeTabEvents(ctx, watcher.Events())
		return nil
	})

	g.Go(func() error {
		if servePort > 0 {
			addr := fmt.Sprintf(":%d", servePort)
			fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on http://localhost%s\n", addr)
			return server.RunHTTP(ctx, addr)
		}
		return server.Run(ctx)
	})

	return g.Wait()
}

// consumeTabEvents feeds spool events into the indexer. Events are handled
// sequentially so updates for the same tab apply in arrival order.
func consumeTabEvents(ctx context.Context, events <-chan driven.TabEvent) {
	indexer := tabIndexer
	if indexer == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case driven.TabEventContent:
				if ev.Content == nil {
					continue
				}
				if err := indexer.HandleContent(ctx, *ev.Content); err != nil {
					logger.Warn("indexing tab %d: %v", ev.TabID, err)
				}
			case driven.TabEventRemoved:
				if err := indexer.HandleTabRemoved(ctx, ev.TabID); err != nil {
					logger.Warn("removing tab %d: %v", ev.TabID, err)
				}
			}
		}
	}
}
