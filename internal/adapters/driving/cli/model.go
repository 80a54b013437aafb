package cli

import (
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

var (
	modelVariant   string
	modelDimension int
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Embedding model commands",
	Long:  `Commands for managing the embedding model used for semantic search.`,
}

var modelUseCmd = &cobra.Command{
	Use:   "use [preset]",
	Short: "Download and switch to an embedding model",
	Long: `Downloads the model binary if needed and makes it the active model.
Switching to a different model invalidates all indexed vectors; tabs are
re-indexed on their next content update.`,
	Args: cobra.ExactArgs(1),
	RunE: runModelUse,
}

func init() {
	modelUseCmd.Flags().StringVar(&modelVariant, "variant", string(domain.VariantQuantized), "model variant (full, quantized, compressed)")
	modelUseCmd.Flags().IntVar(&modelDimension, "dimension", 384, "embedding dimension of the model")
	modelCmd.AddCommand(modelUseCmd)
	rootCmd.AddCommand(modelCmd)
}

func runModelUse(cmd *cobra.Command, args []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}
	if engineControl == nil {
		return errors.New("engine not configured")
	}

	cfg := domain.ModelConfig{
		Preset:    args[0],
		Variant:   domain.ModelVariant(modelVariant),
		Dimension: modelDimension,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	done := attachProgressBar(cmd)
	defer done()

	var err error
	if st := engineControl.Status(); st.State == domain.EngineIdle {
		err = engineControl.Initialize(cmd.Context(), cfg)
	} else {
		err = engineControl.SwitchModel(cmd.Context(), cfg)
	}
	if err != nil {
		var loadErr *domain.ModelLoadError
		if errors.As(err, &loadErr) && loadErr.Kind == domain.LoadErrNetwork {
			return fmt.Errorf("downloading %s failed, check connectivity: %w", cfg.Identity(), err)
		}
		return fmt.Errorf("loading %s: %w", cfg.Identity(), err)
	}

	cmd.Printf("Model %s is ready.\n", cfg.Identity())
	return nil
}

// attachProgressBar renders engine progress while a model loads. The
// returned function detaches the observer and finishes the bar.
func attachProgressBar(cmd *cobra.Command) func() {
	engine, ok := engineControl.(interface {
		SetStatusCallback(func(domain.EngineStatus))
	})
	if !ok {
		return func() {}
	}

	bar := progressbar.NewOptions(1000,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("loading model"),
		progressbar.OptionSetWidth(32),
		progressbar.OptionClearOnFinish(),
	)
	engine.SetStatusCallback(func(st domain.EngineStatus) {
		_ = bar.Set(int(st.Progress * 1000))
	})
	return func() {
		engine.SetStatusCallback(nil)
		_ = bar.Finish()
	}
}
