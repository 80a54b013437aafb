package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablens/tablens-cli/internal/core/domain"
)

func TestModelUseCmd_InitializesIdleEngine(t *testing.T) {
	_, _, engine, cleanup := setupTestServices()
	defer cleanup()

	engine.status = domain.EngineStatus{State: domain.EngineIdle}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"model", "use", "minilm-l6"})
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()

	require.NoError(t, err)
	assert.True(t, engine.initialized)
	assert.False(t, engine.switched)
	assert.Contains(t, buf.String(), "minilm-l6/quantized/384 is ready")
}

func TestModelUseCmd_SwitchesRunningEngine(t *testing.T) {
	_, _, engine, cleanup := setupTestServices()
	defer cleanup()

	engine.status = domain.EngineStatus{State: domain.EngineReady}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"model", "use", "mpnet-base", "--dimension", "768"})
	defer func() {
		rootCmd.SetArgs(nil)
		modelDimension = 384
	}()

	err := rootCmd.Execute()

	require.NoError(t, err)
	assert.True(t, engine.switched)
	assert.False(t, engine.initialized)
	assert.Contains(t, buf.String(), "mpnet-base/quantized/768 is ready")
}

func TestModelUseCmd_RejectsUnknownVariant(t *testing.T) {
	_, _, engine, cleanup := setupTestServices()
	defer cleanup()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"model", "use", "minilm-l6", "--variant", "tiny"})
	defer func() {
		rootCmd.SetArgs(nil)
		modelVariant = string(domain.VariantQuantized)
	}()

	err := rootCmd.Execute()

	assert.Error(t, err)
	assert.False(t, engine.initialized)
	assert.False(t, engine.switched)
}

func TestModelUseCmd_SuggestsConnectivityCheckOnNetworkFailure(t *testing.T) {
	_, _, engine, cleanup := setupTestServices()
	defer cleanup()

	engine.status = domain.EngineStatus{State: domain.EngineIdle}
	engine.err = domain.NewModelLoadError(domain.LoadErrNetwork,
		domain.ModelConfig{Preset: "minilm-l6", Variant: domain.VariantQuantized, Dimension: 384},
		assert.AnError)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"model", "use", "minilm-l6"})
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "check connectivity")
}
