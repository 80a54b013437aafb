package domain

import "fmt"

// ModelVariant selects the weight file flavour for an embedding model.
type ModelVariant string

const (
	// VariantFull is the uncompressed float32 weight file.
	VariantFull ModelVariant = "full"

	// VariantQuantized is the int8-quantised weight file.
	VariantQuantized ModelVariant = "quantized"

	// VariantCompressed is the size-optimised weight file.
	VariantCompressed ModelVariant = "compressed"
)

// ModelConfig identifies the active embedding model. Vectors produced by
// different configs are never comparable: any identity change invalidates
// every stored vector, and a dimension change additionally forces a
// structural rebuild of the vector index.
type ModelConfig struct {
	// Preset is the model preset name, e.g. "minilm-l6".
	Preset string `json:"preset" toml:"preset"`

	// Variant selects the weight file flavour.
	Variant ModelVariant `json:"variant" toml:"variant"`

	// Dimension is the length of vectors the model produces.
	Dimension int `json:"dimension" toml:"dimension"`
}

// Identity returns the string that distinguishes incompatible models.
// It participates in embedding-cache keys.
func (c ModelConfig) Identity() string {
	return fmt.Sprintf("%s/%s/%d", c.Preset, c.Variant, c.Dimension)
}

// Equal reports whether two configs identify the same model.
func (c ModelConfig) Equal(other ModelConfig) bool {
	return c.Preset == other.Preset &&
		c.Variant == other.Variant &&
		c.Dimension == other.Dimension
}

// DefaultModelConfig is the model loaded when nothing is configured.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{Preset: "minilm-l6", Variant: VariantQuantized, Dimension: 384}
}

// Validate checks the config is usable.
func (c ModelConfig) Validate() error {
	if c.Preset == "" {
		return fmt.Errorf("%w: model preset is required", ErrInvalidInput)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: model dimension must be positive", ErrInvalidInput)
	}
	switch c.Variant {
	case VariantFull, VariantQuantized, VariantCompressed:
		return nil
	default:
		return fmt.Errorf("%w: unknown model variant %q", ErrInvalidInput, c.Variant)
	}
}

// EngineState is the embedding-engine lifecycle state.
type EngineState string

const (
	// EngineIdle means no model has been requested yet.
	EngineIdle EngineState = "idle"

	// EngineDownloading means the model binary is being fetched.
	EngineDownloading EngineState = "downloading"

	// EngineInitializing means the runtime is loading the model.
	EngineInitializing EngineState = "initializing"

	// EngineReady means embeddings can be requested.
	EngineReady EngineState = "ready"

	// EngineError means the last initialization failed.
	EngineError EngineState = "error"
)

// EngineStatus is the user-visible engine state snapshot. Progress is a
// fraction in [0,1] and never decreases within one initialization.
type EngineStatus struct {
	State    EngineState `json:"state"`
	Progress float64     `json:"progress"`
	Model    ModelConfig `json:"model"`
	Error    string      `json:"error,omitempty"`
	// ErrorKind distinguishes network from file failures so the UI can
	// suggest "check connectivity" versus "re-download".
	ErrorKind ModelLoadErrorKind `json:"error_kind,omitempty"`
}

// IndexStats is the read-only introspection snapshot exposed to tools.
type IndexStats struct {
	// IndexedTabs counts tabs in the ready state.
	IndexedTabs int `json:"indexed_tabs"`

	// TotalTabs counts all tabs with any bookkeeping state.
	TotalTabs int `json:"total_tabs"`

	// TotalChunks counts chunks held in the chunk store.
	TotalChunks int `json:"total_chunks"`

	// IndexSize is the number of live vectors in the index.
	IndexSize int `json:"index_size"`

	// EngineReady reports whether semantic search is available.
	EngineReady bool `json:"engine_ready"`
}

// CacheStats summarises the model-binary cache.
type CacheStats struct {
	// Entries is the number of cached model binaries.
	Entries int `json:"entries"`

	// TotalBytes is the summed size of all cached binaries.
	TotalBytes int64 `json:"total_bytes"`
}
