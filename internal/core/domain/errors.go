package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEngineNotReady indicates an embedding was requested before the
	// engine reached the ready state. Callers treat semantic search as
	// temporarily unavailable rather than failing.
	ErrEngineNotReady = errors.New("embedding engine not ready")

	// ErrIndexCorrupt indicates the persisted vector index failed to
	// deserialize. Recovery is rebuilding an empty index, not crashing.
	ErrIndexCorrupt = errors.New("vector index corrupt")

	// ErrStorageQuota indicates a cache or index write exceeded available
	// storage. An eviction pass and a single retry follow; if the write
	// still fails it is dropped and logged.
	ErrStorageQuota = errors.New("storage quota exceeded")

	// ErrDimensionMismatch indicates a vector's length does not match the
	// index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrIndexClosed indicates an operation on a closed vector index.
	ErrIndexClosed = errors.New("vector index closed")
)

// ModelLoadErrorKind classifies model load failures for remediation hints.
type ModelLoadErrorKind string

const (
	// LoadErrNetwork means the model download failed; check connectivity.
	LoadErrNetwork ModelLoadErrorKind = "network"

	// LoadErrFile means the binary is malformed or unsupported; re-download.
	LoadErrFile ModelLoadErrorKind = "file"

	// LoadErrUnknown covers everything else.
	LoadErrUnknown ModelLoadErrorKind = "unknown"
)

// ModelLoadError reports a model download or parse failure.
type ModelLoadError struct {
	Kind  ModelLoadErrorKind
	Model ModelConfig
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("loading model %s (%s): %v", e.Model.Identity(), e.Kind, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// NewModelLoadError wraps err with its classification.
func NewModelLoadError(kind ModelLoadErrorKind, model ModelConfig, err error) *ModelLoadError {
	return &ModelLoadError{Kind: kind, Model: model, Err: err}
}

// EmbeddingBatchError reports a failed batch embedding call. The whole
// batch is rejected when any single item fails, so chunk-to-vector
// bookkeeping downstream can never misalign.
type EmbeddingBatchError struct {
	// Index is the position of the offending text, or -1 when the failure
	// is not attributable to one item.
	Index int
	Err   error
}

func (e *EmbeddingBatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("embedding batch failed: %v", e.Err)
	}
	return fmt.Sprintf("embedding batch failed at item %d: %v", e.Index, e.Err)
}

func (e *EmbeddingBatchError) Unwrap() error { return e.Err }
