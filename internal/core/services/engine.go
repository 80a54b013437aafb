package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/tablens/tablens-cli/internal/cache"
	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
	"github.com/tablens/tablens-cli/internal/logger"
)

const (
	defaultEmbedTimeout = 30 * time.Second
	defaultLoadTimeout  = 5 * time.Minute
)

// ModelSource is a resolved download location for a model artifact.
type ModelSource struct {
	URL     string
	Version string
}

// ModelResolver maps a model configuration to the artifact that backs it.
type ModelResolver func(domain.ModelConfig) (ModelSource, error)

// InvalidateFunc is called when a model switch makes previously computed
// vectors stale. Implementations must drop the stale data before the new
// model is loaded.
type InvalidateFunc func(ctx context.Context, old, next domain.ModelConfig) error

// SemanticEngine owns the embedding model lifecycle: download, load,
// readiness, switching, and the embedding call path with caching.
type SemanticEngine struct {
	runtime driven.InferenceRuntime
	models  driven.ModelCache
	cfgs    driven.ModelConfigStore
	cache   *cache.EmbeddingCache
	resolve ModelResolver

	embedTimeout time.Duration
	loadTimeout  time.Duration

	mu          sync.Mutex
	state       domain.EngineState
	progress    float64
	model       domain.ModelConfig
	lastErr     error
	lastErrKind domain.ModelLoadErrorKind
	inflight    chan struct{}
	onStatus    func(domain.EngineStatus)
	invalidate  []InvalidateFunc
}

// EngineOption configures a SemanticEngine.
type EngineOption func(*SemanticEngine)

// WithEmbedTimeout bounds individual embedding calls.
func WithEmbedTimeout(d time.Duration) EngineOption {
	return func(e *SemanticEngine) { e.embedTimeout = d }
}

// WithLoadTimeout bounds a full model download and load cycle.
func WithLoadTimeout(d time.Duration) EngineOption {
	return func(e *SemanticEngine) { e.loadTimeout = d }
}

// WithModelResolver overrides the preset-to-URL mapping.
func WithModelResolver(r ModelResolver) EngineOption {
	return func(e *SemanticEngine) { e.resolve = r }
}

// NewSemanticEngine wires an engine over an inference runtime, a model
// artifact cache, and a persisted model configuration store.
func NewSemanticEngine(
	runtime driven.InferenceRuntime,
	models driven.ModelCache,
	cfgs driven.ModelConfigStore,
	embedCache *cache.EmbeddingCache,
	opts ...EngineOption,
) *SemanticEngine {
	e := &SemanticEngine{
		runtime:      runtime,
		models:       models,
		cfgs:         cfgs,
		cache:        embedCache,
		resolve:      defaultResolver,
		embedTimeout: defaultEmbedTimeout,
		loadTimeout:  defaultLoadTimeout,
		state:        domain.EngineIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ interface {
	Status() domain.EngineStatus
	Initialize(ctx context.Context, cfg domain.ModelConfig) error
	SwitchModel(ctx context.Context, cfg domain.ModelConfig) error
} = (*SemanticEngine)(nil)

// defaultResolver maps the built-in presets onto the public model mirror.
func defaultResolver(cfg domain.ModelConfig) (ModelSource, error) {
	url := fmt.Sprintf("https://models.tablens.dev/%s/%s-%s.onnx",
		cfg.Preset, cfg.Preset, cfg.Variant)
	return ModelSource{URL: url, Version: "1"}, nil
}

// OnInvalidate registers a callback fired during a model switch, before the
// new model loads. Callbacks run in registration order; an error aborts the
// switch.
func (e *SemanticEngine) OnInvalidate(fn InvalidateFunc) {
	e.mu.Lock()
	e.invalidate = append(e.invalidate, fn)
	e.mu.Unlock()
}

// SetStatusCallback installs an observer for engine status transitions.
// Only one observer is active at a time.
func (e *SemanticEngine) SetStatusCallback(fn func(domain.EngineStatus)) {
	e.mu.Lock()
	e.onStatus = fn
	e.mu.Unlock()
}

// Status returns a snapshot of the engine state.
func (e *SemanticEngine) Status() domain.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *SemanticEngine) statusLocked() domain.EngineStatus {
	st := domain.EngineStatus{
		State:    e.state,
		Progress: e.progress,
		Model:    e.model,
	}
	if e.lastErr != nil {
		st.Error = e.lastErr.Error()
		st.ErrorKind = e.lastErrKind
	}
	return st
}

// Ready reports whether embedding calls can be served.
func (e *SemanticEngine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == domain.EngineReady
}

// ActiveModel returns the configuration of the currently loaded model.
func (e *SemanticEngine) ActiveModel() domain.ModelConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// Initialize downloads (if needed) and loads the model described by cfg.
// If an initialization is already in flight the call waits for it to reach
// a terminal state before proceeding. Re-initializing with the currently
// loaded configuration is a no-op.
func (e *SemanticEngine) Initialize(ctx context.Context, cfg domain.ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.acquireInit(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	if e.state == domain.EngineReady && e.model.Equal(cfg) {
		e.releaseInitLocked()
		e.mu.Unlock()
		logger.Debug("engine: model %s already loaded", cfg.Identity())
		return nil
	}
	e.mu.Unlock()

	return e.loadModel(ctx, cfg)
}

// SwitchModel replaces the active model with cfg. Data derived from the old
// model is invalidated through the registered callbacks before the new model
// loads. Switching to the already-active configuration is a no-op.
func (e *SemanticEngine) SwitchModel(ctx context.Context, cfg domain.ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.acquireInit(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	old := e.model
	if e.state == domain.EngineReady && old.Equal(cfg) {
		e.releaseInitLocked()
		e.mu.Unlock()
		logger.Debug("engine: switch to %s is a no-op", cfg.Identity())
		return nil
	}
	callbacks := make([]InvalidateFunc, len(e.invalidate))
	copy(callbacks, e.invalidate)
	e.mu.Unlock()

	if e.cache != nil {
		e.cache.Purge()
	}
	for _, fn := range callbacks {
		if err := fn(ctx, old, cfg); err != nil {
			e.failInit(cfg, domain.LoadErrUnknown, fmt.Errorf("invalidating stale vectors: %w", err))
			return fmt.Errorf("invalidating stale vectors: %w", err)
		}
	}
	logger.Info("engine: switching model %s -> %s", old.Identity(), cfg.Identity())

	return e.loadModel(ctx, cfg)
}

// acquireInit waits for any in-flight initialization to terminate, then
// claims the init slot for the caller.
func (e *SemanticEngine) acquireInit(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.inflight == nil {
			e.inflight = make(chan struct{})
			e.mu.Unlock()
			return nil
		}
		ch := e.inflight
		e.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *SemanticEngine) releaseInitLocked() {
	if e.inflight != nil {
		close(e.inflight)
		e.inflight = nil
	}
}

// loadModel runs the download/load cycle for cfg. The caller must hold the
// init slot; it is released on every exit path.
func (e *SemanticEngine) loadModel(ctx context.Context, cfg domain.ModelConfig) error {
	ctx, cancel := context.WithTimeout(ctx, e.loadTimeout)
	defer cancel()

	src, err := e.resolve(cfg)
	if err != nil {
		return e.failInit(cfg, domain.LoadErrFile, fmt.Errorf("resolving model %s: %w", cfg.Identity(), err))
	}

	e.setState(domain.EngineDownloading, 0, cfg)
	path, err := e.models.Ensure(ctx, src.URL, src.Version, func(done, total int64) {
		if total > 0 {
			// Download accounts for the first 70% of the reported progress.
			e.setProgress(0.70 * float64(done) / float64(total))
		}
	})
	if err != nil {
		return e.failInit(cfg, domain.LoadErrNetwork, fmt.Errorf("fetching model %s: %w", cfg.Identity(), err))
	}

	e.setState(domain.EngineInitializing, 0.75, cfg)
	if err := e.runtime.LoadModel(ctx, path, cfg); err != nil {
		return e.failInit(cfg, domain.LoadErrFile, fmt.Errorf("loading model %s: %w", cfg.Identity(), err))
	}
	if dims := e.runtime.Dimensions(); dims != cfg.Dimension {
		return e.failInit(cfg, domain.LoadErrFile,
			fmt.Errorf("model %s produces %d-dimensional vectors, expected %d", cfg.Identity(), dims, cfg.Dimension))
	}

	if e.cfgs != nil {
		if err := e.cfgs.Save(ctx, cfg); err != nil {
			logger.Warn("engine: persisting model config: %v", err)
		}
	}

	e.mu.Lock()
	e.state = domain.EngineReady
	e.progress = 1
	e.model = cfg
	e.lastErr = nil
	e.lastErrKind = ""
	st := e.statusLocked()
	cb := e.onStatus
	e.releaseInitLocked()
	e.mu.Unlock()
	if cb != nil {
		cb(st)
	}
	logger.Info("engine: model %s ready", cfg.Identity())
	return nil
}

// failInit records a terminal error state and releases the init slot.
func (e *SemanticEngine) failInit(cfg domain.ModelConfig, kind domain.ModelLoadErrorKind, err error) error {
	var mlErr *domain.ModelLoadError
	if !errors.As(err, &mlErr) {
		mlErr = domain.NewModelLoadError(kind, cfg, err)
	}

	e.mu.Lock()
	e.state = domain.EngineError
	e.lastErr = mlErr
	e.lastErrKind = mlErr.Kind
	st := e.statusLocked()
	cb := e.onStatus
	e.releaseInitLocked()
	e.mu.Unlock()
	if cb != nil {
		cb(st)
	}
	logger.Warn("engine: %v", mlErr)
	return mlErr
}

func (e *SemanticEngine) setState(state domain.EngineState, progress float64, cfg domain.ModelConfig) {
	e.mu.Lock()
	e.state = state
	if progress > e.progress || state == domain.EngineDownloading {
		e.progress = progress
	}
	e.model = cfg
	st := e.statusLocked()
	cb := e.onStatus
	e.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// setProgress raises the reported progress; it never moves backwards within
// a load cycle.
func (e *SemanticEngine) setProgress(p float64) {
	e.mu.Lock()
	if p <= e.progress {
		e.mu.Unlock()
		return
	}
	e.progress = p
	st := e.statusLocked()
	cb := e.onStatus
	e.mu.Unlock()
	if cb != nil {
		cb(st)
	}
}

// Embed produces a vector for a single text, serving from the embedding
// cache when the same text was embedded under the active model before.
func (e *SemanticEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order. Cached entries are reused; the remaining
// texts go to the runtime in a single call. Any runtime failure fails the
// whole batch.
func (e *SemanticEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	if e.state != domain.EngineReady {
		e.mu.Unlock()
		return nil, domain.ErrEngineNotReady
	}
	identity := e.model.Identity()
	e.mu.Unlock()

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if e.cache != nil {
			if vec, ok := e.cache.Get(cache.Key(identity, text)); ok {
				results[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missIdx) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.embedTimeout)
	defer cancel()

	vecs, err := e.runtime.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, &domain.EmbeddingBatchError{Index: -1, Err: err}
	}
	if len(vecs) != len(missTexts) {
		return nil, &domain.EmbeddingBatchError{
			Index: -1,
			Err:   fmt.Errorf("runtime returned %d vectors for %d texts", len(vecs), len(missTexts)),
		}
	}
	for j, i := range missIdx {
		results[i] = vecs[j]
		if e.cache != nil {
			e.cache.Put(cache.Key(identity, texts[i]), vecs[j])
		}
	}
	return results, nil
}

// Similarity computes cosine similarity between two vectors of equal length.
func (e *SemanticEngine) Similarity(a, b []float32) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, domain.ErrDimensionMismatch
	}
	fa := make([]float64, len(a))
	fb := make([]float64, len(b))
	for i := range a {
		fa[i] = float64(a[i])
		fb[i] = float64(b[i])
	}
	na := floats.Norm(fa, 2)
	nb := floats.Norm(fb, 2)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return floats.Dot(fa, fb) / (na * nb), nil
}

// Close releases the inference runtime.
func (e *SemanticEngine) Close() error {
	e.mu.Lock()
	e.state = domain.EngineIdle
	e.progress = 0
	e.mu.Unlock()
	return e.runtime.Close()
}
