package services

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablens/tablens-cli/internal/adapters/driven/storage/memory"
	"github.com/tablens/tablens-cli/internal/cache"
	"github.com/tablens/tablens-cli/internal/core/domain"
)

// fakeRuntime is a deterministic in-process inference runtime. Vectors are
// derived from a hash of the text so equal texts embed equally.
type fakeRuntime struct {
	mu         sync.Mutex
	dims       int
	loadErr    error
	embedErr   error
	loaded     string
	embedCalls int
	embedTexts []string
}

func newFakeRuntime(dims int) *fakeRuntime {
	return &fakeRuntime{dims: dims}
}

func (r *fakeRuntime) LoadModel(_ context.Context, path string, _ domain.ModelConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return r.loadErr
	}
	r.loaded = path
	return nil
}

func (r *fakeRuntime) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedCalls++
	r.embedTexts = append(r.embedTexts, texts...)
	if r.embedErr != nil {
		return nil, r.embedErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = deterministicVector(text, r.dims)
	}
	return out, nil
}

func (r *fakeRuntime) Dimensions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dims
}

func (r *fakeRuntime) Ping(context.Context) error { return nil }
func (r *fakeRuntime) Close() error               { return nil }

func (r *fakeRuntime) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.embedCalls
}

func deterministicVector(text string, dims int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dims)
	for i := range vec {
		word := binary.LittleEndian.Uint32(sum[(i*4)%28:])
		vec[i] = float32(word%1000)/1000 + 0.001
		sum = sha256.Sum256(sum[:])
	}
	return vec
}

// fakeModelCache hands out a fixed path without touching the network.
type fakeModelCache struct {
	mu        sync.Mutex
	path      string
	err       error
	ensures   int
	progress  []float64
	emitSteps []int64 // bytes-done values emitted against a total of 100
}

func (c *fakeModelCache) Ensure(_ context.Context, _, _ string, progress func(done, total int64)) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensures++
	if c.err != nil {
		return "", c.err
	}
	if progress != nil {
		for _, done := range c.emitSteps {
			progress(done, 100)
		}
	}
	return c.path, nil
}

func (c *fakeModelCache) Stats(context.Context) (domain.CacheStats, error) {
	return domain.CacheStats{}, nil
}
func (c *fakeModelCache) EvictExpired(context.Context) (int, error) { return 0, nil }
func (c *fakeModelCache) Clear(context.Context) error               { return nil }

func testModelConfig() domain.ModelConfig {
	return domain.ModelConfig{Preset: "minilm-l6", Variant: domain.VariantQuantized, Dimension: 4}
}

func newTestEngine(t *testing.T, runtime *fakeRuntime, models *fakeModelCache) *SemanticEngine {
	t.Helper()
	if models.path == "" {
		models.path = t.TempDir() + "/model.onnx"
	}
	return NewSemanticEngine(runtime, models, memory.NewModelConfigStore(), cache.NewEmbeddingCache(128))
}

func TestInitializeReachesReady(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeRuntime(4), &fakeModelCache{})

	assert.Equal(t, domain.EngineIdle, engine.Status().State)
	require.NoError(t, engine.Initialize(ctx, testModelConfig()))

	status := engine.Status()
	assert.Equal(t, domain.EngineReady, status.State)
	assert.Equal(t, 1.0, status.Progress)
	assert.True(t, engine.Ready())
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	engine := newTestEngine(t, newFakeRuntime(4), &fakeModelCache{})
	err := engine.Initialize(context.Background(), domain.ModelConfig{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestInitializeSameConfigIsNoOp(t *testing.T) {
	ctx := context.Background()
	models := &fakeModelCache{}
	engine := newTestEngine(t, newFakeRuntime(4), models)

	require.NoError(t, engine.Initialize(ctx, testModelConfig()))
	require.NoError(t, engine.Initialize(ctx, testModelConfig()))
	assert.Equal(t, 1, models.ensures)
}

func TestInitializeNetworkFailureClassified(t *testing.T) {
	engine := newTestEngine(t, newFakeRuntime(4), &fakeModelCache{err: errors.New("connection refused")})

	err := engine.Initialize(context.Background(), testModelConfig())
	require.Error(t, err)

	var mlErr *domain.ModelLoadError
	require.ErrorAs(t, err, &mlErr)
	assert.Equal(t, domain.LoadErrNetwork, mlErr.Kind)

	status := engine.Status()
	assert.Equal(t, domain.EngineError, status.State)
	assert.Equal(t, domain.LoadErrNetwork, status.ErrorKind)
	assert.False(t, engine.Ready())
}

func TestInitializeBadFileClassified(t *testing.T) {
	runtime := newFakeRuntime(4)
	runtime.loadErr = errors.New("unsupported weight layout")
	engine := newTestEngine(t, runtime, &fakeModelCache{})

	err := engine.Initialize(context.Background(), testModelConfig())
	var mlErr *domain.ModelLoadError
	require.ErrorAs(t, err, &mlErr)
	assert.Equal(t, domain.LoadErrFile, mlErr.Kind)
}

func TestInitializeDimensionMismatchFails(t *testing.T) {
	// Runtime produces 8-dim vectors but the config promises 4.
	engine := newTestEngine(t, newFakeRuntime(8), &fakeModelCache{})

	err := engine.Initialize(context.Background(), testModelConfig())
	var mlErr *domain.ModelLoadError
	require.ErrorAs(t, err, &mlErr)
	assert.Equal(t, domain.LoadErrFile, mlErr.Kind)
}

func TestProgressIsMonotonic(t *testing.T) {
	models := &fakeModelCache{emitSteps: []int64{10, 50, 30, 90}}
	engine := newTestEngine(t, newFakeRuntime(4), models)

	var mu sync.Mutex
	var seen []float64
	engine.SetStatusCallback(func(st domain.EngineStatus) {
		mu.Lock()
		seen = append(seen, st.Progress)
		mu.Unlock()
	})

	require.NoError(t, engine.Initialize(context.Background(), testModelConfig()))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1], "progress went backwards at step %d", i)
	}
	assert.Equal(t, 1.0, seen[len(seen)-1])
}

func TestEmbedBeforeReadyFails(t *testing.T) {
	engine := newTestEngine(t, newFakeRuntime(4), &fakeModelCache{})
	_, err := engine.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrEngineNotReady)
}

func TestEmbedCacheHitSkipsRuntime(t *testing.T) {
	ctx := context.Background()
	runtime := newFakeRuntime(4)
	engine := newTestEngine(t, runtime, &fakeModelCache{})
	require.NoError(t, engine.Initialize(ctx, testModelConfig()))

	first, err := engine.Embed(ctx, "the same text")
	require.NoError(t, err)
	callsAfterFirst := runtime.calls()

	second, err := engine.Embed(ctx, "the same text")
	require.NoError(t, err)

	assert.Equal(t, callsAfterFirst, runtime.calls(), "second embed should be served from cache")
	assert.Equal(t, first, second)
}

func TestEmbedBatchPreservesOrderWithCacheHits(t *testing.T) {
	ctx := context.Background()
	runtime := newFakeRuntime(4)
	engine := newTestEngine(t, runtime, &fakeModelCache{})
	require.NoError(t, engine.Initialize(ctx, testModelConfig()))

	// Warm the cache with the middle text only.
	cached, err := engine.Embed(ctx, "beta")
	require.NoError(t, err)

	vecs, err := engine.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, cached, vecs[1])
	assert.Equal(t, deterministicVector("alpha", 4), vecs[0])
	assert.Equal(t, deterministicVector("gamma", 4), vecs[2])
}

func TestEmbedBatchFailureFailsWholeBatch(t *testing.T) {
	ctx := context.Background()
	runtime := newFakeRuntime(4)
	engine := newTestEngine(t, runtime, &fakeModelCache{})
	require.NoError(t, engine.Initialize(ctx, testModelConfig()))

	runtime.mu.Lock()
	runtime.embedErr = errors.New("tokeniser choked")
	runtime.mu.Unlock()

	_, err := engine.EmbedBatch(ctx, []string{"a", "b"})
	var batchErr *domain.EmbeddingBatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, -1, batchErr.Index)
}

func TestSwitchModelNoOpOnIdenticalConfig(t *testing.T) {
	ctx := context.Background()
	models := &fakeModelCache{}
	engine := newTestEngine(t, newFakeRuntime(4), models)
	require.NoError(t, engine.Initialize(ctx, testModelConfig()))

	invalidated := false
	engine.OnInvalidate(func(context.Context, domain.ModelConfig, domain.ModelConfig) error {
		invalidated = true
		return nil
	})

	require.NoError(t, engine.SwitchModel(ctx, testModelConfig()))
	assert.False(t, invalidated, "identical config must not invalidate")
	assert.Equal(t, 1, models.ensures)
}

func TestSwitchModelInvalidatesAndPurgesCache(t *testing.T) {
	ctx := context.Background()
	runtime := newFakeRuntime(4)
	engine := newTestEngine(t, runtime, &fakeModelCache{})
	require.NoError(t, engine.Initialize(ctx, testModelConfig()))

	_, err := engine.Embed(ctx, "warm")
	require.NoError(t, err)
	callsBefore := runtime.calls()

	var gotOld, gotNew domain.ModelConfig
	engine.OnInvalidate(func(_ context.Context, old, next domain.ModelConfig) error {
		gotOld, gotNew = old, next
		return nil
	})

	next := domain.ModelConfig{Preset: "minilm-l6", Variant: domain.VariantFull, Dimension: 4}
	require.NoError(t, engine.SwitchModel(ctx, next))

	assert.True(t, gotOld.Equal(testModelConfig()))
	assert.True(t, gotNew.Equal(next))
	assert.True(t, next.Equal(engine.ActiveModel()))

	// The old cache entry must not survive the switch.
	_, err = engine.Embed(ctx, "warm")
	require.NoError(t, err)
	assert.Greater(t, runtime.calls(), callsBefore)
}

func TestSwitchModelAbortsWhenInvalidationFails(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, newFakeRuntime(4), &fakeModelCache{})
	require.NoError(t, engine.Initialize(ctx, testModelConfig()))

	engine.OnInvalidate(func(context.Context, domain.ModelConfig, domain.ModelConfig) error {
		return errors.New("index refused to clear")
	})

	next := domain.ModelConfig{Preset: "mpnet-base", Variant: domain.VariantFull, Dimension: 4}
	err := engine.SwitchModel(ctx, next)
	require.Error(t, err)
	assert.Equal(t, domain.EngineError, engine.Status().State)
}

func TestConcurrentInitializeWaitsForInflight(t *testing.T) {
	ctx := context.Background()
	models := &fakeModelCache{}
	engine := newTestEngine(t, newFakeRuntime(4), models)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = engine.Initialize(ctx, testModelConfig())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "goroutine %d", i)
	}
	assert.Equal(t, domain.EngineReady, engine.Status().State)
	assert.Equal(t, 1, models.ensures, "only one caller should run the download")
}

func TestSimilarity(t *testing.T) {
	engine := newTestEngine(t, newFakeRuntime(4), &fakeModelCache{})

	sim, err := engine.Similarity([]float32{1, 0, 0}, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = engine.Similarity([]float32{1, 0, 0}, []float32{0, 1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	_, err = engine.Similarity([]float32{1, 0}, []float32{1, 0, 0})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestPersistedConfigSurvivesInitialize(t *testing.T) {
	ctx := context.Background()
	cfgs := memory.NewModelConfigStore()
	engine := NewSemanticEngine(newFakeRuntime(4), &fakeModelCache{path: t.TempDir() + "/m.onnx"}, cfgs, cache.NewEmbeddingCache(16))

	require.NoError(t, engine.Initialize(ctx, testModelConfig()))

	saved, err := cfgs.Get(ctx)
	require.NoError(t, err)
	assert.True(t, saved.Equal(testModelConfig()))
}

func TestLoadTimeoutBoundsInitialize(t *testing.T) {
	slow := &slowModelCache{delay: 200 * time.Millisecond}
	engine := NewSemanticEngine(newFakeRuntime(4), slow, memory.NewModelConfigStore(),
		cache.NewEmbeddingCache(16), WithLoadTimeout(20*time.Millisecond))

	err := engine.Initialize(context.Background(), testModelConfig())
	require.Error(t, err)
	assert.Equal(t, domain.EngineError, engine.Status().State)
}

type slowModelCache struct {
	delay time.Duration
}

func (c *slowModelCache) Ensure(ctx context.Context, _, _ string, _ func(done, total int64)) (string, error) {
	select {
	case <-time.After(c.delay):
		return "", errors.New("too slow")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *slowModelCache) Stats(context.Context) (domain.CacheStats, error) {
	return domain.CacheStats{}, nil
}
func (c *slowModelCache) EvictExpired(context.Context) (int, error) { return 0, nil }
func (c *slowModelCache) Clear(context.Context) error               { return nil }
