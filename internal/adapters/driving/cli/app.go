package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tablens/tablens-cli/internal/adapters/driven/config/file"
	"github.com/tablens/tablens-cli/internal/adapters/driven/inference/sidecar"
	"github.com/tablens/tablens-cli/internal/adapters/driven/modelcache"
	"github.com/tablens/tablens-cli/internal/adapters/driven/storage/sqlite"
	"github.com/tablens/tablens-cli/internal/adapters/driven/vector/hnsw"
	"github.com/tablens/tablens-cli/internal/cache"
	"github.com/tablens/tablens-cli/internal/chunker"
	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/services"
	"github.com/tablens/tablens-cli/internal/logger"
)

const embeddingCacheSize = 4096

// app holds the wired application graph behind the commands.
type app struct {
	config  *file.ConfigStore
	store   *sqlite.Store
	index   *hnsw.Index
	engine  *services.SemanticEngine
	indexer *services.ContentIndexer
	search  *services.SearchOrchestrator
	sweeper *services.Sweeper
}

var application *app

// ensureServices wires the real application graph unless a test has
// already installed mocks.
func ensureServices(ctx context.Context) error {
	if searchService != nil {
		return nil
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	application = a
	searchService = a.search
	tabIndexer = a.indexer
	indexerAdmin = a.indexer
	engineControl = a.engine
	return nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := file.NewConfigStore(configDir)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}

	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	model, err := activeModel(ctx, cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	maxElements := cfg.GetInt(file.KeyIndexMaxSize)
	index, err := hnsw.New(hnsw.Config{
		Dimension:   model.Dimension,
		MaxElements: maxElements,
		Path:        filepath.Join(filepath.Dir(store.Path()), "vectors.db"),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating vector index: %w", err)
	}
	if err := index.Load(ctx); err != nil {
		logger.Warn("loading vector index: %v (starting empty)", err)
	}

	cachesDir := filepath.Join(filepath.Dir(store.Path()), "models")
	models, err := modelcache.New(modelcache.Config{
		Dir:       cachesDir,
		Retention: retentionFromConfig(cfg),
	}, store.ModelCacheMetaStore())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating model cache: %w", err)
	}

	runtime := sidecar.NewRuntime(sidecar.Config{
		BaseURL: cfg.GetString(file.KeySidecarURL),
	})

	engine := services.NewSemanticEngine(
		runtime,
		models,
		store.ModelConfigStore(),
		cache.NewEmbeddingCache(embeddingCacheSize),
	)

	indexer := services.NewContentIndexer(
		engine,
		index,
		store.ChunkStore(),
		store.TabStateStore(),
		chunker.New(),
	)
	engine.OnInvalidate(indexer.InvalidateForModel)

	search := services.NewSearchOrchestrator(
		engine,
		index,
		store.ChunkStore(),
		indexer,
	)

	sweeper := services.NewSweeper(index, models,
		services.WithRetention(retentionFromConfig(cfg)))

	return &app{
		config:  cfg,
		store:   store,
		index:   index,
		engine:  engine,
		indexer: indexer,
		search:  search,
		sweeper: sweeper,
	}, nil
}

// activeModel picks the model configuration to run: the persisted record
// from the last successful initialisation wins, then the config file,
// then the built-in default.
func activeModel(ctx context.Context, cfg *file.ConfigStore, store *sqlite.Store) (domain.ModelConfig, error) {
	persisted, err := store.ModelConfigStore().Get(ctx)
	if err == nil {
		return *persisted, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.ModelConfig{}, fmt.Errorf("reading persisted model config: %w", err)
	}

	model := cfg.ModelConfig()
	if err := model.Validate(); err != nil {
		return domain.ModelConfig{}, fmt.Errorf("invalid model config in %s: %w", cfg.Path(), err)
	}
	return model, nil
}

func retentionFromConfig(cfg *file.ConfigStore) time.Duration {
	if days := cfg.GetInt(file.KeyRetentionDays); days > 0 {
		return time.Duration(days) * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

func (a *app) close() {
	a.sweeper.Stop()
	if err := a.index.Persist(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: persisting vector index: %v\n", err)
	}
	if err := a.engine.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing engine: %v\n", err)
	}
	if err := a.index.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing vector index: %v\n", err)
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing metadata store: %v\n", err)
	}
}
