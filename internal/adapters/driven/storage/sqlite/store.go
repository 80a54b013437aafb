package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tablens/tablens-cli/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
)

// Store is a unified SQLite-based storage that provides access to
// all metadata store interfaces through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.tablens/data/metadata.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".tablens", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "metadata.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ChunkStore returns a ChunkStore interface backed by this store.
func (s *Store) ChunkStore() driven.ChunkStore {
	return &chunkStore{store: s}
}

// TabStateStore returns a TabStateStore interface backed by this store.
func (s *Store) TabStateStore() driven.TabStateStore {
	return &tabStateStore{store: s}
}

// ModelConfigStore returns a ModelConfigStore interface backed by this store.
func (s *Store) ModelConfigStore() driven.ModelConfigStore {
	return &modelConfigStore{store: s}
}

// ModelCacheMetaStore returns a ModelCacheMetaStore interface backed by this store.
func (s *Store) ModelCacheMetaStore() driven.ModelCacheMetaStore {
	return &modelCacheMetaStore{store: s}
}

// migrate applies pending .up.sql migrations in version order.
func (s *Store) migrate(fsys embed.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}

		if version <= currentVersion {
			continue // Already applied
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Chunk Store ====================

var _ driven.ChunkStore = (*chunkStore)(nil)

type chunkStore struct {
	store *Store
}

// SaveChunks stores chunks, overwriting on ID conflict.
func (c *chunkStore) SaveChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, tab_id, url, title, text, source_field, position, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tab_id = excluded.tab_id,
			url = excluded.url,
			title = excluded.title,
			text = excluded.text,
			source_field = excluded.source_field,
			position = excluded.position,
			embedding = excluded.embedding
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embeddingBlob := float32SliceToBytes(chunk.Embedding)
		if _, err := stmt.ExecContext(ctx,
			chunk.ID, chunk.TabID, chunk.URL, chunk.Title, chunk.Text,
			string(chunk.SourceField), chunk.Position, embeddingBlob,
		); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", chunk.ID, err)
		}
	}

	return tx.Commit()
}

// GetChunk retrieves a chunk by ID.
func (c *chunkStore) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := c.store.db.QueryRowContext(ctx, `
		SELECT id, tab_id, url, title, text, source_field, position, embedding
		FROM chunks WHERE id = ?
	`, id)

	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting chunk %s: %w", id, err)
	}
	return chunk, nil
}

// ListByTab returns a tab's chunks ordered by position.
func (c *chunkStore) ListByTab(ctx context.Context, tabID int) ([]domain.Chunk, error) {
	rows, err := c.store.db.QueryContext(ctx, `
		SELECT id, tab_id, url, title, text, source_field, position, embedding
		FROM chunks WHERE tab_id = ? ORDER BY position
	`, tabID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks for tab %d: %w", tabID, err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, *chunk)
	}
	return chunks, rows.Err()
}

// DeleteByTab removes all chunks owned by a tab.
func (c *chunkStore) DeleteByTab(ctx context.Context, tabID int) error {
	if _, err := c.store.db.ExecContext(ctx, "DELETE FROM chunks WHERE tab_id = ?", tabID); err != nil {
		return fmt.Errorf("deleting chunks for tab %d: %w", tabID, err)
	}
	return nil
}

// Count returns the total number of stored chunks.
func (c *chunkStore) Count(ctx context.Context) (int, error) {
	var count int
	row := c.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks")
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

// Clear removes every chunk.
func (c *chunkStore) Clear(ctx context.Context) error {
	if _, err := c.store.db.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner) (*domain.Chunk, error) {
	var chunk domain.Chunk
	var sourceField string
	var embedding []byte
	if err := row.Scan(
		&chunk.ID, &chunk.TabID, &chunk.URL, &chunk.Title, &chunk.Text,
		&sourceField, &chunk.Position, &embedding,
	); err != nil {
		return nil, err
	}
	chunk.SourceField = domain.SourceField(sourceField)
	chunk.Embedding = bytesToFloat32Slice(embedding)
	return &chunk, nil
}

// ==================== Tab State Store ====================

var _ driven.TabStateStore = (*tabStateStore)(nil)

type tabStateStore struct {
	store *Store
}

// Save stores or updates a tab's state.
func (t *tabStateStore) Save(ctx context.Context, state domain.TabDocumentState) error {
	chunkIDs, err := json.Marshal(state.ChunkIDs)
	if err != nil {
		return fmt.Errorf("marshaling chunk IDs: %w", err)
	}

	if _, err := t.store.db.ExecContext(ctx, `
		INSERT INTO tab_states (tab_id, url, title, chunk_ids, content_hash, state, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tab_id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			chunk_ids = excluded.chunk_ids,
			content_hash = excluded.content_hash,
			state = excluded.state,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, state.TabID, state.URL, state.Title, string(chunkIDs),
		state.ContentHash, string(state.State), state.LastError, touchUpdatedAt(state.UpdatedAt),
	); err != nil {
		return fmt.Errorf("saving state for tab %d: %w", state.TabID, err)
	}
	return nil
}

// Get retrieves a tab's state.
func (t *tabStateStore) Get(ctx context.Context, tabID int) (*domain.TabDocumentState, error) {
	row := t.store.db.QueryRowContext(ctx, `
		SELECT tab_id, url, title, chunk_ids, content_hash, state, last_error, updated_at
		FROM tab_states WHERE tab_id = ?
	`, tabID)

	state, err := scanTabState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting state for tab %d: %w", tabID, err)
	}
	return state, nil
}

// Delete drops a tab's state.
func (t *tabStateStore) Delete(ctx context.Context, tabID int) error {
	result, err := t.store.db.ExecContext(ctx, "DELETE FROM tab_states WHERE tab_id = ?", tabID)
	if err != nil {
		return fmt.Errorf("deleting state for tab %d: %w", tabID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deletion for tab %d: %w", tabID, err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns all tracked tab states.
func (t *tabStateStore) List(ctx context.Context) ([]domain.TabDocumentState, error) {
	rows, err := t.store.db.QueryContext(ctx, `
		SELECT tab_id, url, title, chunk_ids, content_hash, state, last_error, updated_at
		FROM tab_states ORDER BY tab_id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing tab states: %w", err)
	}
	defer rows.Close()

	var states []domain.TabDocumentState
	for rows.Next() {
		state, err := scanTabState(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tab state: %w", err)
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

// Clear drops all tab state.
func (t *tabStateStore) Clear(ctx context.Context) error {
	if _, err := t.store.db.ExecContext(ctx, "DELETE FROM tab_states"); err != nil {
		return fmt.Errorf("clearing tab states: %w", err)
	}
	return nil
}

func scanTabState(row scanner) (*domain.TabDocumentState, error) {
	var state domain.TabDocumentState
	var chunkIDs, stateStr string
	if err := row.Scan(
		&state.TabID, &state.URL, &state.Title, &chunkIDs,
		&state.ContentHash, &stateStr, &state.LastError, &state.UpdatedAt,
	); err != nil {
		return nil, err
	}
	state.State = domain.TabIndexState(stateStr)
	if err := json.Unmarshal([]byte(chunkIDs), &state.ChunkIDs); err != nil {
		return nil, fmt.Errorf("unmarshaling chunk IDs: %w", err)
	}
	return &state, nil
}

// ==================== Model Config Store ====================

var _ driven.ModelConfigStore = (*modelConfigStore)(nil)

type modelConfigStore struct {
	store *Store
}

// Save records cfg as the active model. The table holds a single row.
func (m *modelConfigStore) Save(ctx context.Context, cfg domain.ModelConfig) error {
	if _, err := m.store.db.ExecContext(ctx, `
		INSERT INTO model_config (id, preset, variant, dimension)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			preset = excluded.preset,
			variant = excluded.variant,
			dimension = excluded.dimension
	`, cfg.Preset, string(cfg.Variant), cfg.Dimension); err != nil {
		return fmt.Errorf("saving model config: %w", err)
	}
	return nil
}

// Get returns the recorded config.
func (m *modelConfigStore) Get(ctx context.Context) (*domain.ModelConfig, error) {
	var cfg domain.ModelConfig
	var variant string
	row := m.store.db.QueryRowContext(ctx,
		"SELECT preset, variant, dimension FROM model_config WHERE id = 1")
	if err := row.Scan(&cfg.Preset, &variant, &cfg.Dimension); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting model config: %w", err)
	}
	cfg.Variant = domain.ModelVariant(variant)
	return &cfg, nil
}

// ==================== Model Cache Meta Store ====================

var _ driven.ModelCacheMetaStore = (*modelCacheMetaStore)(nil)

type modelCacheMetaStore struct {
	store *Store
}

// Save stores or updates an entry keyed by model URL.
func (m *modelCacheMetaStore) Save(ctx context.Context, entry domain.CacheEntry) error {
	if _, err := m.store.db.ExecContext(ctx, `
		INSERT INTO model_cache (model_url, path, size, version, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(model_url) DO UPDATE SET
			path = excluded.path,
			size = excluded.size,
			version = excluded.version,
			fetched_at = excluded.fetched_at
	`, entry.ModelURL, entry.Path, entry.Size, entry.Version, entry.FetchedAt); err != nil {
		return fmt.Errorf("saving cache entry %s: %w", entry.ModelURL, err)
	}
	return nil
}

// Get retrieves an entry by model URL.
func (m *modelCacheMetaStore) Get(ctx context.Context, modelURL string) (*domain.CacheEntry, error) {
	entry, err := scanCacheEntry(m.store.db.QueryRowContext(ctx, `
		SELECT model_url, path, size, version, fetched_at
		FROM model_cache WHERE model_url = ?
	`, modelURL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting cache entry %s: %w", modelURL, err)
	}
	return entry, nil
}

// Delete removes an entry.
func (m *modelCacheMetaStore) Delete(ctx context.Context, modelURL string) error {
	if _, err := m.store.db.ExecContext(ctx,
		"DELETE FROM model_cache WHERE model_url = ?", modelURL); err != nil {
		return fmt.Errorf("deleting cache entry %s: %w", modelURL, err)
	}
	return nil
}

// List returns all entries ordered oldest-first by FetchedAt.
func (m *modelCacheMetaStore) List(ctx context.Context) ([]domain.CacheEntry, error) {
	rows, err := m.store.db.QueryContext(ctx, `
		SELECT model_url, path, size, version, fetched_at
		FROM model_cache ORDER BY fetched_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing cache entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.CacheEntry
	for rows.Next() {
		entry, err := scanCacheEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cache entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanCacheEntry(row scanner) (*domain.CacheEntry, error) {
	var entry domain.CacheEntry
	if err := row.Scan(&entry.ModelURL, &entry.Path, &entry.Size, &entry.Version, &entry.FetchedAt); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ==================== Helpers ====================

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

// touchUpdatedAt normalises zero UpdatedAt values so SQLite never stores a
// zero time for a live row.
func touchUpdatedAt(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
