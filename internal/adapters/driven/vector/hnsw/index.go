package hnsw

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/core/ports/driven"
	"github.com/tablens/tablens-cli/internal/logger"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// Default configuration values.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
	DefaultMaxElements    = 50000
)

// Compaction bounds. Tombstones keep the graph routable between passes,
// but every re-index pass of a tab appends fresh nodes, so a long-running
// process would otherwise grow the graph without bound. Once tombstones
// hold at least compactDeadShare of a graph with minCompactNodes or more
// nodes, the live entries are re-inserted into a fresh graph.
const (
	minCompactNodes  = 64
	compactDeadShare = 0.5
)

// Config holds index construction parameters.
type Config struct {
	// Dimension is the vector length. All stored vectors share it.
	Dimension int

	// M is the number of bidirectional links per node per layer.
	M int

	// EfConstruction is the candidate list size during insertion.
	EfConstruction int

	// EfSearch is the candidate list size during queries.
	EfSearch int

	// MaxElements caps the number of live entries. Inserts that would
	// exceed it evict oldest-insertion-first until under the cap.
	MaxElements int

	// Path is the bbolt file for persistence. Empty disables persistence.
	Path string
}

func (c *Config) applyDefaults() {
	if c.M <= 0 {
		c.M = DefaultM
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = DefaultEfConstruction
	}
	if c.EfSearch <= 0 {
		c.EfSearch = DefaultEfSearch
	}
	if c.MaxElements <= 0 {
		c.MaxElements = DefaultMaxElements
	}
}

// node is one graph vertex. Removed entries stay as tombstones so the
// graph keeps routing through them until maybeCompact rebuilds it.
type node struct {
	id         string
	vec        []float32
	meta       domain.ChunkMeta
	seq        uint64
	insertedAt time.Time
	level      int
	neighbors  [][]int
	deleted    bool
}

// Index is an HNSW graph over cosine similarity.
type Index struct {
	mu        sync.RWMutex
	cfg       Config
	dimension int
	nodes     []*node
	byID      map[string]int
	entry     int
	maxLevel  int
	nextSeq   uint64
	live      int
	levelMult float64
	rng       *rand.Rand
	closed    bool
}

// New creates an HNSW index for the given dimension.
func New(cfg Config) (*Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("hnsw: %w: dimension must be positive", domain.ErrInvalidInput)
	}
	cfg.applyDefaults()

	return &Index{
		cfg:       cfg,
		dimension: cfg.Dimension,
		byID:      make(map[string]int),
		entry:     -1,
		levelMult: 1 / math.Log(float64(cfg.M)),
		rng:       rand.New(rand.NewSource(1)), //nolint:gosec // level assignment, not security
	}, nil
}

// Insert adds or replaces the vector for chunkID.
func (idx *Index) Insert(_ context.Context, chunkID string, vector []float32, meta domain.ChunkMeta) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return domain.ErrIndexClosed
	}
	if len(vector) != idx.dimension {
		return fmt.Errorf("hnsw: %w: got %d, index is %d", domain.ErrDimensionMismatch, len(vector), idx.dimension)
	}

	// Overwrite semantics: tombstone the previous entry for this ID.
	if old, ok := idx.byID[chunkID]; ok {
		idx.tombstone(old)
	}

	for idx.live >= idx.cfg.MaxElements {
		idx.evictOldest()
	}

	idx.insert(chunkID, normalised(vector), meta, idx.nextSeq, time.Now())
	idx.nextSeq++
	idx.maybeCompact()
	return nil
}

// insert links a new node into the graph. Callers hold the write lock.
func (idx *Index) insert(chunkID string, vec []float32, meta domain.ChunkMeta, seq uint64, at time.Time) {
	level := idx.randomLevel()
	n := &node{
		id:         chunkID,
		vec:        vec,
		meta:       meta,
		seq:        seq,
		insertedAt: at,
		level:      level,
		neighbors:  make([][]int, level+1),
	}
	nodeIdx := len(idx.nodes)
	idx.nodes = append(idx.nodes, n)
	idx.byID[chunkID] = nodeIdx
	idx.live++

	if idx.entry < 0 {
		idx.entry = nodeIdx
		idx.maxLevel = level
		return
	}

	cur := idx.entry
	// Greedy descent through layers above the new node's level.
	for l := idx.maxLevel; l > level; l-- {
		cur = idx.greedyClosest(vec, cur, l)
	}

	top := level
	if idx.maxLevel < top {
		top = idx.maxLevel
	}
	for l := top; l >= 0; l-- {
		candidates := idx.searchLayer(vec, cur, idx.cfg.EfConstruction, l)
		m := idx.maxNeighbors(l)

		selected := candidates
		if len(selected) > idx.cfg.M {
			selected = selected[:idx.cfg.M]
		}

		for _, c := range selected {
			n.neighbors[l] = append(n.neighbors[l], c.idx)
			other := idx.nodes[c.idx]
			if l <= other.level {
				other.neighbors[l] = append(other.neighbors[l], nodeIdx)
				if len(other.neighbors[l]) > m {
					idx.pruneNeighbors(other, l, m)
				}
			}
		}
		if len(candidates) > 0 {
			cur = candidates[0].idx
		}
	}

	if level > idx.maxLevel {
		idx.maxLevel = level
		idx.entry = nodeIdx
	}
}

func (idx *Index) maxNeighbors(level int) int {
	if level == 0 {
		return idx.cfg.M * 2
	}
	return idx.cfg.M
}

func (idx *Index) randomLevel() int {
	return int(-math.Log(1-idx.rng.Float64()) * idx.levelMult)
}

// pruneNeighbors keeps the m most similar neighbours of n at level l.
func (idx *Index) pruneNeighbors(n *node, l, m int) {
	sort.Slice(n.neighbors[l], func(a, b int) bool {
		sa := dot(n.vec, idx.nodes[n.neighbors[l][a]].vec)
		sb := dot(n.vec, idx.nodes[n.neighbors[l][b]].vec)
		return sa > sb
	})
	n.neighbors[l] = n.neighbors[l][:m]
}

// greedyClosest walks level l from start toward the vector until no
// neighbour is closer.
func (idx *Index) greedyClosest(vec []float32, start, l int) int {
	cur := start
	curSim := dot(vec, idx.nodes[cur].vec)
	for {
		improved := false
		if l <= idx.nodes[cur].level {
			for _, nb := range idx.nodes[cur].neighbors[l] {
				if s := dot(vec, idx.nodes[nb].vec); s > curSim {
					cur, curSim = nb, s
					improved = true
				}
			}
		}
		if !improved {
			return cur
		}
	}
}

// candidate pairs a node index with its similarity to the query.
type candidate struct {
	idx int
	sim float64
}

// candidateHeap is a max-heap over similarity.
type candidateHeap []candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].sim > h[j].sim }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)         { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any           { old := *h; n := len(old); c := old[n-1]; *h = old[:n-1]; return c }

// searchLayer runs best-first search over level l and returns up to ef
// candidates sorted by descending similarity. Tombstoned nodes still
// route but are excluded from results by callers that need live entries.
func (idx *Index) searchLayer(vec []float32, start, ef, l int) []candidate {
	visited := map[int]bool{start: true}
	startSim := dot(vec, idx.nodes[start].vec)

	frontier := &candidateHeap{{idx: start, sim: startSim}}
	heap.Init(frontier)

	results := []candidate{{idx: start, sim: startSim}}

	for frontier.Len() > 0 {
		cur := heap.Pop(frontier).(candidate)

		worst := results[len(results)-1].sim
		if len(results) >= ef && cur.sim < worst {
			break
		}

		if l > idx.nodes[cur.idx].level {
			continue
		}
		for _, nb := range idx.nodes[cur.idx].neighbors[l] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			sim := dot(vec, idx.nodes[nb].vec)
			if len(results) < ef || sim > results[len(results)-1].sim {
				heap.Push(frontier, candidate{idx: nb, sim: sim})
				results = insertSorted(results, candidate{idx: nb, sim: sim}, ef)
			}
		}
	}

	return results
}

// insertSorted keeps results sorted by descending similarity, capped at ef.
func insertSorted(results []candidate, c candidate, ef int) []candidate {
	pos := sort.Search(len(results), func(i int) bool { return results[i].sim < c.sim })
	results = append(results, candidate{})
	copy(results[pos+1:], results[pos:])
	results[pos] = c
	if len(results) > ef {
		results = results[:ef]
	}
	return results
}

// Remove deletes the vector for chunkID. Absent IDs are a no-op.
func (idx *Index) Remove(_ context.Context, chunkID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return domain.ErrIndexClosed
	}
	if n, ok := idx.byID[chunkID]; ok {
		idx.tombstone(n)
		idx.maybeCompact()
	}
	return nil
}

// RemoveWhere deletes every entry whose metadata matches. The write lock
// is held for the whole pass, so queries never observe a partial removal.
func (idx *Index) RemoveWhere(_ context.Context, match func(domain.ChunkMeta) bool) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return 0, domain.ErrIndexClosed
	}

	removed := 0
	for i, n := range idx.nodes {
		if !n.deleted && match(n.meta) {
			idx.tombstone(i)
			removed++
		}
	}
	idx.maybeCompact()
	return removed, nil
}

// SweepOlderThan tombstones entries inserted before cutoff.
func (idx *Index) SweepOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return 0, domain.ErrIndexClosed
	}

	removed := 0
	for i, n := range idx.nodes {
		if !n.deleted && n.insertedAt.Before(cutoff) {
			idx.tombstone(i)
			removed++
		}
	}
	idx.maybeCompact()
	return removed, nil
}

// tombstone marks node i deleted. Callers hold the write lock.
func (idx *Index) tombstone(i int) {
	n := idx.nodes[i]
	if n.deleted {
		return
	}
	n.deleted = true
	idx.live--
	if cur, ok := idx.byID[n.id]; ok && cur == i {
		delete(idx.byID, n.id)
	}
}

// maybeCompact re-inserts the live entries into a fresh graph when
// tombstones dominate, the same way Load rebuilds from a snapshot.
// Sequence numbers and insertion times survive, so tie-breaking and
// retention are unaffected. Callers hold the write lock.
func (idx *Index) maybeCompact() {
	dead := len(idx.nodes) - idx.live
	if len(idx.nodes) < minCompactNodes || float64(dead) < compactDeadShare*float64(len(idx.nodes)) {
		return
	}

	entries := make([]persistedEntry, 0, idx.live)
	for _, n := range idx.nodes {
		if n.deleted {
			continue
		}
		entries = append(entries, persistedEntry{
			ID:         n.id,
			Vector:     n.vec,
			Meta:       n.meta,
			Seq:        n.seq,
			InsertedAt: n.insertedAt,
		})
	}

	idx.reset()
	sort.Slice(entries, func(a, b int) bool { return entries[a].Seq < entries[b].Seq })
	for i := range entries {
		e := &entries[i]
		idx.insert(e.ID, e.Vector, e.Meta, e.Seq, e.InsertedAt)
	}
	logger.Debug("Compacted index: %d live entries kept, %d tombstones dropped", len(entries), dead)
}

// evictOldest tombstones the live entry with the smallest insertion
// sequence. Callers hold the write lock.
func (idx *Index) evictOldest() {
	oldest := -1
	for i, n := range idx.nodes {
		if n.deleted {
			continue
		}
		if oldest < 0 || n.seq < idx.nodes[oldest].seq {
			oldest = i
		}
	}
	if oldest >= 0 {
		idx.tombstone(oldest)
	}
}

// Query returns the k most similar live entries, cosine descending,
// ties broken by most-recent insertion.
func (idx *Index) Query(_ context.Context, vector []float32, k int) ([]driven.VectorHit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, domain.ErrIndexClosed
	}
	if len(vector) != idx.dimension {
		return nil, fmt.Errorf("hnsw: %w: got %d, index is %d", domain.ErrDimensionMismatch, len(vector), idx.dimension)
	}
	if k <= 0 || idx.live == 0 || idx.entry < 0 {
		return nil, nil
	}

	vec := normalised(vector)

	cur := idx.entry
	for l := idx.maxLevel; l > 0; l-- {
		cur = idx.greedyClosest(vec, cur, l)
	}

	ef := idx.cfg.EfSearch
	if k > ef {
		ef = k
	}
	// Tombstones still occupy candidate slots; widen so k live entries
	// survive the filter.
	candidates := idx.searchLayer(vec, cur, ef+len(idx.nodes)-idx.live, 0)

	hits := make([]driven.VectorHit, 0, k)
	for _, c := range candidates {
		n := idx.nodes[c.idx]
		if n.deleted {
			continue
		}
		hits = append(hits, driven.VectorHit{
			ChunkID:    n.id,
			Similarity: c.sim,
			Meta:       n.meta,
		})
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Similarity != hits[b].Similarity {
			return hits[a].Similarity > hits[b].Similarity
		}
		return idx.nodes[idx.byIDIndex(hits[a].ChunkID)].seq > idx.nodes[idx.byIDIndex(hits[b].ChunkID)].seq
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (idx *Index) byIDIndex(id string) int {
	return idx.byID[id]
}

// Rebuild drops everything and resets for a new dimension.
func (idx *Index) Rebuild(_ context.Context, dimension int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return domain.ErrIndexClosed
	}
	if dimension <= 0 {
		return fmt.Errorf("hnsw: %w: dimension must be positive", domain.ErrInvalidInput)
	}

	idx.dimension = dimension
	idx.reset()
	return nil
}

// reset clears the graph. Callers hold the write lock.
func (idx *Index) reset() {
	idx.nodes = nil
	idx.byID = make(map[string]int)
	idx.entry = -1
	idx.maxLevel = 0
	idx.live = 0
}

// Size returns the number of live entries.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.live
}

// Dimension returns the configured vector length.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

// Close marks the index unusable.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	return nil
}

// normalised returns an L2-normalised copy of v.
func normalised(v []float32) []float32 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	norm := floats.Norm(out, 2)
	res := make([]float32, len(v))
	if norm == 0 {
		copy(res, v)
		return res
	}
	floats.Scale(1/norm, out)
	for i, x := range out {
		res[i] = float32(x)
	}
	return res
}

// dot computes the dot product of two normalised vectors, which equals
// their cosine similarity.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Similarity computes cosine similarity between two raw vectors.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return dot(normalised(a), normalised(b))
}

// SimilarityBatch computes cosine similarity between query and each of
// vecs in one pass.
func SimilarityBatch(query []float32, vecs [][]float32) []float64 {
	q := normalised(query)
	out := make([]float64, len(vecs))
	for i, v := range vecs {
		if len(v) != len(q) {
			continue
		}
		out[i] = dot(q, normalised(v))
	}
	return out
}
