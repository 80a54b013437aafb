package hnsw

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/tablens/tablens-cli/internal/core/domain"
	"github.com/tablens/tablens-cli/internal/logger"
)

var (
	bucketEntries = []byte("entries")
	bucketMeta    = []byte("meta")

	keyDimension = []byte("dimension")
	keyNextSeq   = []byte("next_seq")
)

// persistedEntry is the durable form of one index entry. The graph
// structure itself is not persisted; it is rebuilt from entries on load,
// which keeps the on-disk format simple and corruption recoverable.
type persistedEntry struct {
	ID         string           `json:"id"`
	Vector     []float32        `json:"vector"`
	Meta       domain.ChunkMeta `json:"meta"`
	Seq        uint64           `json:"seq"`
	InsertedAt time.Time        `json:"inserted_at"`
}

// Persist writes a full snapshot of live entries to the bbolt file.
// A no-op when the index was created without a path.
func (idx *Index) Persist(_ context.Context) error {
	if idx.cfg.Path == "" {
		return nil
	}

	idx.mu.RLock()
	if idx.closed {
		idx.mu.RUnlock()
		return domain.ErrIndexClosed
	}
	snapshot := make([]persistedEntry, 0, idx.live)
	for _, n := range idx.nodes {
		if n.deleted {
			continue
		}
		snapshot = append(snapshot, persistedEntry{
			ID:         n.id,
			Vector:     n.vec,
			Meta:       n.meta,
			Seq:        n.seq,
			InsertedAt: n.insertedAt,
		})
	}
	dimension := idx.dimension
	nextSeq := idx.nextSeq
	idx.mu.RUnlock()

	db, err := bbolt.Open(idx.cfg.Path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("opening index file: %w", err)
	}
	defer db.Close()

	err = db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketEntries) != nil {
			if err := tx.DeleteBucket(bucketEntries); err != nil {
				return err
			}
		}
		entries, err := tx.CreateBucket(bucketEntries)
		if err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}

		if err := meta.Put(keyDimension, u64Bytes(uint64(dimension))); err != nil {
			return err
		}
		if err := meta.Put(keyNextSeq, u64Bytes(nextSeq)); err != nil {
			return err
		}

		for i := range snapshot {
			data, err := json.Marshal(&snapshot[i])
			if err != nil {
				return err
			}
			if err := entries.Put([]byte(snapshot[i].ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persisting index: %w", err)
	}

	logger.Debug("Persisted %d index entries to %s", len(snapshot), idx.cfg.Path)
	return nil
}

// Load restores the index from its bbolt file, rebuilding the graph by
// re-inserting entries in insertion order. A missing file is an empty
// index. A snapshot that fails to decode, or whose dimension no longer
// matches, is discarded and the index starts empty rather than failing
// the host.
func (idx *Index) Load(_ context.Context) error {
	if idx.cfg.Path == "" {
		return nil
	}

	db, err := bbolt.Open(idx.cfg.Path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("opening index file: %w", err)
	}
	defer db.Close()

	var entries []persistedEntry
	var storedDim uint64
	var nextSeq uint64

	err = db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		bucket := tx.Bucket(bucketEntries)
		if meta == nil || bucket == nil {
			return nil // Never persisted; start empty.
		}

		dimBytes := meta.Get(keyDimension)
		seqBytes := meta.Get(keyNextSeq)
		if len(dimBytes) != 8 || len(seqBytes) != 8 {
			return domain.ErrIndexCorrupt
		}
		storedDim = binary.BigEndian.Uint64(dimBytes)
		nextSeq = binary.BigEndian.Uint64(seqBytes)

		return bucket.ForEach(func(_, v []byte) error {
			var e persistedEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrIndexCorrupt, err)
			}
			if len(e.Vector) != int(storedDim) {
				return fmt.Errorf("%w: entry %s has dimension %d, snapshot is %d",
					domain.ErrIndexCorrupt, e.ID, len(e.Vector), storedDim)
			}
			entries = append(entries, e)
			return nil
		})
	})

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return domain.ErrIndexClosed
	}

	switch {
	case err != nil:
		logger.Warn("Index snapshot unusable, starting empty: %v", err)
		idx.reset()
		return nil
	case len(entries) > 0 && int(storedDim) != idx.dimension:
		logger.Warn("Index snapshot dimension %d does not match configured %d, starting empty",
			storedDim, idx.dimension)
		idx.reset()
		return nil
	}

	idx.reset()
	// Re-insert in insertion order so sequence-based tie-breaking and
	// eviction order survive the round trip.
	sort.Slice(entries, func(a, b int) bool { return entries[a].Seq < entries[b].Seq })
	for i := range entries {
		e := &entries[i]
		if e.Seq+1 > idx.nextSeq {
			idx.nextSeq = e.Seq + 1
		}
		idx.insert(e.ID, e.Vector, e.Meta, e.Seq, e.InsertedAt)
	}
	if nextSeq > idx.nextSeq {
		idx.nextSeq = nextSeq
	}

	logger.Debug("Loaded %d index entries from %s", len(entries), idx.cfg.Path)
	return nil
}

func u64Bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
