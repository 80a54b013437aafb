package domain

import (
	"fmt"
	"time"
)

// SourceField identifies which part of a page a chunk was derived from.
type SourceField string

const (
	// SourceContent marks chunks cut from the extracted page body.
	SourceContent SourceField = "content"

	// SourceTitle marks the chunk holding the page title.
	SourceTitle SourceField = "title"
)

// TabContent is the payload delivered by the content-extraction bridge
// whenever a tab's extracted text becomes available or changes.
type TabContent struct {
	// TabID is the browser tab identifier.
	TabID int

	// URL is the tab's current location.
	URL string

	// Title is the page title.
	Title string

	// Text is the extracted, already-normalised page text.
	Text string
}

// Chunk is a bounded span of page text prepared for embedding.
// Chunks are the unit of storage in the vector index; each chunk belongs
// to exactly one tab at a time.
type Chunk struct {
	// ID is unique within the index. It is derived from the owning tab,
	// the indexing generation and the chunk position, so re-indexing a
	// changed page never reuses a live ID.
	ID string

	// TabID is the owning tab.
	TabID int

	// URL is the page location the chunk was cut from.
	URL string

	// Title is the page title at indexing time.
	Title string

	// Text is the raw chunk content.
	Text string

	// SourceField records whether the chunk came from the body or title.
	SourceField SourceField

	// Position is the ordinal position within the page's chunk list.
	Position int

	// Embedding is the vector representation, set after embedding.
	Embedding []float32
}

// ChunkID derives the stable chunk identifier for a tab, indexing
// generation and position.
func ChunkID(tabID int, generation uint64, position int) string {
	return fmt.Sprintf("%d:%d:%d", tabID, generation, position)
}

// ChunkMeta is the metadata stored beside each vector in the index.
// It is everything search needs to present a hit without a store lookup.
type ChunkMeta struct {
	TabID       int         `json:"tab_id"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	SourceField SourceField `json:"source_field"`
	Position    int         `json:"position"`
}

// TabIndexState is the per-tab indexing lifecycle state.
type TabIndexState string

const (
	// TabUnindexed means no indexing pass has run for the tab.
	TabUnindexed TabIndexState = "unindexed"

	// TabPending means an indexing pass is in flight.
	TabPending TabIndexState = "pending"

	// TabReady means the tab's current content is indexed.
	TabReady TabIndexState = "ready"

	// TabError means the last indexing pass failed. The tab is retried
	// on its next content-update event.
	TabError TabIndexState = "error"
)

// TabDocumentState is the per-tab bookkeeping owned by the content indexer.
type TabDocumentState struct {
	// TabID is the browser tab identifier.
	TabID int

	// URL is the last URL seen for the tab.
	URL string

	// Title is the last title seen for the tab.
	Title string

	// ChunkIDs is the set of chunk IDs currently in the index for the tab.
	ChunkIDs []string

	// ContentHash fingerprints the last successfully indexed text, used
	// to skip redundant re-embedding when content has not changed.
	ContentHash string

	// State is the indexing lifecycle state.
	State TabIndexState

	// LastError holds the failure message when State is TabError.
	LastError string

	// UpdatedAt is when the state last changed.
	UpdatedAt time.Time
}
