// Package hnsw provides the approximate nearest-neighbour vector index
// backing semantic tab search.
//
// The main implementation is a pure-Go hierarchical navigable small
// world (HNSW) graph over cosine similarity, with insertion-order
// eviction, a retention sweep and durable persistence through bbolt.
// A brute-force Flat index satisfies the same port for small-scale
// correctness tests and as a fallback.
//
// Vectors are L2-normalised on insert, so cosine similarity reduces to
// a dot product at query time.
package hnsw
