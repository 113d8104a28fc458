// Package hnsw implements the Hierarchical Navigable Small World (HNSW) graph for
// approximate nearest neighbor search.
//
// Nodes live in an arena indexed by uint32 id; neighbor lists hold ids and cached
// distances, never pointers. Levels are drawn from a seeded xorshift64* generator
// whose state is part of the serialized graph, so a fixed insertion order and seed
// always produce the same graph and the same search results.
//
// The graph performs no locking. Callers serialize mutations and must not run
// searches concurrently with Insert or Delete.
//
// # Deletion
//
// Delete removes a node physically and repairs the neighborhoods of every node
// that pointed at it by reconnecting them to the best remaining candidates drawn
// from the deleted node's neighborhood and their own.
//
// # Search
//
//	res, err := g.Search(ctx, q, 10, 64, nil)
//
// A context deadline that expires during traversal ends the search early and the
// best candidates found so far are returned. Cancellation returns context.Canceled.
package hnsw
