// Package vectordb defines the persisted per-persona vector index contract
// shared by the chromem and postgres backends.
package vectordb

import (
	"context"
	"sort"

	"persona-rag/internal/models"
)

// Index is a loaded, queryable vector index
type Index interface {
	// Query returns at most k chunks ordered by descending similarity.
	// k == 0 yields an empty result.
	Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error)
	Count() int
}

// Store persists one index per persona identifier
type Store interface {
	// Load opens a complete persisted index. A missing or partially
	// written index yields models.ErrIndexNotFound; partial stores are
	// discarded on the way.
	Load(ctx context.Context, persona string) (Index, *Manifest, error)
	// Build replaces any existing index for persona with entries.
	Build(ctx context.Context, persona string, entries []models.ChunkEmbedding, manifest Manifest) (Index, error)
	// Discard removes the persisted index for persona if present.
	Discard(ctx context.Context, persona string) error
}

// SortResults orders results by descending similarity, ties by sequence
func SortResults(results []models.ScoredChunk) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Chunk.ChunkID < results[j].Chunk.ChunkID
	})
}

// Limit clamps a requested k to the number of stored entries
func Limit(k, count int) int {
	if k < 0 {
		return 0
	}
	return min(k, count)
}
