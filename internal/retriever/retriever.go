package retriever

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"persona-rag/internal/embedding"
	"persona-rag/internal/models"
	"persona-rag/internal/vectordb"
)

// Retriever returns the k chunks of an index closest to a question
type Retriever struct {
	embedder embeddings.Embedder
	index    vectordb.Index
	k        int
}

// New returns a Retriever over index. k must not be negative; k == 0 is
// allowed and always retrieves nothing.
func New(embedder embeddings.Embedder, index vectordb.Index, k int) (*Retriever, error) {
	if k < 0 {
		return nil, models.NewError(models.KindConfiguration, "retriever.New", fmt.Errorf("k must not be negative, got %d", k))
	}
	if embedder == nil {
		return nil, models.NewError(models.KindConfiguration, "retriever.New", fmt.Errorf("embedder is required"))
	}
	return &Retriever{embedder: embedder, index: index, k: k}, nil
}

func (r *Retriever) K() int { return r.k }

// Retrieve embeds question and returns at most k chunks by descending
// similarity.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]models.ScoredChunk, error) {
	if r.index == nil {
		return nil, models.NewError(models.KindNotInitialized, "retriever.Retrieve", fmt.Errorf("no index"))
	}
	if r.k == 0 {
		return []models.ScoredChunk{}, nil
	}

	vector, err := embedding.EmbedQuery(ctx, r.embedder, question)
	if err != nil {
		return nil, err
	}
	results, err := r.index.Query(ctx, vector, r.k)
	if err != nil {
		if models.KindOf(err) != models.KindInternal {
			return nil, err
		}
		return nil, models.NewError(models.KindInternal, "retriever.Retrieve", err)
	}
	log.Debug().Int("k", r.k).Int("results", len(results)).Msg("Retrieved chunks")
	return results, nil
}
