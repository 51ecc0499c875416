package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"persona-rag/internal/config"
	"persona-rag/internal/models"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultBatchSize = 64

// NewEmbedder creates the embedder selected by the config provider
func NewEmbedder(cfg *config.LLMConfig) (embeddings.Embedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating embedder")

	var (
		embedder embeddings.Embedder
		err      error
	)
	switch cfg.Provider {
	case "openai":
		embedder, err = NewOpenAIEmbedder(cfg)
	case "ollama":
		embedder, err = NewOllamaEmbedder(cfg)
	case "hash":
		embedder = NewHashEmbedder(cfg.Dimensions)
	default:
		err = fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, models.NewError(models.KindConfiguration, "embedding.NewEmbedder", err)
	}
	return embedder, nil
}

// Name identifies the embedding scheme; it is recorded with each index
func Name(cfg *config.LLMConfig) string {
	if cfg.Provider == "hash" {
		return fmt.Sprintf("hash:%d", NewHashEmbedder(cfg.Dimensions).Dimensions())
	}
	return cfg.Provider + ":" + cfg.Model
}

func NewOpenAIEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm, embeddings.WithBatchSize(defaultBatchSize))
}

func NewOllamaEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm, embeddings.WithBatchSize(defaultBatchSize))
}

// GenerateEmbedding embeds every chunk in one batch call. The result is
// parallel to chunks and all vectors share one dimension.
func GenerateEmbedding(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, models.NewError(models.KindEmbedding, "embedding.GenerateEmbedding", err)
	}
	if len(vectors) != len(chunks) {
		return nil, models.NewError(models.KindEmbedding, "embedding.GenerateEmbedding",
			fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, models.NewError(models.KindEmbedding, "embedding.GenerateEmbedding",
				fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim))
		}
	}
	log.Debug().Int("chunks", len(chunks)).Int("dimension", dim).Msg("Generated embeddings")
	return vectors, nil
}

// EmbedQuery embeds a question with the index's embedder
func EmbedQuery(ctx context.Context, embedder embeddings.Embedder, text string) ([]float32, error) {
	v, err := embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, models.NewError(models.KindEmbedding, "embedding.EmbedQuery", err)
	}
	if len(v) == 0 {
		return nil, models.NewError(models.KindEmbedding, "embedding.EmbedQuery", fmt.Errorf("empty query vector"))
	}
	return v, nil
}
