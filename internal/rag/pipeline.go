package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/singleflight"

	"persona-rag/internal/chunker"
	"persona-rag/internal/embedding"
	"persona-rag/internal/models"
	"persona-rag/internal/parser"
	"persona-rag/internal/persona"
	"persona-rag/internal/retriever"
	"persona-rag/internal/vectordb"
)

// Generator completes a rendered prompt
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// DocumentLoader reads a source document into pages
type DocumentLoader func(path string) (models.Document, error)

// Dependencies are the collaborators shared by every persona pipeline
type Dependencies struct {
	Store        vectordb.Store
	Embedder     embeddings.Embedder
	EmbedderName string
	Generator    Generator
	Chunker      *chunker.Chunker
	// Loader defaults to parser.Load
	Loader DocumentLoader
}

// Options tune a pipeline
type Options struct {
	TopK int
	// Lazy makes the first query run Setup instead of failing
	Lazy bool
}

// Pipeline answers questions for one persona. Setup and Query are safe for
// concurrent use; concurrent Setup calls share a single build.
type Pipeline struct {
	profile persona.Profile
	deps    Dependencies
	opts    Options

	group singleflight.Group

	mu        sync.RWMutex
	state     State
	retriever *retriever.Retriever
}

// NewPipeline checks the dependencies a profile needs and returns an
// uninitialized pipeline.
func NewPipeline(profile persona.Profile, deps Dependencies, opts Options) (*Pipeline, error) {
	const op = "rag.NewPipeline"
	if profile.Prompt.IsZero() {
		return nil, models.NewError(models.KindConfiguration, op, fmt.Errorf("persona %s: %w", profile.ID, models.ErrTemplate))
	}
	if deps.Generator == nil {
		return nil, models.NewError(models.KindConfiguration, op, errors.New("generator is required"))
	}
	if opts.TopK < 0 {
		return nil, models.NewError(models.KindConfiguration, op, fmt.Errorf("top_k must not be negative, got %d", opts.TopK))
	}
	if profile.HasDocument() {
		if deps.Store == nil || deps.Embedder == nil || deps.Chunker == nil {
			return nil, models.NewError(models.KindConfiguration, op, fmt.Errorf("persona %s needs a store, an embedder and a chunker", profile.ID))
		}
	}
	if deps.Loader == nil {
		deps.Loader = parser.Load
	}
	return &Pipeline{profile: profile, deps: deps, opts: opts}, nil
}

func (p *Pipeline) Profile() persona.Profile { return p.profile }

func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Setup builds or loads the persona's index and moves the pipeline to
// Ready. A failed setup leaves it Uninitialized so the next call retries.
func (p *Pipeline) Setup(ctx context.Context) error {
	if p.State() == Ready {
		return nil
	}
	// callers joining an in-flight build must not abort it for the others
	shared := context.WithoutCancel(ctx)
	_, err, joined := p.group.Do(p.profile.ID, func() (any, error) {
		if p.State() == Ready {
			return nil, nil
		}
		r, err := p.buildOrLoad(shared)

		p.mu.Lock()
		defer p.mu.Unlock()
		event := SetupSucceeded
		if err != nil {
			event = SetupFailed
		}
		next, terr := Transition(p.state, event)
		if terr != nil {
			return nil, terr
		}
		p.state = next
		if err == nil {
			p.retriever = r
		}
		return nil, err
	})
	if joined {
		log.Debug().Str("persona", p.profile.ID).Msg("Joined in-flight setup")
	}
	return err
}

func (p *Pipeline) buildOrLoad(ctx context.Context) (*retriever.Retriever, error) {
	if !p.profile.HasDocument() {
		return nil, nil
	}
	id := p.profile.ID

	index, manifest, err := p.deps.Store.Load(ctx, id)
	switch {
	case err == nil:
		if manifest != nil && manifest.Embedder != p.deps.EmbedderName {
			log.Warn().Str("persona", id).Str("index_embedder", manifest.Embedder).Str("embedder", p.deps.EmbedderName).
				Msg("Index was built with a different embedder, retrieval quality will suffer")
		}
		return retriever.New(p.deps.Embedder, index, p.opts.TopK)
	case !errors.Is(err, models.ErrIndexNotFound):
		return nil, wrapInternal("rag.Setup", err)
	}

	log.Info().Str("persona", id).Str("document", p.profile.Document).Msg("No persisted index, building")
	doc, err := p.deps.Loader(p.profile.Document)
	if err != nil {
		return nil, err
	}
	chunks := p.deps.Chunker.Split(doc)
	if len(chunks) == 0 {
		return nil, models.NewError(models.KindConfiguration, "rag.Setup", fmt.Errorf("document %s produced no chunks", p.profile.Document))
	}

	vectors, err := embedding.GenerateEmbedding(ctx, p.deps.Embedder, chunks)
	if err != nil {
		return nil, err
	}
	entries := make([]models.ChunkEmbedding, len(chunks))
	for i, c := range chunks {
		entries[i] = models.ChunkEmbedding{Chunk: c, Embedding: vectors[i]}
	}

	m, err := vectordb.NewManifest(id, p.profile.Document, p.deps.EmbedderName, p.deps.Chunker.Size, p.deps.Chunker.Overlap)
	if err != nil {
		return nil, wrapInternal("rag.Setup", err)
	}
	index, err = p.deps.Store.Build(ctx, id, entries, m)
	if err != nil {
		return nil, wrapInternal("rag.Setup", err)
	}
	return retriever.New(p.deps.Embedder, index, p.opts.TopK)
}

// Query answers question in the persona's voice. It returns either a
// complete result or an error, never an answer without its citations.
func (p *Pipeline) Query(ctx context.Context, question string) (*models.QueryResult, error) {
	const op = "rag.Query"
	if strings.TrimSpace(question) == "" {
		return nil, models.NewError(models.KindConfiguration, op, models.ErrEmptyQuestion)
	}

	p.mu.RLock()
	state, r := p.state, p.retriever
	p.mu.RUnlock()

	if _, err := Transition(state, Queried); err != nil {
		if !p.opts.Lazy {
			return nil, err
		}
		if err := p.Setup(ctx); err != nil {
			return nil, err
		}
		p.mu.RLock()
		r = p.retriever
		p.mu.RUnlock()
	}

	evidence, citations := Placeholder, []models.Citation{}
	if p.profile.HasDocument() {
		chunks, err := r.Retrieve(ctx, question)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("persona", p.profile.ID).Int("k", r.K()).Int("chunks", len(chunks)).Msg("Retrieved context")
		evidence, citations = Assemble(p.profile.Label(), chunks)
	}

	prompt, err := p.profile.Prompt.Render(evidence, question)
	if err != nil {
		return nil, err
	}

	answer, err := p.deps.Generator.Complete(ctx, prompt)
	if err != nil {
		if models.KindOf(err) != models.KindGeneration {
			err = models.NewError(models.KindGeneration, op, err)
		}
		return nil, err
	}
	log.Info().Str("persona", p.profile.ID).Int("sources", len(citations)).Msg("Answered question")
	return &models.QueryResult{Response: answer, Sources: citations}, nil
}

func wrapInternal(op string, err error) error {
	if models.KindOf(err) != models.KindInternal {
		return err
	}
	return models.NewError(models.KindInternal, op, err)
}
