package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"persona-rag/internal/models"
	"persona-rag/internal/vectordb"
)

const (
	collectionName = "chunks"
	stagingSuffix  = ".building"
)

// errNoTextQuery guards against chromem embedding text on its own: every
// query must arrive as a vector from the index's embedder.
var errNoTextQuery = errors.New("chromemdb: text queries are not supported, pass an embedding")

func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoTextQuery
}

// VectorDBManager keeps one persistent chromem DB per persona under dbPath
type VectorDBManager struct {
	dbPath        string
	compress      bool
	encryptionKey string
}

var _ vectordb.Store = (*VectorDBManager)(nil)

// NewVectorDBManager initializes the store root directory
func NewVectorDBManager(dbPath string, compress bool, encryptionKey string) (*VectorDBManager, error) {
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}
	return &VectorDBManager{
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
	}, nil
}

func (m *VectorDBManager) personaPath(persona string) string {
	return filepath.Join(m.dbPath, persona)
}

// Load opens the persisted index for persona. Stores without a manifest or
// whose document count disagrees with it are left over from an interrupted
// build; they are removed and reported as not found.
func (m *VectorDBManager) Load(ctx context.Context, persona string) (vectordb.Index, *vectordb.Manifest, error) {
	path := m.personaPath(persona)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, models.ErrIndexNotFound
		}
		return nil, nil, err
	}

	manifest, err := vectordb.ReadManifest(path)
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, vectordb.ErrInvalidManifest):
		log.Warn().Err(err).Str("persona", persona).Str("path", path).Msg("Discarding incomplete vector store")
		return nil, nil, m.discardPartial(ctx, persona)
	case err != nil:
		return nil, nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	// the index keeps the encoding it was built with
	db, err := chromem.NewPersistentDB(path, manifest.Compress)
	if err != nil {
		log.Warn().Err(err).Str("persona", persona).Msg("Discarding unreadable vector store")
		return nil, nil, m.discardPartial(ctx, persona)
	}
	c := db.GetCollection(collectionName, noEmbedding)
	if c == nil || c.Count() != manifest.Chunks {
		count := 0
		if c != nil {
			count = c.Count()
		}
		log.Warn().Str("persona", persona).Int("documents", count).Int("expected", manifest.Chunks).Msg("Discarding partial vector store")
		return nil, nil, m.discardPartial(ctx, persona)
	}

	log.Info().Str("persona", persona).Int("chunks", c.Count()).Str("build_id", manifest.BuildID).Msg("Loaded vector store")
	return &Index{collection: c}, manifest, nil
}

func (m *VectorDBManager) discardPartial(ctx context.Context, persona string) error {
	if err := m.Discard(ctx, persona); err != nil {
		return err
	}
	return models.ErrIndexNotFound
}

// Build writes entries into a staging directory, records the manifest and
// moves the result into place, replacing any previous index.
func (m *VectorDBManager) Build(ctx context.Context, persona string, entries []models.ChunkEmbedding, manifest vectordb.Manifest) (vectordb.Index, error) {
	if len(entries) == 0 {
		return nil, models.NewError(models.KindConfiguration, "chromemdb.Build", errors.New("refusing to build an index with zero chunks"))
	}

	staging := m.personaPath(persona) + stagingSuffix
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("failed to clear staging directory: %v", err)
	}

	if err := m.writeStaging(ctx, staging, persona, entries, &manifest); err != nil {
		_ = os.RemoveAll(staging)
		return nil, err
	}

	final := m.personaPath(persona)
	if err := os.RemoveAll(final); err != nil {
		_ = os.RemoveAll(staging)
		return nil, fmt.Errorf("failed to remove previous index: %v", err)
	}
	if err := os.Rename(staging, final); err != nil {
		_ = os.RemoveAll(staging)
		return nil, fmt.Errorf("failed to move index into place: %v", err)
	}

	log.Info().Str("persona", persona).Int("chunks", len(entries)).Str("path", final).Msg("Vector store created")
	idx, _, err := m.Load(ctx, persona)
	return idx, err
}

func (m *VectorDBManager) writeStaging(ctx context.Context, staging, persona string, entries []models.ChunkEmbedding, manifest *vectordb.Manifest) error {
	db, err := chromem.NewPersistentDB(staging, m.compress)
	if err != nil {
		return fmt.Errorf("failed to create database: %v", err)
	}
	c, err := db.CreateCollection(collectionName, map[string]string{"persona": persona}, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create collection: %v", err)
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		docs[i] = toDocument(persona, e)
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}

	manifest.Persona = persona
	manifest.Chunks = len(entries)
	manifest.Dimension = len(entries[0].Embedding)
	manifest.Compress = m.compress
	return vectordb.WriteManifest(staging, *manifest)
}

// Discard deletes the persona's index and any staging leftovers
func (m *VectorDBManager) Discard(ctx context.Context, persona string) error {
	for _, p := range []string{m.personaPath(persona), m.personaPath(persona) + stagingSuffix} {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("failed to discard %s: %v", p, err)
		}
	}
	return nil
}

func documentID(persona string, chunkID int) string {
	return fmt.Sprintf("%s-%d", persona, chunkID)
}

func toDocument(persona string, e models.ChunkEmbedding) chromem.Document {
	return chromem.Document{
		ID:      documentID(persona, e.Chunk.ChunkID),
		Content: e.Chunk.Content,
		Metadata: map[string]string{
			"page":     strconv.Itoa(e.Chunk.PageNumber),
			"chunk_id": strconv.Itoa(e.Chunk.ChunkID),
			"start":    strconv.Itoa(e.Chunk.Start),
			"end":      strconv.Itoa(e.Chunk.End),
		},
		Embedding: e.Embedding,
	}
}

func toChunk(content string, metadata map[string]string) models.Chunk {
	atoi := func(k string) int {
		v, _ := strconv.Atoi(metadata[k])
		return v
	}
	return models.Chunk{
		Content:    content,
		PageNumber: atoi("page"),
		ChunkID:    atoi("chunk_id"),
		Start:      atoi("start"),
		End:        atoi("end"),
	}
}

// Index is a loaded chromem collection
type Index struct {
	collection *chromem.Collection
}

func (i *Index) Count() int {
	if i == nil || i.collection == nil {
		return 0
	}
	return i.collection.Count()
}

// Query runs a cosine similarity search
func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if i == nil || i.collection == nil {
		return nil, models.NewError(models.KindNotInitialized, "chromemdb.Query", errors.New("index not built or loaded"))
	}
	n := vectordb.Limit(k, i.collection.Count())
	if n == 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(vector) == 0 {
		return nil, errors.New("query embedding must be provided")
	}

	results, err := i.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}
	out := make([]models.ScoredChunk, len(results))
	for j, r := range results {
		out[j] = models.ScoredChunk{Chunk: toChunk(r.Content, r.Metadata), Similarity: r.Similarity}
	}
	vectordb.SortResults(out)
	return out, nil
}
