package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"persona-rag/internal/config"
	"persona-rag/internal/models"
	"persona-rag/internal/vectordb"
)

// Document is one chunk row of a persona index
type Document struct {
	bun.BaseModel  `bun:"table:documents,alias:d"`
	ID             int64           `bun:"id,pk,autoincrement"`
	Persona        string          `bun:"persona,notnull"`
	ChunkID        int             `bun:"chunk_id,notnull"`
	PageNumber     int             `bun:"page_number,notnull"`
	StartOffset    int             `bun:"start_offset,notnull"`
	EndOffset      int             `bun:"end_offset,notnull"`
	Content        string          `bun:"content,notnull"`
	Embedding      pgvector.Vector `bun:"embedding,notnull"`
	SourceFilename string          `bun:"source_filename"`
}

// IndexManifest marks a completed build for a persona
type IndexManifest struct {
	bun.BaseModel `bun:"table:index_manifests,alias:m"`
	Persona       string    `bun:"persona,pk"`
	BuildID       string    `bun:"build_id,notnull"`
	Source        string    `bun:"source"`
	Embedder      string    `bun:"embedder,notnull"`
	Dimension     int       `bun:"dimension,notnull"`
	Chunks        int       `bun:"chunks,notnull"`
	ChunkSize     int       `bun:"chunk_size"`
	ChunkOverlap  int       `bun:"chunk_overlap"`
	BuiltAt       time.Time `bun:"built_at,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with the configured driver
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "pq":
		return sql.Open("postgres", cfg.URL)
	case "pgdriver", "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// InitDB creates the vector extension and tables. The embedding column is
// sized to vectorSize so mismatched embedders fail on insert.
func InitDB(ctx context.Context, db *bun.DB, vectorSize int) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*IndexManifest)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	persona VARCHAR NOT NULL,
	chunk_id BIGINT NOT NULL,
	page_number BIGINT NOT NULL,
	start_offset BIGINT NOT NULL,
	end_offset BIGINT NOT NULL,
	content VARCHAR NOT NULL,
	embedding vector(%d) NOT NULL,
	source_filename VARCHAR
)`, vectorSize)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	_, err := db.NewCreateIndex().
		Model((*Document)(nil)).
		Index("documents_persona_idx").
		Column("persona", "chunk_id").
		IfNotExists().
		Exec(ctx)
	return err
}

// Store is a postgres/pgvector backed vectordb.Store
type Store struct {
	db *bun.DB
}

var _ vectordb.Store = (*Store)(nil)

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persona's index when a manifest row exists and the row
// count agrees with it.
func (s *Store) Load(ctx context.Context, persona string) (vectordb.Index, *vectordb.Manifest, error) {
	var row IndexManifest
	err := s.db.NewSelect().Model(&row).Where("persona = ?", persona).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, models.ErrIndexNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	count, err := s.db.NewSelect().Model((*Document)(nil)).Where("persona = ?", persona).Count(ctx)
	if err != nil {
		return nil, nil, err
	}
	if count != row.Chunks {
		log.Warn().Str("persona", persona).Int("rows", count).Int("expected", row.Chunks).Msg("Discarding inconsistent vector index")
		if err := s.Discard(ctx, persona); err != nil {
			return nil, nil, err
		}
		return nil, nil, models.ErrIndexNotFound
	}

	m := fromRow(row)
	return &Index{db: s.db, persona: persona, count: count}, &m, nil
}

// Build replaces the persona's rows in a single transaction
func (s *Store) Build(ctx context.Context, persona string, entries []models.ChunkEmbedding, manifest vectordb.Manifest) (vectordb.Index, error) {
	if len(entries) == 0 {
		return nil, models.NewError(models.KindConfiguration, "db.Build", errors.New("refusing to build an index with zero chunks"))
	}
	manifest.Persona = persona
	manifest.Chunks = len(entries)
	manifest.Dimension = len(entries[0].Embedding)

	docs := make([]Document, len(entries))
	for i, e := range entries {
		docs[i] = Document{
			Persona:        persona,
			ChunkID:        e.Chunk.ChunkID,
			PageNumber:     e.Chunk.PageNumber,
			StartOffset:    e.Chunk.Start,
			EndOffset:      e.Chunk.End,
			Content:        e.Chunk.Content,
			Embedding:      pgvector.NewVector(e.Embedding),
			SourceFilename: manifest.Source,
		}
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := deletePersona(ctx, tx, persona); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(&docs).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert documents: %w", err)
		}
		row := toRow(manifest)
		_, err := tx.NewInsert().Model(&row).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("persona", persona).Int("chunks", len(entries)).Msg("Vector index stored in postgres")
	return &Index{db: s.db, persona: persona, count: len(entries)}, nil
}

func (s *Store) Discard(ctx context.Context, persona string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return deletePersona(ctx, tx, persona)
	})
}

func deletePersona(ctx context.Context, tx bun.Tx, persona string) error {
	if _, err := tx.NewDelete().Model((*Document)(nil)).Where("persona = ?", persona).Exec(ctx); err != nil {
		return err
	}
	_, err := tx.NewDelete().Model((*IndexManifest)(nil)).Where("persona = ?", persona).Exec(ctx)
	return err
}

// Index queries one persona's rows by cosine distance
type Index struct {
	db      *bun.DB
	persona string
	count   int
}

func (i *Index) Count() int {
	if i == nil {
		return 0
	}
	return i.count
}

func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if i == nil || i.db == nil {
		return nil, models.NewError(models.KindNotInitialized, "db.Query", errors.New("index not built or loaded"))
	}
	n := vectordb.Limit(k, i.count)
	if n == 0 {
		return []models.ScoredChunk{}, nil
	}

	var rows []scoredRow
	err := i.db.NewSelect().
		Model((*Document)(nil)).
		Column("chunk_id", "page_number", "start_offset", "end_offset", "content").
		ColumnExpr("1 - (embedding <=> ?) AS similarity", pgvector.NewVector(vector)).
		Where("persona = ?", i.persona).
		OrderExpr("embedding <=> ?", pgvector.NewVector(vector)).
		Limit(n).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return scoredChunks(rows), nil
}

type scoredRow struct {
	ChunkID     int     `bun:"chunk_id"`
	PageNumber  int     `bun:"page_number"`
	StartOffset int     `bun:"start_offset"`
	EndOffset   int     `bun:"end_offset"`
	Content     string  `bun:"content"`
	Similarity  float64 `bun:"similarity"`
}

func scoredChunks(rows []scoredRow) []models.ScoredChunk {
	out := make([]models.ScoredChunk, len(rows))
	for j, r := range rows {
		out[j] = models.ScoredChunk{
			Chunk: models.Chunk{
				Content:    r.Content,
				PageNumber: r.PageNumber,
				ChunkID:    r.ChunkID,
				Start:      r.StartOffset,
				End:        r.EndOffset,
			},
			Similarity: float32(r.Similarity),
		}
	}
	vectordb.SortResults(out)
	return out
}

func toRow(m vectordb.Manifest) IndexManifest {
	return IndexManifest{
		Persona:      m.Persona,
		BuildID:      m.BuildID,
		Source:       m.Source,
		Embedder:     m.Embedder,
		Dimension:    m.Dimension,
		Chunks:       m.Chunks,
		ChunkSize:    m.ChunkSize,
		ChunkOverlap: m.ChunkOverlap,
		BuiltAt:      m.BuiltAt,
	}
}

func fromRow(r IndexManifest) vectordb.Manifest {
	return vectordb.Manifest{
		Persona:      r.Persona,
		BuildID:      r.BuildID,
		Source:       r.Source,
		Embedder:     r.Embedder,
		Dimension:    r.Dimension,
		Chunks:       r.Chunks,
		ChunkSize:    r.ChunkSize,
		ChunkOverlap: r.ChunkOverlap,
		BuiltAt:      r.BuiltAt,
	}
}
