package chromemdb

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"persona-rag/internal/models"
	"persona-rag/internal/vectordb"
)

const manifestSuffix = ".manifest.yaml"

// Export writes the persona's index to a single gob file, encrypted when
// an encryption key is configured (chromem requires 32 bytes). The manifest
// is written next to it.
func (m *VectorDBManager) Export(ctx context.Context, persona, filePath string) error {
	path := m.personaPath(persona)
	manifest, err := vectordb.ReadManifest(path)
	if err != nil {
		return fmt.Errorf("no complete index for %s: %w", persona, models.ErrIndexNotFound)
	}
	db, err := chromem.NewPersistentDB(path, manifest.Compress)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}

	log.Debug().Str("persona", persona).Str("file", filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := db.ExportToFile(filePath, m.compress, m.encryptionKey, collectionName); err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	return vectordb.WriteManifestFile(filePath+manifestSuffix, *manifest)
}

// Import replaces the persona's index with the content of an exported file
func (m *VectorDBManager) Import(ctx context.Context, persona, filePath string) error {
	manifest, err := vectordb.ReadManifestFile(filePath + manifestSuffix)
	if err != nil {
		return fmt.Errorf("missing manifest for %s: %w", filePath, err)
	}

	mem := chromem.NewDB()
	if err := mem.ImportFromFile(filePath, m.encryptionKey, collectionName); err != nil {
		return fmt.Errorf("failed to import database: %v", err)
	}
	c := mem.GetCollection(collectionName, noEmbedding)
	if c == nil || c.Count() != manifest.Chunks {
		return fmt.Errorf("export file does not match its manifest")
	}

	entries := make([]models.ChunkEmbedding, 0, manifest.Chunks)
	for i := 0; i < manifest.Chunks; i++ {
		doc, err := c.GetByID(ctx, documentID(manifest.Persona, i))
		if err != nil {
			return fmt.Errorf("failed to read document %d: %v", i, err)
		}
		entries = append(entries, models.ChunkEmbedding{
			Chunk:     toChunk(doc.Content, doc.Metadata),
			Embedding: doc.Embedding,
		})
	}

	_, err = m.Build(ctx, persona, entries, *manifest)
	return err
}
