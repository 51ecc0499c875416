package chromemdb

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"persona-rag/internal/embedding"
	"persona-rag/internal/models"
	"persona-rag/internal/vectordb"
)

var texts = []string{
	"Your work is going to fill a large part of your life.",
	"You can't connect the dots looking forward; you can only connect them looking backwards.",
	"Stay hungry. Stay foolish.",
	"Remembering that I'll be dead soon is the most important tool I've ever encountered.",
	"Sometimes life is going to hit you in the head with a brick. Don't lose faith.",
}

func entries(t *testing.T, e *embedding.HashEmbedder) []models.ChunkEmbedding {
	t.Helper()
	vecs, err := e.EmbedDocuments(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]models.ChunkEmbedding, len(texts))
	for i, txt := range texts {
		out[i] = models.ChunkEmbedding{
			Chunk:     models.Chunk{Content: txt, PageNumber: i/2 + 1, ChunkID: i, Start: i * 10, End: i*10 + len(txt)},
			Embedding: vecs[i],
		}
	}
	return out
}

func newManager(t *testing.T, dir string) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager(dir, false, "")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func build(t *testing.T, m *VectorDBManager, e *embedding.HashEmbedder) vectordb.Index {
	t.Helper()
	idx, err := m.Build(context.Background(), "steve_jobs", entries(t, e), vectordb.Manifest{Embedder: "hash:64"})
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestBuildAndQuery(t *testing.T) {
	e := embedding.NewHashEmbedder(64)
	m := newManager(t, t.TempDir())
	idx := build(t, m, e)
	if idx.Count() != len(texts) {
		t.Fatalf("Count=%d", idx.Count())
	}

	q, _ := e.EmbedQuery(context.Background(), "connect the dots looking backwards")
	results, err := idx.Query(context.Background(), q, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Chunk.ChunkID != 1 {
		t.Errorf("top result should be chunk 1, got %d", results[0].Chunk.ChunkID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not in descending order at %d", i)
		}
	}
	top := results[0].Chunk
	if top.Content != texts[1] || top.PageNumber != 1 || top.Start != 10 {
		t.Errorf("metadata not restored: %+v", top)
	}
}

func TestQuery_Limits(t *testing.T) {
	e := embedding.NewHashEmbedder(64)
	idx := build(t, newManager(t, t.TempDir()), e)
	q, _ := e.EmbedQuery(context.Background(), "faith")

	results, err := idx.Query(context.Background(), q, 0)
	if err != nil || len(results) != 0 {
		t.Errorf("k=0: got %d results, err=%v", len(results), err)
	}
	results, err = idx.Query(context.Background(), q, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(texts) {
		t.Errorf("k>count: got %d results", len(results))
	}
}

func TestQuery_NilIndex(t *testing.T) {
	var idx *Index
	_, err := idx.Query(context.Background(), []float32{1}, 1)
	if !errors.Is(err, models.ErrNotInitialized) {
		t.Errorf("expected not initialized, got %v", err)
	}
}

func TestBuild_ZeroChunks(t *testing.T) {
	m := newManager(t, t.TempDir())
	_, err := m.Build(context.Background(), "p", nil, vectordb.Manifest{})
	if !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestLoad_NotFound(t *testing.T) {
	m := newManager(t, t.TempDir())
	if _, _, err := m.Load(context.Background(), "nobody"); !errors.Is(err, models.ErrIndexNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestLoad_RoundTripInFreshManager(t *testing.T) {
	dir := t.TempDir()
	e := embedding.NewHashEmbedder(64)
	idx := build(t, newManager(t, dir), e)
	q, _ := e.EmbedQuery(context.Background(), "what is the most important tool")
	before, err := idx.Query(context.Background(), q, 4)
	if err != nil {
		t.Fatal(err)
	}

	loaded, manifest, err := newManager(t, dir).Load(context.Background(), "steve_jobs")
	if err != nil {
		t.Fatal(err)
	}
	if manifest.Chunks != len(texts) || manifest.Dimension != 64 || manifest.Embedder != "hash:64" {
		t.Errorf("manifest=%+v", manifest)
	}
	after, err := loaded.Query(context.Background(), q, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("got %d results after reload, want %d", len(after), len(before))
	}
	for i := range before {
		if before[i].Chunk.ChunkID != after[i].Chunk.ChunkID {
			t.Errorf("result %d: chunk %d vs %d", i, before[i].Chunk.ChunkID, after[i].Chunk.ChunkID)
		}
		if math.Abs(float64(before[i].Similarity-after[i].Similarity)) > 1e-5 {
			t.Errorf("result %d: similarity %f vs %f", i, before[i].Similarity, after[i].Similarity)
		}
	}
}

func TestLoad_DiscardsStoreWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	build(t, m, embedding.NewHashEmbedder(64))

	// simulate a crash before the manifest was written
	if err := os.Remove(filepath.Join(dir, "steve_jobs", vectordb.ManifestFile)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Load(context.Background(), "steve_jobs"); !errors.Is(err, models.ErrIndexNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "steve_jobs")); !os.IsNotExist(err) {
		t.Error("partial store should have been removed")
	}
}

func TestLoad_DiscardsCountMismatch(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	build(t, m, embedding.NewHashEmbedder(64))

	path := filepath.Join(dir, "steve_jobs")
	manifest, err := vectordb.ReadManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	manifest.Chunks++
	if err := vectordb.WriteManifest(path, *manifest); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Load(context.Background(), "steve_jobs"); !errors.Is(err, models.ErrIndexNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBuild_ReplacesStagingLeftovers(t *testing.T) {
	dir := t.TempDir()
	staging := filepath.Join(dir, "steve_jobs"+stagingSuffix)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staging, "junk"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := newManager(t, dir)
	build(t, m, embedding.NewHashEmbedder(64))
	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Error("staging directory should be gone after a build")
	}
}

func TestExportImport(t *testing.T) {
	dir := t.TempDir()
	e := embedding.NewHashEmbedder(64)
	m := newManager(t, filepath.Join(dir, "a"))
	build(t, m, e)

	file := filepath.Join(dir, "steve_jobs.gob")
	if err := m.Export(context.Background(), "steve_jobs", file); err != nil {
		t.Fatal(err)
	}

	other := newManager(t, filepath.Join(dir, "b"))
	if err := other.Import(context.Background(), "steve_jobs", file); err != nil {
		t.Fatal(err)
	}
	idx, _, err := other.Load(context.Background(), "steve_jobs")
	if err != nil {
		t.Fatal(err)
	}
	if idx.Count() != len(texts) {
		t.Errorf("imported Count=%d", idx.Count())
	}
}

func TestLoad_KeepsIndexBuiltWithOtherCompression(t *testing.T) {
	dir := t.TempDir()
	e := embedding.NewHashEmbedder(64)
	compressed, err := NewVectorDBManager(dir, true, "")
	if err != nil {
		t.Fatal(err)
	}
	build(t, compressed, e)

	idx, manifest, err := newManager(t, dir).Load(context.Background(), "steve_jobs")
	if err != nil {
		t.Fatalf("index built compressed should load, got %v", err)
	}
	if !manifest.Compress {
		t.Error("manifest should record the compressed build")
	}
	q, _ := e.EmbedQuery(context.Background(), "stay hungry")
	res, err := idx.Query(context.Background(), q, 2)
	if err != nil || len(res) != 2 {
		t.Fatalf("query after load: %d results, %v", len(res), err)
	}
}

func TestLoad_DiscardsUndecodableManifest(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	build(t, m, embedding.NewHashEmbedder(64))

	if err := os.WriteFile(filepath.Join(dir, "steve_jobs", vectordb.ManifestFile), []byte("chunks: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Load(context.Background(), "steve_jobs"); !errors.Is(err, models.ErrIndexNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLoad_ManifestReadErrorKeepsStore(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	build(t, m, embedding.NewHashEmbedder(64))

	// a manifest path that exists but cannot be read as a file
	manifestPath := filepath.Join(dir, "steve_jobs", vectordb.ManifestFile)
	if err := os.Remove(manifestPath); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(manifestPath, 0o755); err != nil {
		t.Fatal(err)
	}

	_, _, err := m.Load(context.Background(), "steve_jobs")
	if err == nil || errors.Is(err, models.ErrIndexNotFound) {
		t.Fatalf("expected the read error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "steve_jobs")); err != nil {
		t.Errorf("store should be kept: %v", err)
	}
}
