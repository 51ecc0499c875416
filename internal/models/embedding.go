package models

// Page is one page of a source document
type Page struct {
	Number int
	Text   string
}

// Document is an ordered sequence of pages loaded from a single source
type Document struct {
	Source string
	Pages  []Page
}

// Chunk represents a window of the document text with metadata
type Chunk struct {
	Content    string
	PageNumber int
	ChunkID    int
	Start      int
	End        int
}

// ScoredChunk is a chunk returned by a similarity search
type ScoredChunk struct {
	Chunk      Chunk
	Similarity float32
}

// Citation is the provenance of one retrieved chunk
type Citation struct {
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Page    int    `json:"page"`
}

// QueryResult is the answer to a single question plus its citations
type QueryResult struct {
	Response string     `json:"response"`
	Sources  []Citation `json:"sources"`
}

// ChunkEmbedding is a chunk paired with its vector, one index entry
type ChunkEmbedding struct {
	Chunk     Chunk
	Embedding []float32
}
