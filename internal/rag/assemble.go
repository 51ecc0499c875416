package rag

import (
	"fmt"
	"strings"

	"persona-rag/internal/models"
)

const (
	contextSeparator = "\n\n"
	excerptRunes     = 200
	truncationMarker = "..."
)

// Placeholder is the context given to personas without a source document
const Placeholder = "[No specific source material available, respond based on general knowledge of this person's philosophy and style]"

// Assemble joins retrieved chunks into a prompt context, best match first,
// and builds one citation per chunk titled after label.
func Assemble(label string, chunks []models.ScoredChunk) (string, []models.Citation) {
	citations := make([]models.Citation, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Chunk.Content)
		page := c.Chunk.PageNumber
		if page <= 0 {
			page = c.Chunk.ChunkID + 1
		}
		citations = append(citations, models.Citation{
			Title:   fmt.Sprintf("%s - Page %d", label, page),
			Excerpt: excerpt(c.Chunk.Content),
			Page:    page,
		})
	}
	return strings.Join(texts, contextSeparator), citations
}

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= excerptRunes {
		return text
	}
	return string(r[:excerptRunes]) + truncationMarker
}
