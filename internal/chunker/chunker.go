// Package chunker splits documents into overlapping fixed-size windows.
package chunker

import (
	"fmt"

	"persona-rag/internal/models"
)

// boundary classes, best first
var separators = [][]string{
	{"\n\n"},
	{". ", "! ", "? ", ".\n", "!\n", "?\n"},
	{" ", "\n", "\t"},
}

// Chunker packs document text into windows of at most Size runes, each
// starting Overlap runes before the end of the previous one.
type Chunker struct {
	Size    int
	Overlap int
}

// New validates the chunking parameters
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, models.NewError(models.KindConfiguration, "chunker.New", fmt.Errorf("chunk size must be positive, got %d", size))
	}
	if overlap < 0 || overlap >= size {
		return nil, models.NewError(models.KindConfiguration, "chunker.New", fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap))
	}
	return &Chunker{Size: size, Overlap: overlap}, nil
}

// Split chunks the document text. An empty document yields no chunks.
func (c *Chunker) Split(doc models.Document) []models.Chunk {
	text := []rune(doc.Text())
	spans := doc.Spans()

	var chunks []models.Chunk
	for _, w := range c.windows(text) {
		chunks = append(chunks, models.Chunk{
			Content:    string(text[w[0]:w[1]]),
			PageNumber: majorityPage(spans, w[0], w[1]),
			ChunkID:    len(chunks),
			Start:      w[0],
			End:        w[1],
		})
	}
	return chunks
}

// windows returns the [start, end) rune ranges of every chunk
func (c *Chunker) windows(text []rune) [][2]int {
	n := len(text)
	if n == 0 {
		return nil
	}

	var out [][2]int
	start := 0
	for {
		if n-start <= c.Size {
			out = append(out, [2]int{start, n})
			return out
		}
		end := c.breakPoint(text, start, start+c.Size)
		out = append(out, [2]int{start, end})
		start = end - c.Overlap
	}
}

// breakPoint finds the end of the window beginning at start. The break must
// lie past start+Overlap so the next window advances.
func (c *Chunker) breakPoint(text []rune, start, limit int) int {
	floor := start + c.Overlap + 1
	for _, class := range separators {
		best := -1
		for _, sep := range class {
			if pos := lastBreak(text, sep, floor, limit); pos > best {
				best = pos
			}
		}
		if best >= 0 {
			return best
		}
	}
	return limit
}

// lastBreak returns the largest position p in [floor, limit] such that sep
// ends exactly at p, or -1.
func lastBreak(text []rune, sep string, floor, limit int) int {
	s := []rune(sep)
	for p := limit; p >= floor; p-- {
		if p < len(s) {
			break
		}
		if runesEqual(text[p-len(s):p], s) {
			return p
		}
	}
	return -1
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// majorityPage picks the page contributing most runes to [start, end),
// the earliest one on a tie.
func majorityPage(spans []models.Span, start, end int) int {
	page, most := 0, 0
	for _, s := range spans {
		lo, hi := max(s.Start, start), min(s.End, end)
		if hi-lo > most {
			page, most = s.PageNumber, hi-lo
		}
	}
	if page == 0 && len(spans) > 0 {
		// window made only of separator runes
		for _, s := range spans {
			if s.End >= start {
				return s.PageNumber
			}
		}
		return spans[len(spans)-1].PageNumber
	}
	return page
}

// Reconstruct rebuilds the original text from chunks produced with the
// given overlap.
func Reconstruct(chunks []models.Chunk, overlap int) string {
	var out []rune
	for i, ch := range chunks {
		r := []rune(ch.Content)
		if i > 0 {
			r = r[overlap:]
		}
		out = append(out, r...)
	}
	return string(out)
}
