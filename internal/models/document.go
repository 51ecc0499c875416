package models

import "strings"

// PageSeparator joins page texts into the document text
const PageSeparator = "\n\n"

// Span is a half-open rune range of the document text owned by a page
type Span struct {
	PageNumber int
	Start      int
	End        int
}

// Text returns the concatenated document text
func (d Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, PageSeparator)
}

// Spans returns the rune range of each page within Text()
func (d Document) Spans() []Span {
	spans := make([]Span, 0, len(d.Pages))
	sepLen := len([]rune(PageSeparator))
	offset := 0
	for i, p := range d.Pages {
		if i > 0 {
			offset += sepLen
		}
		n := len([]rune(p.Text))
		spans = append(spans, Span{PageNumber: p.Number, Start: offset, End: offset + n})
		offset += n
	}
	return spans
}
