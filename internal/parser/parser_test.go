package parser

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"persona-rag/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_TextPages(t *testing.T) {
	path := writeFile(t, "speech.txt", "Page one text.\fPage two text.\f   \fPage four text.")
	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Source != path {
		t.Errorf("source = %s", doc.Source)
	}
	if len(doc.Pages) != 3 {
		t.Fatalf("got %d pages, want 3 (blank page dropped)", len(doc.Pages))
	}
	wantNumbers := []int{1, 2, 4}
	for i, p := range doc.Pages {
		if p.Number != wantNumbers[i] {
			t.Errorf("page %d numbered %d, want %d", i, p.Number, wantNumbers[i])
		}
	}
	if doc.Text() != "Page one text.\n\nPage two text.\n\nPage four text." {
		t.Errorf("text = %q", doc.Text())
	}
}

func TestLoad_Markdown(t *testing.T) {
	src := "# Stay Hungry\n\nThis is *the* first paragraph\nwith a soft break.\n\n- one\n- two\n\n```\ncode line\n```\n"
	doc, err := Load(writeFile(t, "notes.md", src))
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Pages) != 1 {
		t.Fatalf("got %d pages", len(doc.Pages))
	}
	text := doc.Pages[0].Text
	for _, want := range []string{"Stay Hungry\n\n", "This is the first paragraph\nwith a soft break.", "one", "two", "code line"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in %q", want, text)
		}
	}
	if strings.ContainsAny(text, "#*`") {
		t.Errorf("markup left in %q", text)
	}
}

func TestLoad_PPTXSlideOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	slides := map[string]string{
		"ppt/slides/slide10.xml": "Tenth",
		"ppt/slides/slide2.xml":  "Second",
		"ppt/slides/slide1.xml":  "First",
	}
	for _, name := range []string{"ppt/slides/slide10.xml", "ppt/slides/slide2.xml", "ppt/slides/slide1.xml"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		xml := `<p:sld><a:p><a:r><a:t>` + slides[name] + `</a:t></a:r></a:p></p:sld>`
		if _, err := w.Write([]byte(xml)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	doc, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, p := range doc.Pages {
		got = append(got, strings.TrimSpace(p.Text))
	}
	if strings.Join(got, ",") != "First,Second,Tenth" {
		t.Errorf("slides = %v", got)
	}
	if doc.Pages[2].Number != 10 {
		t.Errorf("last slide numbered %d", doc.Pages[2].Number)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"unsupported", writeFile(t, "image.png", "png")},
		{"missing", filepath.Join(t.TempDir(), "gone.txt")},
		{"corrupt pdf", writeFile(t, "broken.pdf", "not a pdf")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			if !errors.Is(err, models.ErrDocumentLoad) {
				t.Errorf("expected document load error, got %v", err)
			}
		})
	}
}

func TestExtractTextFromXML(t *testing.T) {
	xml := `<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve">world</w:t></w:r></w:p><w:p><w:r><w:t>Again</w:t></w:r></w:p>`
	got := extractTextFromXML(xml, "<w:t>", "<w:t ", "</w:t>", "</w:p>")
	if got != "Hello world\nAgain\n" {
		t.Errorf("got %q", got)
	}
}
