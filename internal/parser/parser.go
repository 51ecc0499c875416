package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"persona-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

const defaultPageNumber = 1

var slideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// Load reads the document at filePath into pages. Blank pages are dropped.
// Any failure is reported as a document load error.
func Load(filePath string) (models.Document, error) {
	pages, err := readPages(filePath)
	if err != nil {
		return models.Document{}, models.NewError(models.KindDocumentLoad, "parser.Load", fmt.Errorf("%s: %w", filePath, err))
	}

	doc := models.Document{Source: filePath}
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		doc.Pages = append(doc.Pages, p)
	}
	log.Debug().Str("path", filePath).Int("pages", len(doc.Pages)).Msg("Loaded document")
	return doc, nil
}

func readPages(filePath string) ([]models.Page, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".ods":
		return parseODS(filePath)
	case ".md", ".markdown":
		return parseMarkdown(filePath)
	case ".txt":
		return parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func parsePDF(filePath string) ([]models.Page, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var pages []models.Page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Number: i, Text: pageText})
	}
	return pages, nil
}

// DOCX has no page numbers, the whole body is one page
func parseDOCX(filePath string) ([]models.Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := extractTextFromXML(r.Editable().GetContent(), "<w:t>", "<w:t ", "</w:t>", "</w:p>")
	return []models.Page{{Number: defaultPageNumber, Text: content}}, nil
}

// each slide becomes a page, in slide order
func parsePPTX(filePath string) ([]models.Page, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	slides := map[int]*zip.File{}
	var order []int
	for _, file := range f.File {
		m := slideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides[n] = file
		order = append(order, n)
	}
	sort.Ints(order)

	pages := make([]models.Page, 0, len(order))
	for _, n := range order {
		rc, err := slides[n].Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		pages = append(pages, models.Page{
			Number: n,
			Text:   extractTextFromXML(string(data), "<a:t>", "<a:t ", "</a:t>", "</a:p>"),
		})
	}
	return pages, nil
}

// each sheet becomes a page
func parseXLSX(filePath string) ([]models.Page, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []models.Page
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, models.Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

func parseODS(filePath string) ([]models.Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []models.Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		var text strings.Builder
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, models.Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

// form feeds split a plain text file into pages
func parseText(filePath string) ([]models.Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return splitFormFeeds(string(data)), nil
}

func splitFormFeeds(content string) []models.Page {
	parts := strings.Split(content, "\f")
	pages := make([]models.Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, models.Page{Number: i + 1, Text: part})
	}
	return pages
}

// extractTextFromXML pulls the text runs out of an OOXML part. Runs are
// separated by a space and paragraphs by a newline.
func extractTextFromXML(xmlContent, openTag, openTagAttrs, closeTag, paraTag string) string {
	var text strings.Builder
	for _, para := range strings.Split(xmlContent, paraTag) {
		var line strings.Builder
		rest := para
		for {
			idx := strings.Index(rest, openTag)
			if alt := strings.Index(rest, openTagAttrs); alt >= 0 && (idx < 0 || alt < idx) {
				idx = alt
			}
			if idx < 0 {
				break
			}
			rest = rest[idx:]
			start := strings.Index(rest, ">")
			end := strings.Index(rest, closeTag)
			if start < 0 || end < 0 || end < start {
				break
			}
			if line.Len() > 0 {
				line.WriteString(" ")
			}
			line.WriteString(rest[start+1 : end])
			rest = rest[end+len(closeTag):]
		}
		if line.Len() > 0 {
			text.WriteString(line.String())
			text.WriteString("\n")
		}
	}
	return text.String()
}
