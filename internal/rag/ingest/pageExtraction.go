package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/akolanti/kbchat/internal/domain/commonModels"
	"github.com/dslipak/pdf"
	"github.com/lu4p/cat"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"
)

const pageExtractTimeout = 10 * time.Second

type rawPage struct {
	Number  int    `json:"number"`
	Content string `json:"content"`
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeText applies NFKC, drops NUL bytes and collapses every whitespace run to a single space.
func NormalizeText(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\x00", "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func getDocType(ext string) commonModels.DocType {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	switch ext {
	case ".pdf":
		return commonModels.PDF
	case ".doc", ".docx", ".rtf", ".odt":
		return commonModels.DOCX
	case ".txt", ".md":
		return commonModels.TXT
	case ".csv":
		return commonModels.CSV
	case ".xlsx":
		return commonModels.XLSX
	default:
		return commonModels.ERR
	}
}

// DocTypeFor reports the document type for a file name or bare extension.
func DocTypeFor(name string) commonModels.DocType {
	if ext := filepath.Ext(name); ext != "" {
		return getDocType(ext)
	}
	return getDocType(name)
}

// ExtractText returns the normalized text of the file at path. ext is the declared extension.
func ExtractText(path string, ext string) (string, error) {
	docType := getDocType(ext)
	if docType == commonModels.ERR {
		return "", fmt.Errorf("%w: %s", commonModels.ErrUnsupportedFileType, ext)
	}
	pages, err := extractPages(path, docType)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Content)
	}
	return strings.Join(parts, " "), nil
}

// extractPages returns normalized, non-empty pages.
func extractPages(path string, docType commonModels.DocType) ([]rawPage, error) {
	var pages []rawPage
	var err error

	switch docType {
	case commonModels.PDF:
		pages, err = extractPDF(path)
	case commonModels.DOCX, commonModels.TXT:
		pages, err = extractDocxTxtRtf(path)
	case commonModels.CSV:
		pages, err = extractCSV(path)
	case commonModels.XLSX:
		pages, err = extractXLSX(path)
	default:
		return nil, fmt.Errorf("%w: %s", commonModels.ErrUnsupportedFileType, docType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", commonModels.ErrExtractionFailed, err)
	}

	cleaned := make([]rawPage, 0, len(pages))
	for _, p := range pages {
		p.Content = NormalizeText(p.Content)
		if p.Content != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: no text found", commonModels.ErrExtractionFailed)
	}
	return cleaned, nil
}

func extractPDF(path string) ([]rawPage, error) {
	f, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	var pages []rawPage
	numPages := f.NumPage()
	for i := 1; i <= numPages; i++ {
		page := f.Page(i)
		if page.V.IsNull() {
			continue
		}

		content, err := protectExtract(page)
		if err != nil {
			// one broken page fails the document, partial ingestion is not allowed
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, rawPage{Number: i, Content: content})
	}
	return pages, nil
}

// doc, docx, rtf, odt and plaintext all go through cat
func extractDocxTxtRtf(path string) ([]rawPage, error) {
	text, err := cat.File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to extract document: %w", err)
	}
	return []rawPage{{Number: 1, Content: text}}, nil
}

func extractCSV(path string) ([]rawPage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var b strings.Builder
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		b.WriteString(strings.Join(record, " "))
		b.WriteString("\n")
	}
	return []rawPage{{Number: 1, Content: b.String()}}, nil
}

// every sheet becomes one page
func extractXLSX(path string) ([]rawPage, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	var pages []rawPage
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			b.WriteString(strings.Join(row, " "))
			b.WriteString("\n")
		}
		pages = append(pages, rawPage{Number: i + 1, Content: b.String()})
	}
	return pages, nil
}

func protectExtract(page pdf.Page) (string, error) {
	type result struct {
		content string
		err     error
	}
	resChan := make(chan result, 1)

	go func() {
		defer func() {
			// the pdf parser panics on some malformed streams
			if r := recover(); r != nil {
				resChan <- result{"", fmt.Errorf("pdf parser panic: %v", r)}
			}
		}()
		content, err := page.GetPlainText(nil)
		resChan <- result{content, err}
	}()
	select {
	case r := <-resChan:
		return r.content, r.err
	case <-time.After(pageExtractTimeout):
		return "", errors.New("page extraction timeout")
	}
}
