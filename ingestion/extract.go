package ingestion

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/fabfab/docqa/domain"
)

type ExtractMetadata struct {
	PageCount int
	FileSize  int64
}

// Extract reads the file at path and returns its plain text.
func Extract(path string, format Format) (string, ExtractMetadata, error) {
	var (
		text  string
		pages int
		err   error
	)

	switch format {
	case FormatPDF:
		text, pages, err = extractPDF(path)
	case FormatDOCX:
		text, pages, err = extractDOCX(path)
	case FormatText:
		text, pages, err = extractText(path)
	default:
		return "", ExtractMetadata{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return "", ExtractMetadata{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", ExtractMetadata{}, fmt.Errorf("stat file: %w", err)
	}

	return text, ExtractMetadata{PageCount: pages, FileSize: info.Size()}, nil
}

func extractPDF(path string) (text string, pages int, err error) {
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed pdf: %v", domain.ErrValidation, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: open pdf: %w", domain.ErrValidation, err)
	}
	defer f.Close()

	pages = reader.NumPage()
	parts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[Page %d]\n%s", i, content))
	}

	return strings.Join(parts, "\n\n"), pages, nil
}

func extractText(path string) (string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("read text file: %w", err)
	}
	if !utf8.Valid(data) {
		return "", 0, fmt.Errorf("%w: text file is not valid UTF-8", domain.ErrValidation)
	}
	return string(data), 1, nil
}

func extractDOCX(path string) (string, int, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: open docx: %w", domain.ErrValidation, err)
	}
	defer archive.Close()

	for _, file := range archive.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", 0, fmt.Errorf("open docx body: %w", err)
		}
		defer rc.Close()
		return parseDocumentXML(rc)
	}

	return "", 0, fmt.Errorf("%w: docx has no word/document.xml", domain.ErrValidation)
}

// parseDocumentXML collects the text of top-level body paragraphs (table
// cells are skipped) and counts section breaks.
func parseDocumentXML(r io.Reader) (string, int, error) {
	dec := xml.NewDecoder(r)

	var (
		paragraphs []string
		current    strings.Builder
		inPara     bool
		inText     bool
		tableDepth int
		sections   int
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("%w: parse docx body: %w", domain.ErrValidation, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "sectPr":
				sections++
			case "p":
				if tableDepth == 0 {
					inPara = true
					current.Reset()
				}
			case "t":
				inText = inPara
			case "tab":
				if inPara {
					current.WriteByte('\t')
				}
			case "br", "cr":
				if inPara {
					current.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth--
			case "t":
				inText = false
			case "p":
				if inPara && tableDepth == 0 {
					if current.Len() > 0 {
						paragraphs = append(paragraphs, current.String())
					}
					inPara = false
				}
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}

	if sections == 0 {
		sections = 1
	}
	return strings.Join(paragraphs, "\n\n"), sections, nil
}
