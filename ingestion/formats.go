// Package ingestion turns uploaded files into indexed chunks and keeps the
// document records in step with the vector index.
package ingestion

import (
	"path/filepath"
	"strings"
)

// Format enumerates the supported document formats.
type Format string

const (
	// FormatUnknown represents an unsupported or undetected format.
	FormatUnknown Format = ""
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatText    Format = "txt"
)

// DetectFormat infers a document format from the file name's extension.
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".txt":
		return FormatText
	default:
		return FormatUnknown
	}
}

// SupportedExtensions lists the accepted upload extensions.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".txt"}
}
