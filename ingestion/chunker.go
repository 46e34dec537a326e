package ingestion

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fabfab/docqa/domain"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators are tried coarsest first; "" splits into single characters.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunker splits text recursively on paragraph, line, word and character
// boundaries, then merges neighbouring pieces back up to size with overlap
// characters of carried context. Sizes are counted in runes.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrValidation, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in [0, %d)", domain.ErrValidation, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split returns the ordered chunks of text. Empty or whitespace-only input
// yields no chunks.
func (c *Chunker) Split(text string) []string {
	raw := c.split(text, separators)
	chunks := make([]string, 0, len(raw))
	for _, chunk := range raw {
		if trimmed := strings.TrimSpace(chunk); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}
	return chunks
}

func (c *Chunker) split(text string, seps []string) []string {
	separator := seps[len(seps)-1]
	var finer []string
	for i, sep := range seps {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			finer = seps[i+1:]
			break
		}
	}

	var (
		chunks []string
		good   []string
	)
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < c.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, c.merge(good)...)
			good = nil
		}
		if len(finer) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, c.split(piece, finer)...)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, c.merge(good)...)
	}
	return chunks
}

// merge packs pieces into chunks of at most size runes. After each emitted
// chunk, leading pieces are dropped until no more than overlap runes remain
// and the next piece fits.
func (c *Chunker) merge(pieces []string) []string {
	var (
		chunks  []string
		window  []string
		current int
	)
	for _, piece := range pieces {
		n := runeLen(piece)
		if current+n > c.size && len(window) > 0 {
			if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for current > c.overlap || (current+n > c.size && current > 0) {
				current -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		current += n
	}
	if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitKeepingSeparator splits on sep and re-attaches each separator to the
// start of the piece that follows it. Empty pieces are dropped.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	if parts[0] != "" {
		pieces = append(pieces, parts[0])
	}
	for _, part := range parts[1:] {
		pieces = append(pieces, sep+part)
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
