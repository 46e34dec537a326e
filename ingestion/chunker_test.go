package ingestion

import (
	"fmt"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docqa/domain"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func sampleText() string {
	paragraph := strings.Repeat("Retrieval augmented generation grounds answers in documents. ", 12)
	return strings.Join([]string{
		"Handbook",
		paragraph,
		"Short line one.\nShort line two.\nShort line three.",
		paragraph + strings.Repeat("x", 180),
		"Final words.",
	}, "\n\n")
}

func TestNewChunkerRejectsOverlapNotLessThanSize(t *testing.T) {
	_, err := NewChunker(100, 100)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewChunker(100, 150)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewChunker(0, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewChunker(100, 99)
	assert.NoError(t, err)
}

func TestSplitEmptyText(t *testing.T) {
	c, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)

	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split("  \n\n \t "))
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	c, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)

	assert.Equal(t, []string{"The sky is blue."}, c.Split("The sky is blue."))
}

func TestSplitRespectsSizeBound(t *testing.T) {
	for _, cfg := range []struct{ size, overlap int }{
		{200, 40}, {100, 0}, {50, 10}, {7, 3}, {1, 0},
	} {
		c, err := NewChunker(cfg.size, cfg.overlap)
		require.NoError(t, err)

		chunks := c.Split(sampleText())
		require.NotEmpty(t, chunks)
		for _, chunk := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(chunk), cfg.size, "size %d overlap %d", cfg.size, cfg.overlap)
			assert.Equal(t, strings.TrimSpace(chunk), chunk)
			assert.NotEmpty(t, chunk)
		}
	}
}

func TestSplitWithoutOverlapReconstructsText(t *testing.T) {
	text := sampleText()
	c, err := NewChunker(120, 0)
	require.NoError(t, err)

	chunks := c.Split(text)
	assert.Equal(t, stripSpace(text), stripSpace(strings.Join(chunks, "")))
}

func TestSplitChunksAreSourceSubstrings(t *testing.T) {
	text := sampleText()
	c, err := NewChunker(150, 30)
	require.NoError(t, err)

	for _, chunk := range c.Split(text) {
		assert.Contains(t, text, chunk)
	}
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	words := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		words = append(words, fmt.Sprintf("w%02d", i))
	}
	text := strings.Join(words, " ")

	c, err := NewChunker(50, 20)
	require.NoError(t, err)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	assert.True(t, strings.HasPrefix(chunks[1], "w07 w08 w09 w10 w11"))

	for i := 1; i < len(chunks); i++ {
		prev, next := chunks[i-1], chunks[i]
		shared := 0
		for n := 1; n <= len(prev) && n <= len(next); n++ {
			if strings.HasSuffix(prev, next[:n]) {
				shared = n
			}
		}
		assert.Positive(t, shared, "chunk %d should share context with chunk %d", i, i-1)
		assert.LessOrEqual(t, shared, 20)
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	c, err := NewChunker(90, 15)
	require.NoError(t, err)

	text := sampleText()
	first := c.Split(text)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, c.Split(text))
	}
}

func TestSplitCountsRunes(t *testing.T) {
	c, err := NewChunker(10, 0)
	require.NoError(t, err)

	chunks := c.Split("ééééé ééééé")
	assert.Equal(t, []string{"ééééé", "ééééé"}, chunks)
}

func TestSplitKeepingSeparator(t *testing.T) {
	assert.Equal(t, []string{"a", "\n\nb", "\n\n"}, splitKeepingSeparator("a\n\nb\n\n", "\n\n"))
	assert.Equal(t, []string{" a", " b"}, splitKeepingSeparator(" a b", " "))
	assert.Equal(t, []string{"h", "é"}, splitKeepingSeparator("hé", ""))
}
