// Package vectorstore stores embedded chunks and answers similarity queries
// over them.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/fabfab/docqa/domain"
)

// Metadata travels with every stored chunk.
type Metadata struct {
	DocumentID  string `json:"document_id"`
	Title       string `json:"title"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
}

// Filter restricts a search with exact matches. Zero fields match everything.
type Filter struct {
	DocumentIDs []string
	Title       string
}

func (f Filter) matches(md Metadata) bool {
	if f.Title != "" && md.Title != f.Title {
		return false
	}
	if len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == md.DocumentID {
			return true
		}
	}
	return false
}

// Match is one search hit. Higher scores are more relevant.
type Match struct {
	ID       string
	Content  string
	Metadata Metadata
	Score    float64
}

type Stats struct {
	CollectionName  string
	TotalChunkCount int
	PersistLocation string
}

// Index is the similarity search surface used by ingestion and retrieval.
type Index interface {
	AddDocuments(ctx context.Context, texts []string, metadatas []Metadata) ([]string, error)
	Search(ctx context.Context, query string, k int, filter Filter) ([]Match, error)
	DeleteByDocumentID(ctx context.Context, documentID string) (int, error)
	CountByDocumentID(ctx context.Context, documentID string) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// embedBatchSize bounds how many chunks are embedded per provider call.
const embedBatchSize = 64

func checkAddArgs(texts []string, metadatas []Metadata) error {
	if len(texts) != len(metadatas) {
		return fmt.Errorf("%w: %d texts but %d metadata entries", domain.ErrValidation, len(texts), len(metadatas))
	}
	return nil
}

func batches(n int) [][2]int {
	var out [][2]int
	for start := 0; start < n; start += embedBatchSize {
		end := start + embedBatchSize
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
