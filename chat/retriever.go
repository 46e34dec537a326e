package chat

import (
	"context"

	"github.com/fabfab/docqa/vectorstore"
)

// Retriever turns a question into ranked evidence from the vector index.
type Retriever struct {
	index vectorstore.Index
}

func NewRetriever(index vectorstore.Index) *Retriever {
	return &Retriever{index: index}
}

// Retrieve returns up to k chunks, most relevant first. A non-empty
// documentIDs restricts the search to those documents. k is passed through
// unchanged.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int, documentIDs []string) ([]Evidence, error) {
	matches, err := r.index.Search(ctx, question, k, vectorstore.Filter{DocumentIDs: documentIDs})
	if err != nil {
		return nil, err
	}

	evidence := make([]Evidence, 0, len(matches))
	for _, m := range matches {
		title := m.Metadata.Title
		if title == "" {
			title = "Unknown"
		}
		evidence = append(evidence, Evidence{
			DocumentID:    m.Metadata.DocumentID,
			DocumentTitle: title,
			ChunkIndex:    m.Metadata.ChunkIndex,
			Content:       m.Content,
			Score:         m.Score,
		})
	}
	return evidence, nil
}
