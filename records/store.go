// Package records persists document metadata and chat history.
package records

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fabfab/docqa/database"
	"github.com/fabfab/docqa/domain"
)

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	ListDocuments(ctx context.Context, skip, limit int) ([]domain.Document, error)
	UpdateChunkCount(ctx context.Context, id string, chunkCount int) error
	DeleteDocument(ctx context.Context, id string) error
}

type ChatStore interface {
	AppendChat(ctx context.Context, entry domain.ChatEntry) error
	ListRecentChats(ctx context.Context, limit int) ([]domain.ChatEntry, error)
}

// Store bundles both record kinds behind one backend.
type Store interface {
	DocumentStore
	ChatStore
	Close() error
}

// Open picks the backend from the URL: postgres:// DSNs use pgx, anything
// else is treated as a SQLite file path.
func Open(ctx context.Context, url string) (Store, error) {
	if !database.IsPostgresURL(url) {
		return OpenSQLite(ctx, url)
	}

	pool, err := database.NewPostgresPool(ctx, url)
	if err != nil {
		return nil, err
	}
	store, err := OpenPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store.ownsPool = true
	return store, nil
}

// encodeDocumentIDs stores a nil filter as NULL and anything else as JSON.
func encodeDocumentIDs(ids []string) (*string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode document ids: %w", err)
	}
	s := string(data)
	return &s, nil
}

func decodeDocumentIDs(raw *string) ([]string, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(*raw), &ids); err != nil {
		return nil, fmt.Errorf("decode document ids: %w", err)
	}
	return ids, nil
}
