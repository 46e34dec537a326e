package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fabfab/docqa/database"
	"github.com/fabfab/docqa/domain"
)

// PostgresStore keeps records in the same database as the pgvector index.
type PostgresStore struct {
	pool     *pgxpool.Pool
	ownsPool bool
}

func OpenPostgres(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if err := database.EnsureRecordSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("ensure record schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool only when the store opened it itself.
func (s *PostgresStore) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc domain.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, title, description, file_name, file_path, file_size, page_count, chunk_count, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
	`, doc.ID, doc.Title, doc.Description, doc.FileName, doc.FilePath, doc.FileSize,
		doc.PageCount, doc.ChunkCount, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, COALESCE(description, ''), file_name, file_path, file_size, page_count, chunk_count, created_at, updated_at
		FROM documents WHERE id = $1
	`, id)
	doc, err := scanPgDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	return doc, err
}

func (s *PostgresStore) ListDocuments(ctx context.Context, skip, limit int) ([]domain.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, COALESCE(description, ''), file_name, file_path, file_size, page_count, chunk_count, created_at, updated_at
		FROM documents
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanPgDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (s *PostgresStore) UpdateChunkCount(ctx context.Context, id string, chunkCount int) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE documents SET chunk_count = $1, updated_at = NOW() WHERE id = $2", chunkCount, id)
	if err != nil {
		return fmt.Errorf("update chunk count: %w", err)
	}
	return requireTag(tag, id)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireTag(tag, id)
}

func (s *PostgresStore) AppendChat(ctx context.Context, entry domain.ChatEntry) error {
	ids, err := encodeDocumentIDs(entry.DocumentIDs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chat_history (id, question, answer, confidence, top_k, document_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.Question, entry.Answer, string(entry.Confidence), entry.TopK, ids, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecentChats(ctx context.Context, limit int) ([]domain.ChatEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, question, answer, confidence, top_k, document_ids, created_at
		FROM chat_history
		ORDER BY created_at DESC, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.ChatEntry, 0)
	for rows.Next() {
		var (
			entry      domain.ChatEntry
			confidence string
			ids        *string
		)
		if err := rows.Scan(&entry.ID, &entry.Question, &entry.Answer, &confidence, &entry.TopK, &ids, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat entry: %w", err)
		}
		entry.Confidence = domain.Confidence(confidence)
		if entry.DocumentIDs, err = decodeDocumentIDs(ids); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat history: %w", err)
	}
	return entries, nil
}

func scanPgDocument(row pgx.Row) (domain.Document, error) {
	var doc domain.Document
	err := row.Scan(&doc.ID, &doc.Title, &doc.Description, &doc.FileName, &doc.FilePath, &doc.FileSize,
		&doc.PageCount, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Document{}, err
		}
		return domain.Document{}, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func requireTag(tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
