package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fabfab/docqa/database"
	"github.com/fabfab/docqa/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := database.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc domain.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, description, file_name, file_path, file_size, page_count, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Title, nullString(doc.Description), doc.FileName, doc.FilePath, doc.FileSize,
		doc.PageCount, doc.ChunkCount, doc.CreatedAt.UTC(), doc.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, file_name, file_path, file_size, page_count, chunk_count, created_at, updated_at
		FROM documents WHERE id = ?
	`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, skip, limit int) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, file_name, file_path, file_size, page_count, chunk_count, created_at, updated_at
		FROM documents
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
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

func (s *SQLiteStore) UpdateChunkCount(ctx context.Context, id string, chunkCount int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET chunk_count = ?, updated_at = ? WHERE id = ?",
		chunkCount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update chunk count: %w", err)
	}
	return requireAffected(res, id)
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(res, id)
}

func (s *SQLiteStore) AppendChat(ctx context.Context, entry domain.ChatEntry) error {
	ids, err := encodeDocumentIDs(entry.DocumentIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_history (id, question, answer, confidence, top_k, document_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Question, entry.Answer, string(entry.Confidence), entry.TopK, ids, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert chat entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRecentChats(ctx context.Context, limit int) ([]domain.ChatEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, answer, confidence, top_k, document_ids, created_at
		FROM chat_history
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc         domain.Document
		description sql.NullString
	)
	err := row.Scan(&doc.ID, &doc.Title, &description, &doc.FileName, &doc.FilePath, &doc.FileSize,
		&doc.PageCount, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Document{}, err
		}
		return domain.Document{}, fmt.Errorf("scan document: %w", err)
	}
	doc.Description = description.String
	return doc, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*SQLiteStore)(nil)
