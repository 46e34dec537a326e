package vectorstore

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/docqa/domain"
	"github.com/fabfab/docqa/embeddings"
)

// PostgresIndex stores chunks in the pgvector rag_chunks table, scoped to one
// collection. Scores are 1/(1+L2 distance).
type PostgresIndex struct {
	pool       *pgxpool.Pool
	embedder   embeddings.Embedder
	collection string
	logger     *log.Logger
}

func NewPostgresIndex(pool *pgxpool.Pool, embedder embeddings.Embedder, collection string, logger *log.Logger) *PostgresIndex {
	if logger == nil {
		logger = log.Default()
	}
	return &PostgresIndex{
		pool:       pool,
		embedder:   embedder,
		collection: collection,
		logger:     logger,
	}
}

func (p *PostgresIndex) AddDocuments(ctx context.Context, texts []string, metadatas []Metadata) ([]string, error) {
	if err := checkAddArgs(texts, metadatas); err != nil {
		return nil, err
	}
	if p.pool == nil {
		return nil, fmt.Errorf("%w: postgres pool is nil", domain.ErrIndexWrite)
	}

	ids := make([]string, 0, len(texts))
	for _, b := range batches(len(texts)) {
		vectors, err := p.embedder.Embed(ctx, texts[b[0]:b[1]])
		if err != nil {
			return ids, fmt.Errorf("%w: embed chunks: %w", domain.ErrIndexWrite, err)
		}
		if len(vectors) != b[1]-b[0] {
			return ids, fmt.Errorf("%w: embedder returned %d vectors for %d chunks", domain.ErrIndexWrite, len(vectors), b[1]-b[0])
		}

		batchIDs, err := p.insertBatch(ctx, texts[b[0]:b[1]], metadatas[b[0]:b[1]], vectors)
		if err != nil {
			return ids, fmt.Errorf("%w: %w", domain.ErrIndexWrite, err)
		}
		ids = append(ids, batchIDs...)
	}

	return ids, nil
}

func (p *PostgresIndex) insertBatch(ctx context.Context, texts []string, metadatas []Metadata, vectors [][]float32) (ids []string, err error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				p.logger.Printf("rollback error: %v", rbErr)
			}
		}
	}()

	batch := &pgx.Batch{}
	ids = make([]string, len(texts))
	for i, text := range texts {
		id := uuid.New()
		ids[i] = id.String()
		md := metadatas[i]
		batch.Queue(`
			INSERT INTO rag_chunks (id, collection, document_id, title, chunk_index, total_chunks, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, id, p.collection, md.DocumentID, md.Title, md.ChunkIndex, md.TotalChunks, text, pgvector.NewVector(vectors[i]))
	}

	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert chunks: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return ids, nil
}

func (p *PostgresIndex) Search(ctx context.Context, query string, k int, filter Filter) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}
	if p.pool == nil {
		return nil, fmt.Errorf("%w: postgres pool is nil", domain.ErrIndexRead)
	}

	total, err := p.count(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexRead, err)
	}
	if total == 0 {
		return []Match{}, nil
	}

	embedding, err := embeddings.EmbedQuery(ctx, p.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrIndexRead, err)
	}

	matches, err := p.similar(ctx, embedding, k, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexRead, err)
	}
	return matches, nil
}

func (p *PostgresIndex) similar(ctx context.Context, embedding []float32, k int, filter Filter) ([]Match, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := k * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	var documentIDs []string
	if len(filter.DocumentIDs) > 0 {
		documentIDs = filter.DocumentIDs
	}

	rows, err := conn.Query(ctx, `
		SELECT
			id,
			document_id,
			title,
			chunk_index,
			total_chunks,
			content,
			(embedding <-> $1::vector) AS distance
		FROM rag_chunks
		WHERE collection = $2
		  AND ($3::text[] IS NULL OR document_id = ANY($3))
		  AND ($4::text = '' OR title = $4)
		ORDER BY embedding <-> $1::vector, id
		LIMIT $5
	`, pgvector.NewVector(embedding), p.collection, documentIDs, filter.Title, k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var (
			m        Match
			id       uuid.UUID
			distance float64
		)
		if err := rows.Scan(&id, &m.Metadata.DocumentID, &m.Metadata.Title, &m.Metadata.ChunkIndex,
			&m.Metadata.TotalChunks, &m.Content, &distance); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		m.ID = id.String()
		m.Score = 1 / (1 + distance)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar chunks: %w", err)
	}

	return matches, nil
}

func (p *PostgresIndex) DeleteByDocumentID(ctx context.Context, documentID string) (int, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM rag_chunks WHERE collection = $1 AND document_id = $2", p.collection, documentID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete chunks: %w", domain.ErrIndexWrite, err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *PostgresIndex) CountByDocumentID(ctx context.Context, documentID string) (int, error) {
	n, err := p.count(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrIndexRead, err)
	}
	return n, nil
}

func (p *PostgresIndex) Stats(ctx context.Context) (Stats, error) {
	n, err := p.count(ctx, "")
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", domain.ErrIndexRead, err)
	}
	return Stats{
		CollectionName:  p.collection,
		TotalChunkCount: n,
		PersistLocation: "postgres:rag_chunks",
	}, nil
}

func (p *PostgresIndex) count(ctx context.Context, documentID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rag_chunks
		WHERE collection = $1 AND ($2::text = '' OR document_id = $2)
	`, p.collection, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

var _ Index = (*PostgresIndex)(nil)
