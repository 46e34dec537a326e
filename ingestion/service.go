package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fabfab/docqa/domain"
	"github.com/fabfab/docqa/knowledge"
	"github.com/fabfab/docqa/records"
	"github.com/fabfab/docqa/vectorstore"
)

// GraphMirror is the optional knowledge graph kept in step with the index.
type GraphMirror interface {
	SyncDocument(ctx context.Context, doc knowledge.Document) error
	DeleteDocument(ctx context.Context, id string) error
	DocumentInsight(ctx context.Context, id string) (knowledge.Insight, bool, error)
}

type Options struct {
	UploadDir     string
	MaxUploadSize int64
	ChunkSize     int
	ChunkOverlap  int
}

// Stats describes one completed ingestion.
type Stats struct {
	DocumentID            string  `json:"documentId"`
	ChunksCreated         int     `json:"chunksCreated"`
	TextLength            int     `json:"textLength"`
	ProcessingTimeSeconds float64 `json:"processingTimeSeconds"`
}

type UploadRequest struct {
	FileName    string
	Title       string
	Description string
	Body        io.Reader
}

// DocumentDetail is a document record plus its graph insight, when the
// mirror is enabled and knows the document.
type DocumentDetail struct {
	Document domain.Document
	Insight  *knowledge.Insight
}

type Service struct {
	index     vectorstore.Index
	documents records.DocumentStore
	graph     GraphMirror
	chunker   *Chunker
	uploadDir string
	maxSize   int64
	logger    *log.Logger
}

// NewService wires the ingestion path. graph may be nil.
func NewService(index vectorstore.Index, documents records.DocumentStore, graph GraphMirror, opts Options, logger *log.Logger) (*Service, error) {
	if logger == nil {
		logger = log.Default()
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
		opts.ChunkOverlap = DefaultChunkOverlap
	}
	chunker, err := NewChunker(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	return &Service{
		index:     index,
		documents: documents,
		graph:     graph,
		chunker:   chunker,
		uploadDir: opts.UploadDir,
		maxSize:   opts.MaxUploadSize,
		logger:    logger,
	}, nil
}

// MaxUploadSize is the largest accepted file in bytes; zero means no limit.
func (s *Service) MaxUploadSize() int64 {
	return s.maxSize
}

// Upload validates and stores the file as <uuid><ext> under the upload
// directory, then ingests it. The stored file is removed on any failure.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (domain.Document, Stats, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Document{}, Stats{}, fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if req.Body == nil {
		return domain.Document{}, Stats{}, fmt.Errorf("%w: file is required", domain.ErrValidation)
	}

	ext := strings.ToLower(filepath.Ext(req.FileName))
	if DetectFormat(req.FileName) == FormatUnknown {
		return domain.Document{}, Stats{}, fmt.Errorf("%w: file type %q not allowed, supported: %s",
			domain.ErrUnsupportedFormat, ext, strings.Join(SupportedExtensions(), ", "))
	}

	path, err := s.store(req.Body, ext)
	if err != nil {
		return domain.Document{}, Stats{}, err
	}

	doc, stats, err := s.IngestFile(ctx, path, filepath.Base(req.FileName), title, req.Description)
	if err != nil {
		return domain.Document{}, Stats{}, err
	}
	return doc, stats, nil
}

func (s *Service) store(body io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	path := filepath.Join(s.uploadDir, uuid.NewString()+ext)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	reader := body
	if s.maxSize > 0 {
		reader = io.LimitReader(body, s.maxSize+1)
	}
	written, copyErr := io.Copy(f, reader)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		s.removeFile(path)
		return "", fmt.Errorf("write upload file: %w", copyErr)
	case closeErr != nil:
		s.removeFile(path)
		return "", fmt.Errorf("close upload file: %w", closeErr)
	case s.maxSize > 0 && written > s.maxSize:
		s.removeFile(path)
		return "", fmt.Errorf("%w: file exceeds the %d byte upload limit", domain.ErrValidation, s.maxSize)
	}
	return path, nil
}

// IngestFile extracts, chunks and indexes the file at path. The document
// record is created with a zero chunk count and only updated once every
// chunk is indexed. On failure the chunks, the record and the file are
// removed.
func (s *Service) IngestFile(ctx context.Context, path, fileName, title, description string) (doc domain.Document, stats Stats, err error) {
	start := time.Now()

	format := DetectFormat(path)
	if format == FormatUnknown {
		s.removeFile(path)
		return domain.Document{}, Stats{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Ext(path))
	}

	text, meta, err := Extract(path, format)
	if err != nil {
		s.removeFile(path)
		return domain.Document{}, Stats{}, fmt.Errorf("extract text: %w", err)
	}

	now := time.Now().UTC()
	doc = domain.Document{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		FileName:    fileName,
		FilePath:    path,
		FileSize:    meta.FileSize,
		PageCount:   meta.PageCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.documents.CreateDocument(ctx, doc); err != nil {
		s.removeFile(path)
		return domain.Document{}, Stats{}, fmt.Errorf("%w: create document record: %w", domain.ErrPersistence, err)
	}

	defer func() {
		if err != nil {
			s.rollback(context.WithoutCancel(ctx), doc.ID, path)
			doc = domain.Document{}
			stats = Stats{}
		}
	}()

	chunks := s.chunker.Split(text)
	s.logger.Printf("text split into %d chunks", len(chunks))

	metadatas := make([]vectorstore.Metadata, len(chunks))
	for i := range chunks {
		metadatas[i] = vectorstore.Metadata{
			DocumentID:  doc.ID,
			Title:       title,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
		}
	}

	ids, err := s.index.AddDocuments(ctx, chunks, metadatas)
	if err != nil {
		return doc, stats, fmt.Errorf("index chunks: %w", err)
	}

	if err = s.documents.UpdateChunkCount(ctx, doc.ID, len(ids)); err != nil {
		return doc, stats, fmt.Errorf("%w: update chunk count: %w", domain.ErrPersistence, err)
	}
	doc.ChunkCount = len(ids)

	s.mirror(ctx, doc, format, chunks, ids)

	elapsed := time.Since(start).Seconds()
	stats = Stats{
		DocumentID:            doc.ID,
		ChunksCreated:         len(ids),
		TextLength:            utf8.RuneCountInString(text),
		ProcessingTimeSeconds: elapsed,
	}
	s.logger.Printf("performance: ingest_document took %.2fs", elapsed)
	s.logger.Printf("document uploaded: %s - %s", doc.ID, title)
	return doc, stats, nil
}

// mirror failures are logged; the graph is a derived view.
func (s *Service) mirror(ctx context.Context, doc domain.Document, format Format, chunks, ids []string) {
	if s.graph == nil {
		return
	}
	nodes := make([]knowledge.Chunk, len(ids))
	for i, id := range ids {
		nodes[i] = knowledge.Chunk{ID: id, Index: i, Text: chunks[i]}
	}
	if err := s.graph.SyncDocument(ctx, knowledge.Document{
		ID:       doc.ID,
		Title:    doc.Title,
		FileName: doc.FileName,
		Format:   string(format),
		Chunks:   nodes,
	}); err != nil {
		s.logger.Printf("sync knowledge graph for %s: %v", doc.ID, err)
	}
}

func (s *Service) rollback(ctx context.Context, id, path string) {
	if _, err := s.index.DeleteByDocumentID(ctx, id); err != nil {
		s.logger.Printf("rollback: remove chunks for %s: %v", id, err)
	}
	if err := s.documents.DeleteDocument(ctx, id); err != nil {
		s.logger.Printf("rollback: delete document %s: %v", id, err)
	}
	s.removeFile(path)
}

func (s *Service) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Printf("remove file %s: %v", path, err)
	}
}

// Delete removes a document: index entries first, then the graph mirror, the
// stored file, and the record last. Unknown ids fail with ErrNotFound and
// change nothing.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.documents.GetDocument(ctx, id)
	if err != nil {
		return err
	}

	removed, err := s.index.DeleteByDocumentID(ctx, id)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	if s.graph != nil {
		if err := s.graph.DeleteDocument(ctx, id); err != nil {
			s.logger.Printf("delete graph document %s: %v", id, err)
		}
	}

	if err := os.Remove(doc.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stored file: %w", err)
	}

	if err := s.documents.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("%w: delete document record: %w", domain.ErrPersistence, err)
	}

	s.logger.Printf("document deleted: %s (%d chunks)", id, removed)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (DocumentDetail, error) {
	doc, err := s.documents.GetDocument(ctx, id)
	if err != nil {
		return DocumentDetail{}, err
	}

	detail := DocumentDetail{Document: doc}
	if s.graph != nil {
		insight, found, err := s.graph.DocumentInsight(ctx, id)
		if err != nil {
			s.logger.Printf("graph insight for %s: %v", id, err)
		} else if found {
			detail.Insight = &insight
		}
	}
	return detail, nil
}

// List returns documents newest first. limit is clamped to [1, 100] and
// defaults to 100.
func (s *Service) List(ctx context.Context, skip, limit int) ([]domain.Document, error) {
	if skip < 0 {
		return nil, fmt.Errorf("%w: skip must not be negative", domain.ErrValidation)
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	docs, err := s.documents.ListDocuments(ctx, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %w", domain.ErrPersistence, err)
	}
	return docs, nil
}

// Stats reports the vector index totals.
func (s *Service) Stats(ctx context.Context) (vectorstore.Stats, error) {
	return s.index.Stats(ctx)
}
