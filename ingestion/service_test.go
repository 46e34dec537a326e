package ingestion

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docqa/domain"
	"github.com/fabfab/docqa/knowledge"
	"github.com/fabfab/docqa/records"
	"github.com/fabfab/docqa/vectorstore"
)

type stubEmbedder struct {
	err error

	// cancel, when set, is called on call number cancelOnCall and the
	// context error is returned.
	cancel       context.CancelFunc
	cancelOnCall int
	calls        int
}

func (e *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.cancel != nil && e.calls == e.cancelOnCall {
		e.cancel()
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

type stubGraph struct {
	synced  []knowledge.Document
	deleted []string
	insight knowledge.Insight
}

func (g *stubGraph) SyncDocument(_ context.Context, doc knowledge.Document) error {
	g.synced = append(g.synced, doc)
	return nil
}

func (g *stubGraph) DeleteDocument(_ context.Context, id string) error {
	g.deleted = append(g.deleted, id)
	return nil
}

func (g *stubGraph) DocumentInsight(_ context.Context, id string) (knowledge.Insight, bool, error) {
	for _, doc := range g.synced {
		if doc.ID == id {
			return g.insight, true, nil
		}
	}
	return knowledge.Insight{}, false, nil
}

// failingCounts rejects chunk count updates so ingestion fails after indexing.
type failingCounts struct {
	records.DocumentStore
}

func (failingCounts) UpdateChunkCount(context.Context, string, int) error {
	return errors.New("disk full")
}

type fixture struct {
	svc       *Service
	index     *vectorstore.MemoryIndex
	store     *records.SQLiteStore
	embedder  *stubEmbedder
	graph     *stubGraph
	uploadDir string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	dir := t.TempDir()

	embedder := &stubEmbedder{}
	index, err := vectorstore.NewMemoryIndex(embedder, "documents", "", nil)
	require.NoError(t, err)

	store, err := records.OpenSQLite(context.Background(), filepath.Join(dir, "docqa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if opts.UploadDir == "" {
		opts.UploadDir = filepath.Join(dir, "uploads")
	}
	if opts.MaxUploadSize == 0 {
		opts.MaxUploadSize = 1024
	}

	graph := &stubGraph{insight: knowledge.Insight{ChunkCount: 1, Format: "txt"}}
	svc, err := NewService(index, store, graph, opts, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	return &fixture{svc: svc, index: index, store: store, embedder: embedder, graph: graph, uploadDir: opts.UploadDir}
}

func uploadedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestUploadTextDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	doc, stats, err := f.svc.Upload(ctx, UploadRequest{
		FileName:    "sky.txt",
		Title:       "Sky facts",
		Description: "colours",
		Body:        strings.NewReader("The sky is blue."),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, doc.ChunkCount)
	assert.Equal(t, 1, doc.PageCount)
	assert.Equal(t, int64(16), doc.FileSize)
	assert.Equal(t, "sky.txt", doc.FileName)
	assert.Equal(t, doc.ID, stats.DocumentID)
	assert.Equal(t, 1, stats.ChunksCreated)
	assert.Equal(t, 16, stats.TextLength)
	assert.GreaterOrEqual(t, stats.ProcessingTimeSeconds, 0.0)

	files := uploadedFiles(t, f.uploadDir)
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0], ".txt"))
	assert.Equal(t, filepath.Join(f.uploadDir, files[0]), doc.FilePath)

	stored, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	count, err := f.index.CountByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ChunkCount, count)

	require.Len(t, f.graph.synced, 1)
	assert.Equal(t, "txt", f.graph.synced[0].Format)
	assert.Len(t, f.graph.synced[0].Chunks, 1)
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	f := newFixture(t, Options{})

	_, _, err := f.svc.Upload(context.Background(), UploadRequest{
		FileName: "slides.pptx",
		Title:    "Slides",
		Body:     strings.NewReader("data"),
	})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	assert.Empty(t, uploadedFiles(t, f.uploadDir))
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	f := newFixture(t, Options{MaxUploadSize: 10})

	_, _, err := f.svc.Upload(context.Background(), UploadRequest{
		FileName: "big.txt",
		Title:    "Big",
		Body:     bytes.NewReader(bytes.Repeat([]byte("a"), 11)),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, uploadedFiles(t, f.uploadDir))

	docs, err := f.svc.List(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestUploadRequiresTitle(t *testing.T) {
	f := newFixture(t, Options{})

	_, _, err := f.svc.Upload(context.Background(), UploadRequest{
		FileName: "a.txt",
		Title:    "   ",
		Body:     strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIngestRollsBackWhenIndexingFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.embedder.err = errors.New("embedding provider unavailable")

	_, _, err := f.svc.Upload(ctx, UploadRequest{
		FileName: "sky.txt",
		Title:    "Sky",
		Body:     strings.NewReader("The sky is blue."),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIndexWrite)

	docs, err := f.svc.List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, uploadedFiles(t, f.uploadDir))
	assert.Empty(t, f.graph.synced)
}

func TestIngestRollsBackIndexedChunksWhenRecordUpdateFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	svc, err := NewService(f.index, failingCounts{f.store}, nil, Options{UploadDir: f.uploadDir, MaxUploadSize: 1024}, log.New(io.Discard, "", 0))
	require.NoError(t, err)

	_, _, err = svc.Upload(ctx, UploadRequest{
		FileName: "sky.txt",
		Title:    "Sky",
		Body:     strings.NewReader("The sky is blue."),
	})
	assert.ErrorIs(t, err, domain.ErrPersistence)

	stats, err := f.index.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalChunkCount)

	docs, err := f.store.ListDocuments(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, uploadedFiles(t, f.uploadDir))
}

func TestIngestRollsBackWhenRequestIsCancelled(t *testing.T) {
	f := newFixture(t, Options{ChunkSize: 10, ChunkOverlap: 0})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.embedder.cancel = cancel
	f.embedder.cancelOnCall = 2

	_, _, err := f.svc.Upload(ctx, UploadRequest{
		FileName: "words.txt",
		Title:    "Words",
		Body:     strings.NewReader(strings.Repeat("wxx ", 150)),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, domain.ErrIndexWrite)
	require.Equal(t, 2, f.embedder.calls, "first batch must be indexed before the cancel")

	background := context.Background()
	stats, err := f.index.Stats(background)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalChunkCount)

	docs, err := f.store.ListDocuments(background, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Empty(t, uploadedFiles(t, f.uploadDir))
}

func TestDeleteRemovesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{ChunkSize: 20, ChunkOverlap: 5})

	doc, stats, err := f.svc.Upload(ctx, UploadRequest{
		FileName: "notes.txt",
		Title:    "Notes",
		Body:     strings.NewReader("First paragraph here.\n\nSecond paragraph here.\n\nThird one."),
	})
	require.NoError(t, err)
	require.Greater(t, stats.ChunksCreated, 1)

	require.NoError(t, f.svc.Delete(ctx, doc.ID))

	count, err := f.index.CountByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	_, err = os.Stat(doc.FilePath)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = f.svc.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []string{doc.ID}, f.graph.deleted)
}

func TestDeleteUnknownDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	doc, _, err := f.svc.Upload(ctx, UploadRequest{FileName: "a.txt", Title: "A", Body: strings.NewReader("alpha")})
	require.NoError(t, err)

	err = f.svc.Delete(ctx, "does-not-exist")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalChunkCount)
	_, err = f.svc.Get(ctx, doc.ID)
	assert.NoError(t, err)
	assert.Empty(t, f.graph.deleted)
}

func TestGetIncludesGraphInsight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	doc, _, err := f.svc.Upload(ctx, UploadRequest{FileName: "a.txt", Title: "A", Body: strings.NewReader("alpha")})
	require.NoError(t, err)

	detail, err := f.svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, detail.Document.ID)
	require.NotNil(t, detail.Insight)
	assert.Equal(t, "txt", detail.Insight.Format)
}

func TestListPaginates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		_, _, err := f.svc.Upload(ctx, UploadRequest{FileName: name, Title: name, Body: strings.NewReader("content " + name)})
		require.NoError(t, err)
	}

	page, err := f.svc.List(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	all, err := f.svc.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.svc.List(ctx, -1, 10)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewServiceRejectsBadChunking(t *testing.T) {
	_, err := NewService(nil, nil, nil, Options{ChunkSize: 10, ChunkOverlap: 10}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
