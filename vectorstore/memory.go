package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/fabfab/docqa/domain"
	"github.com/fabfab/docqa/embeddings"
)

type memoryEntry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"embedding"`
}

type memorySnapshot struct {
	Collection string        `json:"collection"`
	Entries    []memoryEntry `json:"entries"`
}

// MemoryIndex keeps every chunk in process and ranks by cosine similarity.
// When persistDir is set the collection is written to
// persistDir/<collection>.json after each mutation and reloaded on open.
type MemoryIndex struct {
	mu         sync.RWMutex
	entries    []memoryEntry
	embedder   embeddings.Embedder
	collection string
	persistDir string
	logger     *log.Logger
}

func NewMemoryIndex(embedder embeddings.Embedder, collection, persistDir string, logger *log.Logger) (*MemoryIndex, error) {
	if logger == nil {
		logger = log.Default()
	}
	idx := &MemoryIndex{
		embedder:   embedder,
		collection: collection,
		persistDir: persistDir,
		logger:     logger,
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (m *MemoryIndex) snapshotPath() string {
	if m.persistDir == "" {
		return ""
	}
	return filepath.Join(m.persistDir, m.collection+".json")
}

func (m *MemoryIndex) load() error {
	path := m.snapshotPath()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read vector snapshot: %w", err)
	}

	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode vector snapshot %s: %w", path, err)
	}
	m.entries = snap.Entries
	m.logger.Printf("loaded %d chunks from %s", len(m.entries), path)
	return nil
}

// persist must be called with the write lock held.
func (m *MemoryIndex) persist() error {
	path := m.snapshotPath()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(m.persistDir, 0o755); err != nil {
		return fmt.Errorf("create persist directory: %w", err)
	}

	data, err := json.Marshal(memorySnapshot{Collection: m.collection, Entries: m.entries})
	if err != nil {
		return fmt.Errorf("encode vector snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write vector snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace vector snapshot: %w", err)
	}
	return nil
}

func (m *MemoryIndex) AddDocuments(ctx context.Context, texts []string, metadatas []Metadata) ([]string, error) {
	if err := checkAddArgs(texts, metadatas); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(texts))
	for _, b := range batches(len(texts)) {
		vectors, err := m.embedder.Embed(ctx, texts[b[0]:b[1]])
		if err != nil {
			return ids, fmt.Errorf("%w: embed chunks: %w", domain.ErrIndexWrite, err)
		}
		if len(vectors) != b[1]-b[0] {
			return ids, fmt.Errorf("%w: embedder returned %d vectors for %d chunks", domain.ErrIndexWrite, len(vectors), b[1]-b[0])
		}

		added := make([]memoryEntry, len(vectors))
		for i, vec := range vectors {
			added[i] = memoryEntry{
				ID:        uuid.NewString(),
				Content:   texts[b[0]+i],
				Metadata:  metadatas[b[0]+i],
				Embedding: vec,
			}
		}

		m.mu.Lock()
		m.entries = append(m.entries, added...)
		err = m.persist()
		m.mu.Unlock()
		if err != nil {
			return ids, fmt.Errorf("%w: %w", domain.ErrIndexWrite, err)
		}

		for _, entry := range added {
			ids = append(ids, entry.ID)
		}
	}

	return ids, nil
}

func (m *MemoryIndex) Search(ctx context.Context, query string, k int, filter Filter) ([]Match, error) {
	if k <= 0 {
		return []Match{}, nil
	}

	m.mu.RLock()
	empty := len(m.entries) == 0
	m.mu.RUnlock()
	if empty {
		return []Match{}, nil
	}

	queryVec, err := embeddings.EmbedQuery(ctx, m.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", domain.ErrIndexRead, err)
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.entries))
	for _, entry := range m.entries {
		if !filter.matches(entry.Metadata) {
			continue
		}
		matches = append(matches, Match{
			ID:       entry.ID,
			Content:  entry.Content,
			Metadata: entry.Metadata,
			Score:    cosine(queryVec, entry.Embedding),
		})
	}
	m.mu.RUnlock()

	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *MemoryIndex) DeleteByDocumentID(_ context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	removed := 0
	for _, entry := range m.entries {
		if entry.Metadata.DocumentID == documentID {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	m.entries = kept

	if removed == 0 {
		return 0, nil
	}
	if err := m.persist(); err != nil {
		return removed, fmt.Errorf("%w: %w", domain.ErrIndexWrite, err)
	}
	return removed, nil
}

func (m *MemoryIndex) CountByDocumentID(_ context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, entry := range m.entries {
		if entry.Metadata.DocumentID == documentID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryIndex) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	location := m.persistDir
	if location == "" {
		location = "memory"
	}
	return Stats{
		CollectionName:  m.collection,
		TotalChunkCount: len(m.entries),
		PersistLocation: location,
	}, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Index = (*MemoryIndex)(nil)
