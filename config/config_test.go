package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("VECTOR_STORE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 3, cfg.RAG.TopK)
	assert.Equal(t, VectorStoreMemory, cfg.VectorStore.Backend)
	assert.Equal(t, "documents", cfg.VectorStore.Collection)
	assert.Equal(t, int64(10*1024*1024), cfg.Upload.MaxSize)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("LLM_PROVIDER", ProviderOllama)
	t.Setenv("EMBEDDING_DIMENSION", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, 1536, cfg.Embeddings.Dimension, "unparsable ints fall back to the default")
}

func TestLoadOverlaysYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docqa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
vector_store:
  backend: pgvector
  collection: handbook
rag:
  top_k: 5
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CHUNK_SIZE", "800")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, VectorStorePGVector, cfg.VectorStore.Backend)
	assert.Equal(t, "handbook", cfg.VectorStore.Collection)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.Equal(t, 800, cfg.RAG.ChunkSize, "keys absent from the file keep their env value")
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	base, err := Load()
	require.NoError(t, err)
	require.NoError(t, base.Validate())

	overlap := base
	overlap.RAG.ChunkOverlap = overlap.RAG.ChunkSize
	assert.Error(t, overlap.Validate())

	topK := base
	topK.RAG.TopK = 11
	assert.Error(t, topK.Validate())

	provider := base
	provider.LLM.Provider = "bedrock"
	assert.Error(t, provider.Validate())

	backend := base
	backend.VectorStore.Backend = "chroma"
	assert.Error(t, backend.Validate())
}
