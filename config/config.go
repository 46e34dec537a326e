package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	VectorStorePGVector = "pgvector"
	VectorStoreMemory   = "memory"
)

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// VectorStoreConfig selects the similarity index backend. PersistDir is only
// used by the memory backend.
type VectorStoreConfig struct {
	Backend    string `yaml:"backend"`
	Collection string `yaml:"collection"`
	PersistDir string `yaml:"persist_dir"`
}

type RAGConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`
}

type UploadConfig struct {
	Dir     string `yaml:"dir"`
	MaxSize int64  `yaml:"max_size"`
}

type Config struct {
	// DatabaseURL locates the record store: a postgres:// DSN or a SQLite file path.
	DatabaseURL string `yaml:"database_url"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Neo4jURI    string `yaml:"neo4j_uri"`
	Neo4jUser   string `yaml:"neo4j_username"`
	Neo4jPass   string `yaml:"neo4j_password"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	Embeddings  EmbeddingConfig   `yaml:"embeddings"`
	LLM         LLMConfig         `yaml:"llm"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	RAG         RAGConfig         `yaml:"rag"`
	Upload      UploadConfig      `yaml:"upload"`

	HTTPAddr string `yaml:"http_addr"`
}

// Load builds the configuration from the environment. When CONFIG_FILE points
// at a YAML document, the keys present in that document override the
// environment values.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL: getEnv("DATABASE_URL", "./data/docqa.db"),
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/docqa?sslmode=disable"),
		Neo4jURI:    getEnv("NEO4J_URI", ""),
		Neo4jUser:   getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   getEnv("NEO4J_PASSWORD", "password"),

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		Embeddings: EmbeddingConfig{
			Provider:  getEnv("EMBEDDING_PROVIDER", ProviderOpenAI),
			Model:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension: getEnvInt("EMBEDDING_DIMENSION", 1536),
		},
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", ProviderOpenAI),
			Model:    getEnv("LLM_MODEL", "gpt-3.5-turbo"),
		},
		VectorStore: VectorStoreConfig{
			Backend:    getEnv("VECTOR_STORE", VectorStoreMemory),
			Collection: getEnv("COLLECTION_NAME", "documents"),
			PersistDir: getEnv("PERSIST_DIR", "./vector_db"),
		},
		RAG: RAGConfig{
			ChunkSize:    getEnvInt("CHUNK_SIZE", 1000),
			ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),
			TopK:         getEnvInt("TOP_K_RESULTS", 3),
		},
		Upload: UploadConfig{
			Dir:     getEnv("UPLOAD_DIR", "./uploads"),
			MaxSize: int64(getEnvInt("MAX_UPLOAD_SIZE", 10*1024*1024)),
		},
		HTTPAddr: getEnv("HTTP_ADDR", ":8000"),
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.overlay(path); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate reports every setting that would make the pipeline unusable.
func (c Config) Validate() error {
	var errs []error
	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.RAG.ChunkSize))
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap))
	}
	if c.RAG.TopK < 1 || c.RAG.TopK > 10 {
		errs = append(errs, fmt.Errorf("top k must be in [1, 10], got %d", c.RAG.TopK))
	}
	if c.Embeddings.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimension must be positive"))
	}
	if !knownProvider(c.Embeddings.Provider) {
		errs = append(errs, fmt.Errorf("unknown embedding provider: %s", c.Embeddings.Provider))
	}
	if !knownProvider(c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("unknown llm provider: %s", c.LLM.Provider))
	}
	switch c.VectorStore.Backend {
	case VectorStorePGVector, VectorStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown vector store: %s", c.VectorStore.Backend))
	}
	if c.Upload.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("max upload size must be positive"))
	}
	return errors.Join(errs...)
}

func knownProvider(name string) bool {
	return name == ProviderOllama || name == ProviderOpenAI
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
