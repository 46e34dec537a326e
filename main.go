package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fabfab/docqa/chat"
	"github.com/fabfab/docqa/config"
	"github.com/fabfab/docqa/database"
	"github.com/fabfab/docqa/embeddings"
	"github.com/fabfab/docqa/ingestion"
	"github.com/fabfab/docqa/knowledge"
	"github.com/fabfab/docqa/llm"
	"github.com/fabfab/docqa/records"
	"github.com/fabfab/docqa/vectorstore"
)

var version = "1.0.0"

func main() {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "docqa",
		Short:         "Ask questions answered from your own documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.AddCommand(serveCmd(logger))
	root.AddCommand(uploadCmd(logger))
	root.AddCommand(askCmd(logger))
	root.AddCommand(historyCmd(logger))
	root.AddCommand(documentsCmd(logger))
	root.AddCommand(deleteCmd(logger))
	root.AddCommand(statsCmd(logger))

	if err := root.Execute(); err != nil {
		logger.Printf("error: %v", err)
		os.Exit(1)
	}
}

// app holds the wired services for one command invocation.
type app struct {
	cfg       config.Config
	documents *ingestion.Service
	chat      *chat.Service
	closers   []func()
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, logger *log.Logger) (_ *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	index, err := a.openIndex(ctx, embedder, logger)
	if err != nil {
		return nil, err
	}

	store, err := records.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	a.closers = append(a.closers, func() { _ = store.Close() })

	var graph ingestion.GraphMirror
	if cfg.Neo4jURI != "" {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			return nil, fmt.Errorf("neo4j connection: %w", err)
		}
		a.closers = append(a.closers, func() { _ = driver.Close(context.Background()) })
		graph = knowledge.NewGraph(driver)
		logger.Printf("knowledge graph mirror enabled: %s", cfg.Neo4jURI)
	}

	a.documents, err = ingestion.NewService(index, store, graph, ingestion.Options{
		UploadDir:     cfg.Upload.Dir,
		MaxUploadSize: cfg.Upload.MaxSize,
		ChunkSize:     cfg.RAG.ChunkSize,
		ChunkOverlap:  cfg.RAG.ChunkOverlap,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("ingestion setup: %w", err)
	}
	a.chat = chat.NewService(index, client, store, cfg.RAG.TopK, logger)

	return a, nil
}

func (a *app) openIndex(ctx context.Context, embedder embeddings.Embedder, logger *log.Logger) (vectorstore.Index, error) {
	cfg := a.cfg
	switch cfg.VectorStore.Backend {
	case config.VectorStorePGVector:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := database.EnsureVectorSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
			return nil, err
		}
		return vectorstore.NewPostgresIndex(pool, embedder, cfg.VectorStore.Collection, logger), nil
	default:
		index, err := vectorstore.NewMemoryIndex(embedder, cfg.VectorStore.Collection, cfg.VectorStore.PersistDir, logger)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
		return index, nil
	}
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
