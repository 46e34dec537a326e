package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/docqa/api"
	"github.com/fabfab/docqa/chat"
	"github.com/fabfab/docqa/ingestion"
)

// withApp runs fn with wired services and a context cancelled on SIGINT or
// SIGTERM.
func withApp(logger *log.Logger, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func serveCmd(logger *log.Logger) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(logger, func(ctx context.Context, a *app) error {
				if addr == "" {
					addr = a.cfg.HTTPAddr
				}
				srv := &http.Server{
					Addr:              addr,
					Handler:           api.New(a.documents, a.chat, version, logger),
					ReadHeaderTimeout: 10 * time.Second,
				}

				errCh := make(chan error, 1)
				go func() {
					logger.Printf("listening on %s", addr)
					errCh <- srv.ListenAndServe()
				}()

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
				}

				logger.Println("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR or :8000)")
	return cmd
}

func uploadCmd(logger *log.Logger) *cobra.Command {
	var title, description string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload and index a PDF, DOCX or TXT document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()

			return withApp(logger, func(ctx context.Context, a *app) error {
				doc, stats, err := a.documents.Upload(ctx, ingestion.UploadRequest{
					FileName:    filepath.Base(path),
					Title:       title,
					Description: description,
					Body:        f,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Document %s uploaded\n", doc.ID)
				fmt.Fprintf(out, "  Title:  %s\n", doc.Title)
				fmt.Fprintf(out, "  Pages:  %d\n", doc.PageCount)
				fmt.Fprintf(out, "  Chunks: %d\n", stats.ChunksCreated)
				fmt.Fprintf(out, "  Text:   %d characters in %.2fs\n", stats.TextLength, stats.ProcessingTimeSeconds)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "document title (default file name)")
	cmd.Flags().StringVar(&description, "description", "", "optional description")
	return cmd
}

func askCmd(logger *log.Logger) *cobra.Command {
	var (
		topK        int
		documentIDs []string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the uploaded documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			return withApp(logger, func(ctx context.Context, a *app) error {
				req := chat.AskRequest{Question: question, DocumentIDs: documentIDs}
				if cmd.Flags().Changed("top-k") {
					req.TopK = &topK
				}
				answer, err := a.chat.Ask(ctx, req)
				if err != nil {
					return err
				}
				printAnswer(cmd.OutOrStdout(), answer)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve, 1-10 (default TOP_K_RESULTS)")
	cmd.Flags().StringSliceVarP(&documentIDs, "document", "d", nil, "restrict retrieval to these document ids")
	return cmd
}

func printAnswer(out io.Writer, answer chat.Answer) {
	fmt.Fprintln(out, answer.Answer)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Confidence: %s\n", answer.Confidence)
	if len(answer.Sources) == 0 {
		return
	}

	fmt.Fprintln(out, "Sources:")
	for idx, source := range answer.Sources {
		fmt.Fprintf(out, "%d. %s (chunk %d, score %.3f)\n", idx+1, source.DocumentTitle, source.ChunkIndex, source.Score)
		fmt.Fprintf(out, "   %s\n", strings.ReplaceAll(source.Content, "\n", " "))
	}
}

func historyCmd(logger *log.Logger) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent questions and answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(logger, func(ctx context.Context, a *app) error {
				entries, err := a.chat.History(ctx, limit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No questions asked yet")
					return nil
				}
				for _, entry := range entries {
					fmt.Fprintf(out, "[%s] (%s) Q: %s\n", entry.CreatedAt.Local().Format(time.DateTime), entry.Confidence, entry.Question)
					fmt.Fprintf(out, "  A: %s\n", entry.Answer)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "number of entries, at most 100")
	return cmd
}

func documentsCmd(logger *log.Logger) *cobra.Command {
	var skip, limit int

	cmd := &cobra.Command{
		Use:   "documents",
		Short: "List uploaded documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(logger, func(ctx context.Context, a *app) error {
				docs, err := a.documents.List(ctx, skip, limit)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(docs) == 0 {
					fmt.Fprintln(out, "No documents uploaded")
					return nil
				}
				for _, doc := range docs {
					fmt.Fprintf(out, "%s  %s  (%s, %d pages, %d chunks)\n", doc.ID, doc.Title, doc.FileName, doc.PageCount, doc.ChunkCount)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&skip, "skip", 0, "number of documents to skip")
	cmd.Flags().IntVar(&limit, "limit", 100, "number of documents, at most 100")
	return cmd
}

func deleteCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document and its indexed chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(logger, func(ctx context.Context, a *app) error {
				if err := a.documents.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Document %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func statsCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show vector index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(logger, func(ctx context.Context, a *app) error {
				stats, err := a.documents.Stats(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Collection: %s\n", stats.CollectionName)
				fmt.Fprintf(out, "Chunks:     %d\n", stats.TotalChunkCount)
				fmt.Fprintf(out, "Location:   %s\n", stats.PersistLocation)
				return nil
			})
		},
	}
}
