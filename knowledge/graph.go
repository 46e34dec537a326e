// Package knowledge mirrors ingested documents into Neo4j as
// Document -> Chunk graphs and reads per-document insights back.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Document struct {
	ID       string
	Title    string
	FileName string
	Format   string
	Chunks   []Chunk
}

type Chunk struct {
	ID    string
	Index int
	Text  string
}

type RelatedDocument struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Insight summarises what the graph knows about one document. Related
// documents share its format.
type Insight struct {
	ChunkCount       int               `json:"chunkCount"`
	Format           string            `json:"format,omitempty"`
	RelatedDocuments []RelatedDocument `json:"relatedDocuments,omitempty"`
}

type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

// SyncDocument replaces the document node and its chunk nodes.
func (g *Graph) SyncDocument(ctx context.Context, doc Document) error {
	if g == nil || g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]any{
		"id":        doc.ID,
		"title":     doc.Title,
		"file_name": doc.FileName,
		"format":    doc.Format,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (d:Document {id: $id})
			SET d.title = $title,
			    d.file_name = $file_name,
			    d.updated_at = datetime()
		`, params); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[r:HAS_FORMAT]->(:Format)
			DELETE r
		`, params); err != nil {
			return nil, fmt.Errorf("remove stale format relation: %w", err)
		}
		if doc.Format != "" {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $id})
				MERGE (f:Format {name: $format})
				MERGE (d)-[:HAS_FORMAT]->(f)
			`, params); err != nil {
				return nil, fmt.Errorf("upsert format relation: %w", err)
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, params); err != nil {
			return nil, fmt.Errorf("clear existing chunk nodes: %w", err)
		}

		for _, chunk := range doc.Chunks {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $doc_id})
				MERGE (c:Chunk {id: $chunk_id})
				SET c.index = $chunk_index,
				    c.text = $chunk_text
				MERGE (d)-[:HAS_CHUNK {order: $chunk_index}]->(c)
			`, map[string]any{
				"doc_id":      doc.ID,
				"chunk_id":    chunk.ID,
				"chunk_index": chunk.Index,
				"chunk_text":  chunk.Text,
			}); err != nil {
				return nil, fmt.Errorf("upsert chunk node: %w", err)
			}
		}

		return nil, nil
	})
	return err
}

// DeleteDocument removes the document, its chunks and any format node left
// without documents. Deleting an unknown id is not an error.
func (g *Graph) DeleteDocument(ctx context.Context, id string) error {
	if g == nil || g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})
			OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c, d
		`, map[string]any{"id": id}); err != nil {
			return nil, fmt.Errorf("delete document node: %w", err)
		}
		if _, err := tx.Run(ctx, `
			MATCH (f:Format)
			WHERE NOT (f)<-[:HAS_FORMAT]-(:Document)
			DELETE f
		`, nil); err != nil {
			return nil, fmt.Errorf("cleanup format nodes: %w", err)
		}
		return nil, nil
	})
	return err
}

// DocumentInsight reports the mirrored chunk count and same-format documents.
// The boolean is false when the graph has no node for id.
func (g *Graph) DocumentInsight(ctx context.Context, id string) (Insight, bool, error) {
	if g == nil || g.driver == nil {
		return Insight{}, false, fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document {id: $id})
		OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
		OPTIONAL MATCH (d)-[:HAS_FORMAT]->(f:Format)
		OPTIONAL MATCH (f)<-[:HAS_FORMAT]-(related:Document)
		WITH d,
		     count(DISTINCT c) AS chunkCount,
		     head(collect(DISTINCT f.name)) AS format,
		     collect(DISTINCT related) AS relatedNodes
		RETURN chunkCount,
		       format,
		       [r IN relatedNodes WHERE r.id <> d.id | {id: r.id, title: r.title}] AS relatedDocuments
	`, map[string]any{"id": id})
	if err != nil {
		return Insight{}, false, fmt.Errorf("run neo4j insight query: %w", err)
	}

	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return Insight{}, false, fmt.Errorf("neo4j insight result error: %w", err)
		}
		return Insight{}, false, nil
	}

	record := result.Record()
	count, _ := record.Get("chunkCount")
	format, _ := record.Get("format")
	related, _ := record.Get("relatedDocuments")

	insight := Insight{
		ChunkCount:       toInt(count),
		RelatedDocuments: convertRelated(related),
	}
	if s, ok := format.(string); ok {
		insight.Format = s
	}

	return insight, true, nil
}

func toInt(value any) int {
	switch v := value.(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	}
	return 0
}

func convertRelated(value any) []RelatedDocument {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}

	docs := make([]RelatedDocument, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var doc RelatedDocument
		doc.ID, _ = m["id"].(string)
		doc.Title, _ = m["title"].(string)
		if doc.ID != "" {
			docs = append(docs, doc)
		}
	}
	return docs
}
