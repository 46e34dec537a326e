package knowledge

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docqa/database"
)

func TestGraphNilDriver(t *testing.T) {
	ctx := context.Background()
	g := NewGraph(nil)

	assert.Error(t, g.SyncDocument(ctx, Document{}))
	assert.Error(t, g.DeleteDocument(ctx, "doc"))
	_, _, err := g.DocumentInsight(ctx, "doc")
	assert.Error(t, err)
}

func TestConvertRelated(t *testing.T) {
	related := convertRelated([]any{
		map[string]any{"id": "a", "title": "Alpha"},
		map[string]any{"title": "no id"},
		"garbage",
	})
	assert.Equal(t, []RelatedDocument{{ID: "a", Title: "Alpha"}}, related)
	assert.Nil(t, convertRelated(nil))
}

func TestToInt(t *testing.T) {
	assert.Equal(t, 3, toInt(int64(3)))
	assert.Equal(t, 4, toInt(int32(4)))
	assert.Equal(t, 0, toInt("5"))
}

func TestGraphIntegration(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run neo4j integration tests")
	}

	ctx := context.Background()
	uri := os.Getenv("NEO4J_URI")
	if uri == "" {
		uri = "neo4j://localhost:7687"
	}
	driver, err := database.NewNeo4jDriver(ctx, uri, os.Getenv("NEO4J_USERNAME"), os.Getenv("NEO4J_PASSWORD"))
	require.NoError(t, err)
	defer driver.Close(ctx)

	g := NewGraph(driver)
	first := Document{
		ID:     uuid.NewString(),
		Title:  "Handbook",
		Format: "txt",
		Chunks: []Chunk{{ID: uuid.NewString(), Index: 0, Text: "one"}, {ID: uuid.NewString(), Index: 1, Text: "two"}},
	}
	second := Document{ID: uuid.NewString(), Title: "Policies", Format: "txt"}
	defer func() {
		_ = g.DeleteDocument(ctx, first.ID)
		_ = g.DeleteDocument(ctx, second.ID)
	}()

	require.NoError(t, g.SyncDocument(ctx, first))
	require.NoError(t, g.SyncDocument(ctx, second))

	insight, found, err := g.DocumentInsight(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, insight.ChunkCount)
	assert.Equal(t, "txt", insight.Format)
	assert.Contains(t, insight.RelatedDocuments, RelatedDocument{ID: second.ID, Title: "Policies"})

	require.NoError(t, g.DeleteDocument(ctx, first.ID))
	_, found, err = g.DocumentInsight(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, found)
}
