package chat

import (
	"time"

	"github.com/fabfab/docqa/domain"
)

// Evidence is one retrieved chunk. Content holds the full chunk text inside
// the pipeline and an excerpt once returned in an Answer.
type Evidence struct {
	DocumentID    string  `json:"documentId"`
	DocumentTitle string  `json:"documentTitle"`
	ChunkIndex    int     `json:"chunkIndex"`
	Content       string  `json:"content"`
	Score         float64 `json:"similarityScore"`
}

type Answer struct {
	ID         string            `json:"id"`
	Question   string            `json:"question"`
	Answer     string            `json:"answer"`
	Sources    []Evidence        `json:"sources"`
	Confidence domain.Confidence `json:"confidence"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// AskRequest is one question. A nil TopK uses the service default; an
// explicit value must lie in [1, 10].
type AskRequest struct {
	Question    string   `json:"question"`
	DocumentIDs []string `json:"documentIds,omitempty"`
	TopK        *int     `json:"topK,omitempty"`
}

type SimpleAnswer struct {
	Question     string            `json:"question"`
	Answer       string            `json:"answer"`
	Confidence   domain.Confidence `json:"confidence"`
	SourcesCount int               `json:"sourcesCount"`
}

// Stage names the step an ask is in. Failures are reported with the stage
// that was running.
type Stage string

const (
	StageReceived      Stage = "received"
	StageRetrieving    Stage = "retrieving"
	StageEmptyEvidence Stage = "empty-evidence"
	StageSynthesizing  Stage = "synthesizing"
	StageAssessing     Stage = "assessing"
	StagePersisting    Stage = "persisting"
)
