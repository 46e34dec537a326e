// Package chat answers questions from indexed documents: retrieve evidence,
// synthesize an answer, label its confidence and record the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fabfab/docqa/domain"
	"github.com/fabfab/docqa/llm"
	"github.com/fabfab/docqa/records"
	"github.com/fabfab/docqa/vectorstore"
)

const (
	DefaultTopK = 3
	MaxTopK     = 10

	defaultHistoryLimit = 50
	maxHistoryLimit     = 100

	excerptLength = 300
)

// StageError reports the stage an ask failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ask failed while %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Service struct {
	retriever   *Retriever
	synthesizer *Synthesizer
	history     records.ChatStore
	defaultTopK int
	logger      *log.Logger
}

// NewService builds the ask-question workflow. defaultTopK applies when a
// request leaves TopK nil; values outside [1, 10] fall back to 3.
func NewService(index vectorstore.Index, client llm.Client, history records.ChatStore, defaultTopK int, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if defaultTopK < 1 || defaultTopK > MaxTopK {
		defaultTopK = DefaultTopK
	}

	return &Service{
		retriever:   NewRetriever(index),
		synthesizer: NewSynthesizer(client),
		history:     history,
		defaultTopK: defaultTopK,
		logger:      logger,
	}
}

// Ask runs one question through retrieval, synthesis, assessment and
// persistence. The answer is only returned once it has been recorded.
func (s *Service) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	start := time.Now()
	stage := StageReceived

	fail := func(err error) (Answer, error) {
		s.logger.Printf("ask failed at %s: %v", stage, err)
		return Answer{}, &StageError{Stage: stage, Err: err}
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return fail(fmt.Errorf("%w: question must not be empty", domain.ErrValidation))
	}
	topK := s.defaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if topK < 1 || topK > MaxTopK {
		return fail(fmt.Errorf("%w: topK must be between 1 and %d, got %d", domain.ErrValidation, MaxTopK, topK))
	}

	stage = StageRetrieving
	searchStart := time.Now()
	evidence, err := s.retriever.Retrieve(ctx, question, topK, req.DocumentIDs)
	if err != nil {
		return fail(fmt.Errorf("retrieve evidence: %w", err))
	}
	s.logger.Printf("performance: search_similarity took %.2fs", time.Since(searchStart).Seconds())

	var answer string
	if len(evidence) == 0 {
		stage = StageEmptyEvidence
		answer = NoInformationAnswer
	} else {
		stage = StageSynthesizing
		genStart := time.Now()
		answer, err = s.synthesizer.Synthesize(ctx, question, evidence)
		if err != nil {
			return fail(fmt.Errorf("generate answer: %w", err))
		}
		s.logger.Printf("performance: generate_answer took %.2fs", time.Since(genStart).Seconds())
	}

	stage = StageAssessing
	confidence := Assess(answer, len(evidence))

	stage = StagePersisting
	entry := domain.ChatEntry{
		ID:          uuid.NewString(),
		Question:    question,
		Answer:      answer,
		Confidence:  confidence,
		TopK:        topK,
		DocumentIDs: req.DocumentIDs,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.history.AppendChat(ctx, entry); err != nil {
		return fail(fmt.Errorf("%w: save chat: %w", domain.ErrPersistence, err))
	}
	s.logger.Printf("chat saved: %s", entry.ID)

	s.logger.Printf("performance: ask_question took %.2fs", time.Since(start).Seconds())

	sources := make([]Evidence, len(evidence))
	for i, e := range evidence {
		e.Content = excerpt(e.Content)
		sources[i] = e
	}

	return Answer{
		ID:         entry.ID,
		Question:   question,
		Answer:     answer,
		Sources:    sources,
		Confidence: confidence,
		CreatedAt:  entry.CreatedAt,
	}, nil
}

// AskSimple asks across every document with the default top k.
func (s *Service) AskSimple(ctx context.Context, question string) (SimpleAnswer, error) {
	topK := DefaultTopK
	answer, err := s.Ask(ctx, AskRequest{Question: question, TopK: &topK})
	if err != nil {
		return SimpleAnswer{}, err
	}
	return SimpleAnswer{
		Question:     answer.Question,
		Answer:       answer.Answer,
		Confidence:   answer.Confidence,
		SourcesCount: len(answer.Sources),
	}, nil
}

// History lists recent exchanges, newest first. limit defaults to 50 and is
// capped at 100.
func (s *Service) History(ctx context.Context, limit int) ([]domain.ChatEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := s.history.ListRecentChats(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list chat history: %w", domain.ErrPersistence, err)
	}
	return entries, nil
}

// FailedStage returns the stage recorded on err, or "" when err did not come
// from Ask.
func FailedStage(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}

func excerpt(content string) string {
	if utf8.RuneCountInString(content) <= excerptLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:excerptLength]) + "..."
}
