package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/fabfab/docqa/domain"
	"github.com/fabfab/docqa/llm"
)

// NoInformationAnswer is returned verbatim when nothing relevant was found,
// and is the phrase the model is told to use when the context is not enough.
const NoInformationAnswer = "I don't have enough information to answer this question based on the provided documents."

const contextSeparator = "\n\n---\n\n"

type Synthesizer struct {
	llm llm.Client
}

func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{llm: client}
}

// Synthesize asks the model to answer from the evidence alone. With no
// evidence it returns NoInformationAnswer without calling the model.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, evidence []Evidence) (string, error) {
	if len(evidence) == 0 {
		return NoInformationAnswer, nil
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(buildContext(evidence))},
		{Role: llm.RoleUser, Content: question},
	}

	answer, err := s.llm.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSynthesis, err)
	}
	return strings.TrimSpace(answer), nil
}

func buildContext(evidence []Evidence) string {
	parts := make([]string, len(evidence))
	for i, e := range evidence {
		parts[i] = fmt.Sprintf("[Source: %s]\n%s", e.DocumentTitle, e.Content)
	}
	return strings.Join(parts, contextSeparator)
}

func systemPrompt(context string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant that answers questions based on the provided context.\n\n")
	sb.WriteString("Instructions:\n")
	sb.WriteString("1. Answer using ONLY the information from the provided context.\n")
	sb.WriteString(fmt.Sprintf("2. If the context doesn't contain enough information, say exactly: %q\n", NoInformationAnswer))
	sb.WriteString("3. Be concise and direct.\n")
	sb.WriteString("4. If you quote from the context, name the source.\n")
	sb.WriteString("5. If multiple sources provide information, synthesize them coherently.\n\n")
	sb.WriteString("Context:\n")
	sb.WriteString(context)
	return sb.String()
}
