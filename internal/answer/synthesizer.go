// Package answer turns retained evidence into a grounded answer.
package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fundrag/internal/domain"
)

const maxLoggedResponse = 200

// uncertaintyMarkers flag refusals and hedged answers. Matched case-insensitively.
var uncertaintyMarkers = []string{
	"sorry",
	"not found",
	"cannot find",
	"can not find",
	"cannot determine",
	"can't determine",
	"unable to determine",
	"it seems",
	"might be",
	"unclear",
	"not explicitly",
	"not provided",
	"no information",
}

const promptTemplate = `You are a chatbot that MUST answer only using the context below.
If the answer is not explicitly present in the context, reply exactly:
"%s"
Do not guess, infer, estimate or hedge. Do not use phrases such as "it seems" or "might be".

Context:
%s

Question:
%s
`

// Synthesizer builds the prompt, calls the model once and vets its output.
type Synthesizer struct {
	generator domain.Generator
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewSynthesizer(generator domain.Generator, timeout time.Duration, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{generator: generator, timeout: timeout, logger: logger}
}

// BuildContext joins document texts with blank lines, in rank order.
func BuildContext(results []domain.SearchResult) string {
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Document.Text
	}
	return strings.Join(texts, "\n\n")
}

// BuildPrompt renders the grounded-answer prompt.
func BuildPrompt(contextText, question string) string {
	return fmt.Sprintf(promptTemplate, domain.FallbackAnswer, contextText, question)
}

// Synthesize returns the model answer or the canonical fallback. Model
// failures are returned alongside the fallback so callers can log them.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, evidence []domain.SearchResult) (string, error) {
	prompt := BuildPrompt(BuildContext(evidence), question)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	raw, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return domain.FallbackAnswer, fmt.Errorf("generate with %s: %w", s.generator.Name(), err)
	}
	response := strings.TrimSpace(raw)
	s.logger.Info().Str("response", truncate(response, maxLoggedResponse)).Msg("model response (raw)")
	return PostProcess(response), nil
}

// PostProcess replaces empty, refusing or hedged responses with the fallback.
func PostProcess(response string) string {
	response = strings.TrimSpace(response)
	if response == "" {
		return domain.FallbackAnswer
	}
	lower := strings.ToLower(response)
	for _, marker := range uncertaintyMarkers {
		if strings.Contains(lower, marker) {
			return domain.FallbackAnswer
		}
	}
	return response
}

func truncate(s string, n int) string {
	if s == "" {
		return "EMPTY"
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
