package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fundrag/internal/domain"
	"fundrag/internal/observability"
	"fundrag/internal/retrieval"
)

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question must not be empty")

// StructuredMatcher answers exact count questions.
type StructuredMatcher interface {
	Match(ctx context.Context, question string) (string, bool)
}

// Retriever collects evidence for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) (retrieval.Result, error)
}

// Synthesizer produces a grounded answer from evidence.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, evidence []domain.SearchResult) (string, error)
}

// RAGService decides between the structured shortcut and retrieval-augmented
// generation, and contains every failure behind the canonical fallback.
type RAGService struct {
	matcher     StructuredMatcher
	retriever   Retriever
	synthesizer Synthesizer
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewRAGService(matcher StructuredMatcher, retriever Retriever, synthesizer Synthesizer, metrics *observability.Metrics, logger zerolog.Logger) *RAGService {
	return &RAGService{
		matcher:     matcher,
		retriever:   retriever,
		synthesizer: synthesizer,
		metrics:     metrics,
		logger:      logger,
	}
}

// Answer runs the pipeline for one question. The only error it returns is
// ErrEmptyQuestion; every other failure becomes a fallback answer.
func (s *RAGService) Answer(ctx context.Context, question string) (ans domain.Answer, err error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Answer{}, ErrEmptyQuestion
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("question", question).Msg("recovered while answering")
			s.countError("panic")
			ans, err = fallback(nil), nil
		}
		s.observe(ans, time.Since(start))
	}()
	return s.answer(ctx, question), nil
}

func (s *RAGService) answer(ctx context.Context, question string) domain.Answer {
	if text, ok := s.matcher.Match(ctx, question); ok {
		s.logger.Info().Str("path", string(domain.PathStructured)).Str("answer", text).Msg("structured answer")
		return domain.Answer{Text: text, Path: domain.PathStructured}
	}

	res, err := s.retriever.Retrieve(ctx, question)
	if err != nil {
		s.logger.Error().Err(err).Msg("retrieval failed")
		s.countError("retrieval")
		return fallback(nil)
	}
	if s.metrics != nil {
		s.metrics.Retained.Observe(float64(len(res.Retained)))
	}
	if !res.Sufficient {
		s.logger.Info().
			Int("candidates", len(res.Candidates)).
			Int("retained", len(res.Retained)).
			Msg("insufficient evidence")
		return fallback(res.Retained)
	}

	text, err := s.synthesizer.Synthesize(ctx, question, res.Retained)
	if err != nil {
		s.logger.Error().Err(err).Msg("generation failed")
		s.countError("generation")
		return fallback(res.Retained)
	}
	if text == domain.FallbackAnswer {
		return fallback(res.Retained)
	}
	return domain.Answer{Text: text, Path: domain.PathGenerated, Context: res.Retained}
}

// AnswerQuestion always returns a well-formed answer string.
func (s *RAGService) AnswerQuestion(ctx context.Context, question string) string {
	ans, err := s.Answer(ctx, question)
	if err != nil {
		return domain.FallbackAnswer
	}
	return ans.Text
}

func fallback(evidence []domain.SearchResult) domain.Answer {
	return domain.Answer{Text: domain.FallbackAnswer, Path: domain.PathFallback, Context: evidence}
}

func (s *RAGService) observe(ans domain.Answer, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.Answers.WithLabelValues(string(ans.Path)).Inc()
	s.metrics.Latency.WithLabelValues(string(ans.Path)).Observe(elapsed.Seconds())
}

func (s *RAGService) countError(stage string) {
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues(stage).Inc()
	}
}
