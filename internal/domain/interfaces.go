package domain

import (
	"context"
	"time"
)

// FallbackAnswer is returned whenever there is not enough grounded evidence to answer.
const FallbackAnswer = "Sorry can not find the answer"

// DocumentKind tells row documents apart from group summaries.
type DocumentKind string

const (
	KindRow          DocumentKind = "row"
	KindGroupSummary DocumentKind = "group_summary"
)

// Table is a tabular source read wholesale: ordered columns and string cells.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Document is a flattened text view of one record or of a group of records.
type Document struct {
	ID    string
	Text  string
	Kind  DocumentKind
	Table string
}

// SearchResult pairs a document with its raw distance to the query.
// Lower distance means a closer match.
type SearchResult struct {
	Document Document
	Distance float64
}

// Manifest describes one persisted index build.
type Manifest struct {
	BuildID        string    `json:"build_id"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension"`
	Count          int       `json:"count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Embedder converts free text into a numeric vector representation.
// Model identifies the exact embedding function version; vectors from
// different models must never share an index.
type Embedder interface {
	Model() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Generator produces a single text completion for a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// AnswerPath records which stage of the pipeline produced an answer.
type AnswerPath string

const (
	PathStructured AnswerPath = "structured"
	PathGenerated  AnswerPath = "generated"
	PathFallback   AnswerPath = "fallback"
)

// Answer is the orchestrator outcome for one question.
type Answer struct {
	Text    string
	Path    AnswerPath
	Context []SearchResult
}

// QuestionAnswerer defines the query-time operation exposed by the application core.
type QuestionAnswerer interface {
	Answer(ctx context.Context, question string) (Answer, error)
}
