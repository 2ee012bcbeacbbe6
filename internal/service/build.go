package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"fundrag/internal/docbuilder"
	"fundrag/internal/domain"
	"fundrag/internal/tabular"
)

// IndexBuilder is the part of the index the build job needs.
type IndexBuilder interface {
	Build(ctx context.Context, docs []domain.Document, progress func(done int)) (domain.Manifest, error)
}

// BuildReport summarizes one index build.
type BuildReport struct {
	Manifest  domain.Manifest
	Rows      map[string]int
	Summaries map[string]int
}

// BuildJob reads the source tables and rebuilds the index from scratch.
type BuildJob struct {
	sources []tabular.Source
	docs    *docbuilder.Builder
	index   IndexBuilder
	logger  zerolog.Logger
}

func NewBuildJob(sources []tabular.Source, docs *docbuilder.Builder, index IndexBuilder, logger zerolog.Logger) *BuildJob {
	return &BuildJob{sources: sources, docs: docs, index: index, logger: logger}
}

// Documents reads every table and returns the documents to index.
func (j *BuildJob) Documents() ([]domain.Document, error) {
	tables, err := tabular.ReadAll(j.sources)
	if err != nil {
		return nil, err
	}
	return j.docs.Build(tables), nil
}

// Run rebuilds the index. onStart, when set, receives the document total
// before embedding begins; progress is forwarded to the index build.
func (j *BuildJob) Run(ctx context.Context, onStart func(total int), progress func(done int)) (BuildReport, error) {
	docs, err := j.Documents()
	if err != nil {
		return BuildReport{}, fmt.Errorf("load tables: %w", err)
	}
	report := BuildReport{Rows: map[string]int{}, Summaries: map[string]int{}}
	for _, d := range docs {
		if d.Kind == domain.KindGroupSummary {
			report.Summaries[d.Table]++
		} else {
			report.Rows[d.Table]++
		}
	}
	for _, s := range j.sources {
		j.logger.Info().
			Str("table", s.Name).
			Int("rows", report.Rows[s.Name]).
			Int("summaries", report.Summaries[s.Name]).
			Msg("documents prepared")
	}
	if onStart != nil {
		onStart(len(docs))
	}
	m, err := j.index.Build(ctx, docs, progress)
	if err != nil {
		return BuildReport{}, fmt.Errorf("build index: %w", err)
	}
	report.Manifest = m
	j.logger.Info().Int("documents", m.Count).Str("build_id", m.BuildID).Msg("saved index")
	return report, nil
}
