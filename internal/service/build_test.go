package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrag/internal/docbuilder"
	"fundrag/internal/domain"
	"fundrag/internal/tabular"
)

type recordingIndex struct {
	docs []domain.Document
	err  error
}

func (r *recordingIndex) Build(_ context.Context, docs []domain.Document, progress func(int)) (domain.Manifest, error) {
	if r.err != nil {
		return domain.Manifest{}, r.err
	}
	r.docs = docs
	for i := range docs {
		if progress != nil {
			progress(i + 1)
		}
	}
	return domain.Manifest{BuildID: "b1", Count: len(docs)}, nil
}

func TestBuildJob_Run(t *testing.T) {
	dir := t.TempDir()
	sources := []tabular.Source{
		{Name: "holdings", Path: writeFixture(t, dir, "h.csv", "fund,pl_ytd\nAlpha,1\nAlpha,2\nBeta,x\n")},
		{Name: "trades", Path: writeFixture(t, dir, "t.csv", "ticker,qty\nAAPL,1\n")},
	}
	idx := &recordingIndex{}
	job := NewBuildJob(sources, docbuilder.NewBuilder(nil), idx, zerolog.Nop())

	var total, last int
	report, err := job.Run(context.Background(), func(n int) { total = n }, func(done int) { last = done })
	require.NoError(t, err)

	assert.Equal(t, 6, total)
	assert.Equal(t, 6, last)
	assert.Equal(t, map[string]int{"holdings": 3, "trades": 1}, report.Rows)
	assert.Equal(t, map[string]int{"holdings": 2}, report.Summaries)
	assert.Equal(t, "b1", report.Manifest.BuildID)

	require.Len(t, idx.docs, 6)
	assert.Equal(t, "holdings:row:0", idx.docs[0].ID)
	assert.Equal(t, "trades:row:0", idx.docs[3].ID)
	assert.Equal(t, "SOURCE: HOLDINGS | FUND: Beta | COUNT: 1 | PL_YTD_SUM: 0.00 | PL_YTD_MEAN: nan", idx.docs[5].Text)
}

func TestBuildJob_Failures(t *testing.T) {
	dir := t.TempDir()
	good := writeFixture(t, dir, "h.csv", "fund\nAlpha\n")

	_, err := NewBuildJob([]tabular.Source{{Name: "holdings", Path: dir + "/missing.csv"}},
		docbuilder.NewBuilder(nil), &recordingIndex{}, zerolog.Nop()).Run(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "missing.csv")

	boom := errors.New("disk full")
	_, err = NewBuildJob([]tabular.Source{{Name: "holdings", Path: good}},
		docbuilder.NewBuilder(nil), &recordingIndex{err: boom}, zerolog.Nop()).Run(context.Background(), nil, nil)
	assert.ErrorIs(t, err, boom)
}
