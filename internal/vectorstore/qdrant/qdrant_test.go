package qdrant

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrag/internal/domain"
	"fundrag/internal/vectorstore"
)

// fakeQdrant implements the subset of the Qdrant REST API the storage uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	aliases     map[string]string
	failUpsert  bool
}

type fakeCollection struct {
	size     int
	metadata map[string]any
	points   []point
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: map[string]*fakeCollection{}, aliases: map[string]string{}}
}

func (f *fakeQdrant) resolve(name string) *fakeCollection {
	if target, ok := f.aliases[name]; ok {
		name = target
	}
	return f.collections[name]
}

func (f *fakeQdrant) handler() http.Handler {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
	}
	mux.HandleFunc("GET /collections", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var cols []map[string]string
		for name := range f.collections {
			cols = append(cols, map[string]string{"name": name})
		}
		ok(w, map[string]any{"collections": cols})
	})
	mux.HandleFunc("GET /aliases", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var out []map[string]string
		for alias, col := range f.aliases {
			out = append(out, map[string]string{"alias_name": alias, "collection_name": col})
		}
		ok(w, map[string]any{"aliases": out})
	})
	mux.HandleFunc("POST /collections/aliases", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Actions []struct {
				Create *struct {
					Collection string `json:"collection_name"`
					Alias      string `json:"alias_name"`
				} `json:"create_alias"`
				Delete *struct {
					Alias string `json:"alias_name"`
				} `json:"delete_alias"`
			} `json:"actions"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, a := range req.Actions {
			if a.Delete != nil {
				delete(f.aliases, a.Delete.Alias)
			}
			if a.Create != nil {
				f.aliases[a.Create.Alias] = a.Create.Collection
			}
		}
		ok(w, true)
	})
	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
			Metadata map[string]any `json:"metadata"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Vectors.Distance != "Euclid" {
			http.Error(w, "unexpected distance", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.collections[r.PathValue("name")] = &fakeCollection{size: req.Vectors.Size, metadata: req.Metadata}
		ok(w, true)
	})
	mux.HandleFunc("GET /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		c := f.resolve(r.PathValue("name"))
		if c == nil {
			http.NotFound(w, r)
			return
		}
		ok(w, map[string]any{
			"points_count": len(c.points),
			"config": map[string]any{
				"params":   map[string]any{"vectors": map[string]any{"size": c.size}},
				"metadata": c.metadata,
			},
		})
	})
	mux.HandleFunc("DELETE /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.collections, r.PathValue("name"))
		ok(w, true)
	})
	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Points []point `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failUpsert {
			http.Error(w, "disk full", http.StatusInternalServerError)
			return
		}
		c := f.collections[r.PathValue("name")]
		c.points = append(c.points, req.Points...)
		ok(w, true)
	})
	mux.HandleFunc("POST /collections/{name}/points/scroll", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		c := f.resolve(r.PathValue("name"))
		var pts []map[string]any
		if c != nil && len(c.points) > 0 {
			pts = append(pts, map[string]any{"id": c.points[0].ID, "payload": c.points[0].Payload})
		}
		ok(w, map[string]any{"points": pts})
	})
	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Vector []float64 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		defer f.mu.Unlock()
		c := f.resolve(r.PathValue("name"))
		if c == nil {
			http.NotFound(w, r)
			return
		}
		type hit struct {
			Score   float64 `json:"score"`
			Payload payload `json:"payload"`
		}
		hits := make([]hit, 0, len(c.points))
		for _, p := range c.points {
			sum := 0.0
			for i := range p.Vector {
				d := p.Vector[i] - req.Vector[i]
				sum += d * d
			}
			hits = append(hits, hit{Score: math.Sqrt(sum), Payload: p.Payload})
		}
		// reverse insertion order on ties to check the client re-sorts
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].Score != hits[j].Score {
				return hits[i].Score < hits[j].Score
			}
			return hits[i].Payload.Position > hits[j].Payload.Position
		})
		if len(hits) > req.Limit {
			hits = hits[:req.Limit]
		}
		ok(w, hits)
	})
	return mux
}

func (f *fakeQdrant) alias(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aliases[name]
}

func (f *fakeQdrant) collectionNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.collections {
		out = append(out, name)
	}
	return out
}

func (f *fakeQdrant) addCollection(name string, size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[name] = &fakeCollection{size: size}
}

func newTestStorage(t *testing.T, fake *fakeQdrant) *Storage {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL, Collection: "fundrag"}, zerolog.Nop())
}

func testBuild(dim int) domain.Manifest {
	return domain.Manifest{
		BuildID:        uuid.NewString(),
		EmbeddingModel: "hashing-v1-2",
		Dimension:      dim,
		CreatedAt:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStorage_ReplaceLoadSearch(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	s := newTestStorage(t, fake)

	docs := []domain.Document{
		{ID: "a", Text: "fund: Alpha", Kind: domain.KindRow, Table: "holdings"},
		{ID: "b", Text: "fund: Beta", Kind: domain.KindRow, Table: "holdings"},
		{ID: "c", Text: "fund: Alpha again", Kind: domain.KindRow, Table: "trades"},
	}
	m := testBuild(2)
	require.NoError(t, s.Replace(ctx, docs, [][]float64{{1, 0}, {0, 3}, {1, 0}}, m))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.BuildID, got.BuildID)
	assert.Equal(t, "hashing-v1-2", got.EmbeddingModel)
	assert.Equal(t, 2, got.Dimension)
	assert.Equal(t, 3, got.Count)

	res, err := s.Search(ctx, []float64{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{res[0].Document.ID, res[1].Document.ID, res[2].Document.ID})
	assert.InDelta(t, 1.0, res[0].Distance, 1e-9)
	assert.InDelta(t, 9.0, res[2].Distance, 1e-9)
	assert.Equal(t, "trades", res[1].Document.Table)
}

func TestStorage_RebuildSwapsAliasAndDropsOld(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	s := newTestStorage(t, fake)
	docs := []domain.Document{{ID: "a", Text: "x", Kind: domain.KindRow}}

	first := testBuild(1)
	require.NoError(t, s.Replace(ctx, docs, [][]float64{{1}}, first))
	second := testBuild(1)
	require.NoError(t, s.Replace(ctx, docs, [][]float64{{2}}, second))

	assert.Equal(t, "fundrag_"+second.BuildID, fake.alias("fundrag"))
	assert.Len(t, fake.collectionNames(), 1)
}

func TestStorage_FailedUploadKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	s := newTestStorage(t, fake)
	docs := []domain.Document{{ID: "a", Text: "x", Kind: domain.KindRow}}

	first := testBuild(1)
	require.NoError(t, s.Replace(ctx, docs, [][]float64{{1}}, first))

	fake.mu.Lock()
	fake.failUpsert = true
	fake.mu.Unlock()
	err := s.Replace(ctx, docs, [][]float64{{2}}, testBuild(1))
	require.Error(t, err)

	assert.Equal(t, "fundrag_"+first.BuildID, fake.alias("fundrag"))
	for _, name := range fake.collectionNames() {
		assert.True(t, strings.HasSuffix(name, first.BuildID))
	}
}

func TestStorage_NoIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newFakeQdrant())

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, vectorstore.ErrNoIndex)

	res, err := s.Search(ctx, []float64{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestStorage_RebuildKeepsForeignCollections(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	fake.addCollection("fundrag_archive", 1)
	fake.addCollection("fundrag_test", 1)
	fake.addCollection("other_"+uuid.NewString(), 1)
	s := newTestStorage(t, fake)
	docs := []domain.Document{{ID: "a", Text: "x", Kind: domain.KindRow}}

	first := testBuild(1)
	require.NoError(t, s.Replace(ctx, docs, [][]float64{{1}}, first))
	second := testBuild(1)
	require.NoError(t, s.Replace(ctx, docs, [][]float64{{2}}, second))

	names := fake.collectionNames()
	assert.Len(t, names, 4)
	assert.Contains(t, names, "fundrag_archive")
	assert.Contains(t, names, "fundrag_test")
	assert.Contains(t, names, "fundrag_"+second.BuildID)
	assert.NotContains(t, names, "fundrag_"+first.BuildID)
}

func TestStorage_EmptyBuildLoads(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newFakeQdrant())

	m := testBuild(2)
	require.NoError(t, s.Replace(ctx, nil, nil, m))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.BuildID, got.BuildID)
	assert.Equal(t, "hashing-v1-2", got.EmbeddingModel)
	assert.Equal(t, 0, got.Count)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))

	res, err := s.Search(ctx, []float64{0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}
