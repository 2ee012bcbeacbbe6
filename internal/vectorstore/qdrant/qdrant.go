package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fundrag/internal/domain"
	"fundrag/internal/vectorstore"
)

const upsertBatchSize = 256

// Storage is a minimal REST client to Qdrant.
//
// Every build goes into its own collection named <collection>_<build id>.
// The alias <collection> is repointed in a single aliases request once the
// upload succeeded, then superseded build collections are dropped.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
	logger     zerolog.Logger
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config, logger zerolog.Logger) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "fundrag"
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type payload struct {
	Position       int       `json:"position"`
	DocID          string    `json:"doc_id"`
	Text           string    `json:"text"`
	Kind           string    `json:"kind"`
	Source         string    `json:"source"`
	BuildID        string    `json:"build_id"`
	EmbeddingModel string    `json:"embedding_model"`
	CreatedAt      time.Time `json:"created_at"`
}

// buildMetadata is stored on the collection itself so an empty build still
// records which embedding model produced it.
type buildMetadata struct {
	BuildID        string    `json:"build_id"`
	EmbeddingModel string    `json:"embedding_model"`
	CreatedAt      time.Time `json:"created_at"`
}

type point struct {
	ID      int       `json:"id"`
	Vector  []float64 `json:"vector"`
	Payload payload   `json:"payload"`
}

func (s *Storage) buildCollection(buildID string) string {
	return s.collection + "_" + buildID
}

// isBuildCollection reports whether name is one of this index's builds:
// the alias name followed by a build uuid.
func (s *Storage) isBuildCollection(name string) bool {
	suffix, ok := strings.CutPrefix(name, s.collection+"_")
	if !ok {
		return false
	}
	_, err := uuid.Parse(suffix)
	return err == nil
}

// Replace uploads a build into a fresh collection and swaps the alias to it.
func (s *Storage) Replace(ctx context.Context, docs []domain.Document, vectors [][]float64, manifest domain.Manifest) error {
	if err := vectorstore.Validate(docs, vectors, manifest); err != nil {
		return err
	}
	if manifest.BuildID == "" {
		return errors.New("manifest has no build id")
	}
	if manifest.Dimension <= 0 {
		return errors.New("invalid dimension")
	}
	name := s.buildCollection(manifest.BuildID)
	body := map[string]any{
		"vectors": map[string]any{
			"size":     manifest.Dimension,
			"distance": "Euclid",
		},
		"metadata": buildMetadata{
			BuildID:        manifest.BuildID,
			EmbeddingModel: manifest.EmbeddingModel,
			CreatedAt:      manifest.CreatedAt,
		},
	}
	if err := s.do(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	if err := s.upload(ctx, name, docs, vectors, manifest); err != nil {
		s.drop(ctx, name)
		return err
	}

	previous, err := s.aliasTarget(ctx)
	if err != nil {
		s.drop(ctx, name)
		return err
	}
	actions := []map[string]any{}
	if previous != "" {
		actions = append(actions, map[string]any{"delete_alias": map[string]any{"alias_name": s.collection}})
	}
	actions = append(actions, map[string]any{"create_alias": map[string]any{"collection_name": name, "alias_name": s.collection}})
	if err := s.do(ctx, http.MethodPost, "/collections/aliases", map[string]any{"actions": actions}, nil); err != nil {
		s.drop(ctx, name)
		return fmt.Errorf("swap alias %s: %w", s.collection, err)
	}
	s.prune(ctx, name)
	return nil
}

func (s *Storage) upload(ctx context.Context, name string, docs []domain.Document, vectors [][]float64, manifest domain.Manifest) error {
	for start := 0; start < len(docs); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		points := make([]point, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, point{
				ID:     i,
				Vector: vectors[i],
				Payload: payload{
					Position:       i,
					DocID:          docs[i].ID,
					Text:           docs[i].Text,
					Kind:           string(docs[i].Kind),
					Source:         docs[i].Table,
					BuildID:        manifest.BuildID,
					EmbeddingModel: manifest.EmbeddingModel,
					CreatedAt:      manifest.CreatedAt,
				},
			})
		}
		if err := s.do(ctx, http.MethodPut, "/collections/"+name+"/points?wait=true", map[string]any{"points": points}, nil); err != nil {
			return fmt.Errorf("upsert points %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// Load reads the manifest of the build the alias points to.
func (s *Storage) Load(ctx context.Context) (domain.Manifest, error) {
	target, err := s.aliasTarget(ctx)
	if err != nil {
		return domain.Manifest{}, err
	}
	if target == "" {
		return domain.Manifest{}, vectorstore.ErrNoIndex
	}
	var info struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
				Metadata *buildMetadata `json:"metadata"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections/"+target, nil, &info); err != nil {
		return domain.Manifest{}, fmt.Errorf("collection info %s: %w", target, err)
	}
	m := domain.Manifest{
		BuildID:   strings.TrimPrefix(target, s.collection+"_"),
		Dimension: info.Result.Config.Params.Vectors.Size,
		Count:     info.Result.PointsCount,
	}
	if md := info.Result.Config.Metadata; md != nil && md.EmbeddingModel != "" {
		m.EmbeddingModel = md.EmbeddingModel
		m.CreatedAt = md.CreatedAt
		return m, nil
	}
	// Collections created without metadata carry the manifest on every point.
	if m.Count == 0 {
		return m, nil
	}
	var scroll struct {
		Result struct {
			Points []struct {
				Payload payload `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	req := map[string]any{"limit": 1, "with_payload": true, "with_vector": false}
	if err := s.do(ctx, http.MethodPost, "/collections/"+target+"/points/scroll", req, &scroll); err != nil {
		return domain.Manifest{}, fmt.Errorf("scroll %s: %w", target, err)
	}
	if len(scroll.Result.Points) > 0 {
		p := scroll.Result.Points[0].Payload
		m.EmbeddingModel = p.EmbeddingModel
		m.CreatedAt = p.CreatedAt
	}
	return m, nil
}

// Search queries the alias. Qdrant's Euclid score is the plain distance,
// so it is squared to match the other backends.
func (s *Storage) Search(ctx context.Context, vector []float64, k int) ([]domain.SearchResult, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload payload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, "/collections/"+s.collection+"/points/search", req, &resp); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	sort.SliceStable(resp.Result, func(i, j int) bool {
		a, b := resp.Result[i], resp.Result[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		return a.Payload.Position < b.Payload.Position
	})
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{
			Document: domain.Document{
				ID:    r.Payload.DocID,
				Text:  r.Payload.Text,
				Kind:  domain.DocumentKind(r.Payload.Kind),
				Table: r.Payload.Source,
			},
			Distance: r.Score * r.Score,
		})
	}
	return results, nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// aliasTarget returns the collection behind the alias, or "" if unset.
func (s *Storage) aliasTarget(ctx context.Context) (string, error) {
	var resp struct {
		Result struct {
			Aliases []struct {
				AliasName      string `json:"alias_name"`
				CollectionName string `json:"collection_name"`
			} `json:"aliases"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/aliases", nil, &resp); err != nil {
		return "", fmt.Errorf("list aliases: %w", err)
	}
	for _, a := range resp.Result.Aliases {
		if a.AliasName == s.collection {
			return a.CollectionName, nil
		}
	}
	return "", nil
}

// prune drops every build collection of this index except keep. Collections
// that merely share the name prefix are left alone.
func (s *Storage) prune(ctx context.Context, keep string) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		s.logger.Warn().Err(err).Msg("list qdrant collections")
		return
	}
	for _, c := range resp.Result.Collections {
		if c.Name != keep && s.isBuildCollection(c.Name) {
			s.drop(ctx, c.Name)
		}
	}
}

// drop deletes a collection; best effort.
func (s *Storage) drop(ctx context.Context, name string) {
	if err := s.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil); err != nil {
		s.logger.Warn().Err(err).Str("collection", name).Msg("delete qdrant collection")
	}
}

type statusError struct {
	method string
	path   string
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %s", e.method, e.path, e.status)
}

func (s *Storage) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &statusError{method: method, path: path, code: resp.StatusCode, status: resp.Status}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
