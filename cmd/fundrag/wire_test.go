package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrag/internal/cache"
	"fundrag/internal/config"
	"fundrag/internal/domain"
)

func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	holdings := filepath.Join(dir, "holdings.csv")
	trades := filepath.Join(dir, "trades.csv")
	require.NoError(t, os.WriteFile(holdings, []byte("PortfolioName,SecurityId,PL_YTD\nAlpha,AAPL,10\nAlpha,MSFT,5\nBeta,TSLA,-3\n"), 0o644))
	require.NoError(t, os.WriteFile(trades, []byte("PortfolioName,TradeTypeName,Quantity\nAlpha,Buy,100\nBeta,Sell,40\n"), 0o644))
	return holdings, trades
}

func TestApp_EphemeralAskPaths(t *testing.T) {
	var (
		mu      sync.Mutex
		prompts []string
	)
	seen := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), prompts...)
	}
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		prompts = append(prompts, req.Prompt)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "  Beta sold 40 shares.  "})
	}))
	defer ollama.Close()

	holdings, trades := writeFixtures(t)
	cfg := config.DefaultConfig()
	cfg.Data = config.DataConfig{HoldingsFile: holdings, TradesFile: trades}
	cfg.Cache.Type = "memory"
	cfg.LLM.BaseURL = ollama.URL
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	a, err := newApp(ctx, cfg, zerolog.Nop(), true)
	require.NoError(t, err)
	defer a.close()

	report, err := a.buildJob().Run(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Rows["holdings"])
	assert.Equal(t, 2, report.Summaries["trades"])
	assert.Equal(t, 5+4, report.Manifest.Count)

	svc, err := a.ragService()
	require.NoError(t, err)

	ans, err := svc.Answer(ctx, "How many holdings in Alpha?")
	require.NoError(t, err)
	assert.Equal(t, domain.PathStructured, ans.Path)
	assert.Equal(t, "2", ans.Text)
	assert.Empty(t, seen())

	ans, err = svc.Answer(ctx, "What did Beta sell?")
	require.NoError(t, err)
	assert.Equal(t, domain.PathGenerated, ans.Path)
	assert.Equal(t, "Beta sold 40 shares.", ans.Text)
	require.Len(t, seen(), 1)
	assert.Contains(t, seen()[0], "What did Beta sell?")

	mc, ok := a.cache.(*cache.MemoryClient)
	require.True(t, ok)
	assert.Positive(t, mc.Len())
}

func TestApp_PersistedIndexRoundTrip(t *testing.T) {
	holdings, trades := writeFixtures(t)
	cfg := config.DefaultConfig()
	cfg.Data = config.DataConfig{HoldingsFile: holdings, TradesFile: trades}
	cfg.VectorStore.Path = filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	builder, err := newApp(ctx, cfg, zerolog.Nop(), false)
	require.NoError(t, err)
	built, err := builder.buildJob().Run(ctx, nil, nil)
	require.NoError(t, err)
	builder.close()

	reader, err := newApp(ctx, cfg, zerolog.Nop(), false)
	require.NoError(t, err)
	defer reader.close()
	loaded, err := reader.loadIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, built.Manifest.BuildID, loaded.BuildID)
	assert.Equal(t, built.Manifest.Count, loaded.Count)
}

func TestWiring_UnknownBackends(t *testing.T) {
	cfg := config.DefaultConfig()

	cfg.Embedder.Type = "word2vec"
	_, err := newEmbedder(cfg)
	assert.Error(t, err)

	_, err = newStorage("faiss", cfg, zerolog.Nop())
	assert.Error(t, err)

	cfg.LLM.Type = "llamacpp"
	_, err = newGenerator(cfg)
	assert.Error(t, err)

	cfg.Cache.Type = "memcached"
	_, err = newCache(context.Background(), cfg)
	assert.Error(t, err)

	cfg.Cache.Type = "redis"
	_, err = newCache(context.Background(), cfg)
	assert.Error(t, err)
}
