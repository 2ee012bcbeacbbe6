package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrag/internal/domain"
)

type stubService struct {
	got   string
	panic bool
}

func (s *stubService) Answer(_ context.Context, q string) (domain.Answer, error) {
	if s.panic {
		panic("boom")
	}
	s.got = q
	if q == "count holdings for Alpha" {
		return domain.Answer{Text: "3", Path: domain.PathStructured}, nil
	}
	return domain.Answer{Text: domain.FallbackAnswer, Path: domain.PathFallback}, nil
}

func newTestRouter(svc domain.QuestionAnswerer) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "fundrag_test_total", Help: "test"}))
	return NewRouter(svc, zerolog.Nop(), Options{Gatherer: reg})
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChat(t *testing.T) {
	svc := &stubService{}
	h := newTestRouter(svc)

	tests := []struct {
		name   string
		body   string
		status int
		answer string
	}{
		{"structured answer", `{"question":"  count holdings for Alpha "}`, http.StatusOK, "3"},
		{"fallback is still 200", `{"question":"unknown"}`, http.StatusOK, domain.FallbackAnswer},
		{"blank question", `{"question":"   "}`, http.StatusBadRequest, ""},
		{"missing question", `{}`, http.StatusBadRequest, ""},
		{"malformed json", `{"question":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.status == http.StatusOK {
				var resp ChatResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.answer, resp.Answer)
			} else {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
	assert.Equal(t, "unknown", svc.got)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestRouter(&stubService{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fundrag_test_total")
}

func TestRecoverer(t *testing.T) {
	h := newTestRouter(&stubService{panic: true})
	rec := post(t, h, `{"question":"anything"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
