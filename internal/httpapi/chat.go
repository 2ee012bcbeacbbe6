package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"fundrag/internal/domain"
)

const maxRequestBody = 64 << 10

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Question string `json:"question"`
}

// ChatResponse is the POST /chat reply.
type ChatResponse struct {
	Answer string `json:"answer"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ChatHandler answers single questions.
type ChatHandler struct {
	svc    domain.QuestionAnswerer
	logger zerolog.Logger
}

func NewChatHandler(svc domain.QuestionAnswerer, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

// Chat handles POST /chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON with a question field")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "question must not be empty")
		return
	}
	h.logger.Info().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("question", question).
		Msg("question received")

	ans, err := h.svc.Answer(r.Context(), question)
	if err != nil {
		// Answer contains pipeline failures; anything left is a rejected question.
		h.logger.Warn().Err(err).Msg("question rejected")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info().
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("path", string(ans.Path)).
		Int("context_docs", len(ans.Context)).
		Msg("question answered")
	writeJSON(w, http.StatusOK, ChatResponse{Answer: ans.Text})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
