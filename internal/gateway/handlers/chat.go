package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/relay"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
)

const maxBodyBytes = 1 << 20

// Pipeline runs one chat completion
type Pipeline interface {
	Handle(ctx context.Context, req providers.ChatRequest, caller models.Caller, sink relay.Sink) relay.Outcome
}

// ModelLister lists the models that can currently be served
type ModelLister interface {
	ListServableModels(ctx context.Context) ([]string, error)
}

// ModelInfo is one entry of the models listing
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ChatHandler struct {
	pipeline Pipeline
	models   ModelLister
}

func NewChatHandler(pipeline Pipeline, lister ModelLister) *ChatHandler {
	return &ChatHandler{
		pipeline: pipeline,
		models:   lister,
	}
}

// HandleChatCompletion handles POST /api/chat/completions and
// POST /v1/chat/completions. The response is always an event stream.
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req providers.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Stream = true

	caller := CallerFromContext(r.Context())
	out := h.pipeline.Handle(r.Context(), req, caller, newSSEWriter(w))

	if out.State != relay.Completed && out.Err != nil {
		log.Printf("[%s] chat %s for %s: %s", out.RequestID, out.State, caller.LimitKey(), out.Err.Kind)
	}
}

// HandleModels handles GET /api/chat/models
func (h *ChatHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	ids, err := h.models.ListServableModels(r.Context())
	if err != nil {
		log.Printf("failed to list models: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}

	out := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, ModelInfo{ID: id, Name: id})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
