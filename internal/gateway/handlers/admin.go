package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
)

// ChannelStore loads a single channel, enabled or not
type ChannelStore interface {
	GetChannel(ctx context.Context, id int64) (*models.Channel, error)
}

// Prober runs a connectivity test against a channel
type Prober interface {
	Probe(ctx context.Context, ch *models.Channel) providers.ProbeResult
}

// Invalidator drops cached channel data
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type AdminHandler struct {
	channels ChannelStore
	prober   Prober
	cache    Invalidator
}

func NewAdminHandler(channels ChannelStore, prober Prober, cache Invalidator) *AdminHandler {
	return &AdminHandler{
		channels: channels,
		prober:   prober,
		cache:    cache,
	}
}

// TestChannel handles POST /api/admin/channels/{id}/test
func (h *AdminHandler) TestChannel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel ID")
		return
	}

	ch, err := h.channels.GetChannel(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	if err != nil {
		log.Printf("failed to load channel %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load channel")
		return
	}

	writeJSON(w, http.StatusOK, h.prober.Probe(r.Context(), ch))
}

type draftChannel struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	ModelID string `json:"model_id"`
}

// TestDraftChannel handles POST /api/admin/channels/test for a channel that
// has not been saved yet
func (h *AdminHandler) TestDraftChannel(w http.ResponseWriter, r *http.Request) {
	var req draftChannel
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BaseURL == "" || req.ModelID == "" {
		writeError(w, http.StatusBadRequest, "base_url and model_id are required")
		return
	}

	ch := &models.Channel{BaseURL: req.BaseURL, APIKey: req.APIKey, ModelID: req.ModelID}
	writeJSON(w, http.StatusOK, h.prober.Probe(r.Context(), ch))
}

// InvalidateChannelCache handles POST /api/admin/channels/cache/invalidate
func (h *AdminHandler) InvalidateChannelCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.Invalidate(r.Context()); err != nil {
		log.Printf("channel cache invalidation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to invalidate cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}
