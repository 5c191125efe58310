package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
	"github.com/sashabaranov/go-openai"
)

// ProbeResult is the outcome of a channel connectivity test
type ProbeResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// Prober sends a tiny non-streaming completion to check a channel end to end
type Prober struct {
	timeout    time.Duration
	httpClient *http.Client
}

// NewProber creates a prober bounded by timeout
func NewProber(timeout time.Duration) *Prober {
	return &Prober{
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Probe calls the channel's model with a one-word prompt
func (p *Prober) Probe(ctx context.Context, ch *models.Channel) ProbeResult {
	config := openai.DefaultConfig(ch.APIKey)
	config.BaseURL = strings.TrimRight(ch.BaseURL, "/")
	config.HTTPClient = p.httpClient
	client := openai.NewClientWithConfig(config)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: ch.ModelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
		MaxTokens: 5,
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return ProbeResult{Success: false, Message: fmt.Sprintf("connection failed: %v", err), LatencyMs: latency}
	}
	if len(resp.Choices) == 0 {
		return ProbeResult{Success: false, Message: "upstream returned no choices", LatencyMs: latency}
	}

	return ProbeResult{
		Success:   true,
		Message:   fmt.Sprintf("connected to %s", resp.Model),
		LatencyMs: latency,
	}
}
