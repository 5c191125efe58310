package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
	"github.com/sashabaranov/go-openai"
)

// DefaultTemperature is sent upstream when the caller omits temperature
const DefaultTemperature float32 = 1.0

// ChatRequest represents an inbound chat completion request
type ChatRequest struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Temperature *float32                       `json:"temperature,omitempty"`
	MaxTokens   *int                           `json:"max_tokens,omitempty"`
	Stream      bool                           `json:"stream,omitempty"`
}

// Validate checks the request shape
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, msg := range r.Messages {
		switch msg.Role {
		case openai.ChatMessageRoleSystem, openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant:
		default:
			return fmt.Errorf("messages[%d]: unsupported role %q", i, msg.Role)
		}
	}
	if r.MaxTokens != nil && *r.MaxTokens < 0 {
		return errors.New("max_tokens must not be negative")
	}
	return nil
}

// EffectiveTemperature returns the caller's temperature or the default
func (r *ChatRequest) EffectiveTemperature() float32 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return DefaultTemperature
}

// LineStream yields raw upstream event-stream lines without the trailing
// newline. Next returns io.EOF once the upstream body ends.
type LineStream interface {
	Next() (string, error)
	Close() error
}

// Upstream opens a streaming completion against a channel
type Upstream interface {
	OpenStream(ctx context.Context, ch *models.Channel, req ChatRequest) (LineStream, error)
}

// StatusError is returned when the upstream answers with a non-200 status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// ErrIdleTimeout is returned by a stream that saw no data within the idle bound
var ErrIdleTimeout = errors.New("upstream stream idle timeout")
