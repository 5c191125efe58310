package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
	"github.com/sashabaranov/go-openai"
)

// upstreamRequest is the body sent to an OpenAI-compatible channel
type upstreamRequest struct {
	Model       string                         `json:"model"`
	Messages    []openai.ChatCompletionMessage `json:"messages"`
	Stream      bool                           `json:"stream"`
	Temperature float32                        `json:"temperature"`
	MaxTokens   int                            `json:"max_tokens,omitempty"`
}

// OpenAICompatible streams chat completions from any channel that speaks the
// OpenAI /chat/completions protocol
type OpenAICompatible struct {
	httpClient  *http.Client
	idleTimeout time.Duration
}

// NewOpenAICompatible creates a client. timeout bounds both the wait for
// response headers and the gap between two upstream lines.
func NewOpenAICompatible(timeout time.Duration) *OpenAICompatible {
	return &OpenAICompatible{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
		idleTimeout: timeout,
	}
}

// ChatCompletionsURL joins a channel base URL with the completions path
func ChatCompletionsURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/chat/completions"
}

// OpenStream starts a streaming completion. The returned stream must be closed.
func (p *OpenAICompatible) OpenStream(ctx context.Context, ch *models.Channel, req ChatRequest) (LineStream, error) {
	body := upstreamRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Stream:      true,
		Temperature: req.EffectiveTemperature(),
	}
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, ChatCompletionsURL(ch.BaseURL), bytes.NewReader(reqBody))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+ch.APIKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer cancel()
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	s := &sseStream{
		reader: bufio.NewReader(httpResp.Body),
		body:   httpResp.Body,
		cancel: cancel,
		idle:   p.idleTimeout,
	}
	if s.idle > 0 {
		s.timer = time.AfterFunc(s.idle, func() {
			s.timedOut.Store(true)
			cancel()
		})
	}

	return s, nil
}

// sseStream reads lines from an upstream body, cancelling the request when no
// line arrives within idle
type sseStream struct {
	reader   *bufio.Reader
	body     io.ReadCloser
	cancel   context.CancelFunc
	idle     time.Duration
	timer    *time.Timer
	timedOut atomic.Bool
	once     sync.Once
}

// Next reads the next line
func (s *sseStream) Next() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		if s.timedOut.Load() {
			return "", ErrIdleTimeout
		}
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}

	if s.timer != nil {
		s.timer.Reset(s.idle)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close releases the upstream connection
func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.cancel()
		err = s.body.Close()
	})
	return err
}
