package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/providers"
)

// Kind classifies every failure the pipeline can report
type Kind int

const (
	CallerRateLimited Kind = iota + 1
	ModelUnavailable
	ChannelRateLimited
	UpstreamError
	PersistenceFailure
)

func (k Kind) String() string {
	switch k {
	case CallerRateLimited:
		return "caller_rate_limited"
	case ModelUnavailable:
		return "model_unavailable"
	case ChannelRateLimited:
		return "channel_rate_limited"
	case UpstreamError:
		return "upstream_error"
	case PersistenceFailure:
		return "persistence_failure"
	default:
		return "unknown"
	}
}

// Wire error types sent to callers
const (
	TypeRateLimitExceeded = "rate_limit_exceeded"
	TypeUserRateLimit     = "user_rate_limit"
	TypeModelNotFound     = "model_not_found"
	TypeUpstreamError     = "upstream_error"
)

// Error is a classified pipeline failure. Type, Message and RetryAfter are
// what the caller sees; Err is the internal cause and is only logged.
type Error struct {
	Kind       Kind
	Type       string
	Message    string
	RetryAfter int
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type errorBody struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Frame renders the error as the JSON payload of an SSE data line
func (e *Error) Frame() []byte {
	data, _ := json.Marshal(struct {
		Error errorBody `json:"error"`
	}{errorBody{Type: e.Type, Message: e.Message, RetryAfter: e.RetryAfter}})
	return data
}

func callerLimited(guest bool, retryAfter int) *Error {
	wireType := TypeUserRateLimit
	if guest {
		wireType = TypeRateLimitExceeded
	}
	return &Error{
		Kind:       CallerRateLimited,
		Type:       wireType,
		Message:    "You have exceeded the current usage limit, please try again later",
		RetryAfter: retryAfter,
	}
}

func modelUnavailable(model string) *Error {
	return &Error{
		Kind:    ModelUnavailable,
		Type:    TypeModelNotFound,
		Message: "Model unavailable",
		Err:     fmt.Errorf("no enabled channel serves %q", model),
	}
}

func channelLimited(channelID int64) *Error {
	return &Error{
		Kind:    ChannelRateLimited,
		Type:    TypeUpstreamError,
		Message: "Upstream channel is temporarily unavailable, please try again later",
		Err:     fmt.Errorf("channel %d over its rpm limit", channelID),
	}
}

func directoryFailure(err error) *Error {
	return &Error{
		Kind:    UpstreamError,
		Type:    TypeUpstreamError,
		Message: "Service temporarily unavailable, please try again later",
		Reason:  "directory",
		Err:     err,
	}
}

// upstreamFailure maps an upstream open or read error onto the taxonomy
func upstreamFailure(err error) *Error {
	e := &Error{Kind: UpstreamError, Type: TypeUpstreamError, Err: err}

	var statusErr *providers.StatusError
	var netErr net.Error
	switch {
	case errors.As(err, &statusErr):
		e.Reason = "status"
		e.Message = "Upstream channel returned an error"
	case errors.Is(err, providers.ErrIdleTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		e.Reason = "timeout"
		e.Message = "Upstream request timed out"
	default:
		e.Reason = "transport"
		e.Message = "Upstream request failed"
	}
	return e
}

func persistenceFailure(err error) *Error {
	return &Error{
		Kind:    PersistenceFailure,
		Message: "failed to write usage record",
		Err:     err,
	}
}
