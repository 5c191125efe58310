// Package relay runs one chat completion through admission, routing, the
// upstream stream and usage accounting.
//
// Frames are forwarded to the caller as soon as they are read. A separate
// accountant goroutine parses the same payloads to build the completion text,
// so a payload that does not parse never holds up or breaks the stream.
package relay

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/channels"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/tokens"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
	// DoneLine terminates every successful stream
	DoneLine = dataPrefix + " " + doneSentinel

	usageWriteTimeout = 5 * time.Second
)

// Limiter admits or denies one request for a key
type Limiter interface {
	Check(key string, limit int) ratelimit.Decision
}

// Router picks the channel serving a model
type Router interface {
	Route(ctx context.Context, modelID string) (*models.Channel, error)
}

// UsageRecorder persists a usage record
type UsageRecorder interface {
	Record(ctx context.Context, rec *models.UsageRecord) error
}

// SettingsProvider returns the current live settings snapshot
type SettingsProvider interface {
	Current() *config.Settings
}

// Sink receives the frames sent to the caller. A write error means the caller
// is gone.
type Sink interface {
	WriteLine(line string) error
	WriteError(e *Error) error
}

// Observer receives pipeline measurements
type Observer interface {
	RateLimitDecision(tier string, allowed bool)
	UpstreamError(reason string)
	Tokens(prompt, completion int)
	RequestFinished(outcome string, elapsed time.Duration)
}

// State is the terminal state of one pipeline run
type State int

const (
	Completed State = iota + 1
	RejectedBeforeRouting
	RejectedAfterRouting
	FailedDuringRelay
)

func (s State) String() string {
	switch s {
	case Completed:
		return "completed"
	case RejectedBeforeRouting:
		return "rejected_before_routing"
	case RejectedAfterRouting:
		return "rejected_after_routing"
	case FailedDuringRelay:
		return "failed_during_relay"
	default:
		return "unknown"
	}
}

// Outcome describes how a run ended
type Outcome struct {
	State     State
	RequestID string
	// Err is the caller-visible failure, or a PersistenceFailure on an
	// otherwise completed run. Nil when the caller disconnected.
	Err              *Error
	ChannelID        int64
	PromptTokens     int
	CompletionTokens int
	Cancelled        bool
}

// Pipeline is safe for concurrent use; each Handle call is independent.
type Pipeline struct {
	limiter  Limiter
	router   Router
	upstream providers.Upstream
	usage    UsageRecorder
	settings SettingsProvider
	observer Observer
	now      func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithObserver attaches a metrics observer
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithClock overrides the clock used for usage timestamps
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline wires the pipeline collaborators
func NewPipeline(limiter Limiter, router Router, upstream providers.Upstream, usage UsageRecorder, settings SettingsProvider, opts ...Option) *Pipeline {
	p := &Pipeline{
		limiter:  limiter,
		router:   router,
		upstream: upstream,
		usage:    usage,
		settings: settings,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle runs one request. Everything the caller sees goes through sink;
// the returned Outcome is for the boundary layer and tests.
func (p *Pipeline) Handle(ctx context.Context, req providers.ChatRequest, caller models.Caller, sink Sink) Outcome {
	start := time.Now()
	out := p.handle(ctx, req, caller, sink)
	p.observer.RequestFinished(out.State.String(), time.Since(start))
	return out
}

func (p *Pipeline) handle(ctx context.Context, req providers.ChatRequest, caller models.Caller, sink Sink) Outcome {
	out := Outcome{RequestID: uuid.NewString()}

	// Caller tier
	settings := p.settings.Current()
	tier, limit := "user", settings.UserRPM
	if caller.IsGuest() {
		tier, limit = "guest", settings.GuestRPM
	}
	dec := p.limiter.Check(caller.LimitKey(), limit)
	p.observer.RateLimitDecision(tier, dec.Allowed)
	if !dec.Allowed {
		return p.reject(sink, out, RejectedBeforeRouting, callerLimited(caller.IsGuest(), dec.RetryAfter))
	}

	// Route
	ch, err := p.router.Route(ctx, req.Model)
	if err != nil {
		if errors.Is(err, channels.ErrNotFound) {
			return p.reject(sink, out, RejectedBeforeRouting, modelUnavailable(req.Model))
		}
		return p.reject(sink, out, RejectedBeforeRouting, directoryFailure(err))
	}
	out.ChannelID = ch.ID

	// Channel tier
	dec = p.limiter.Check(ch.LimitKey(), ch.RPMLimit)
	p.observer.RateLimitDecision("channel", dec.Allowed)
	if !dec.Allowed {
		return p.reject(sink, out, RejectedAfterRouting, channelLimited(ch.ID))
	}

	out.PromptTokens = tokens.EstimateMessages(req.Messages)

	stream, err := p.upstream.OpenStream(ctx, ch, req)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancelled(out)
		}
		return p.fail(sink, out, upstreamFailure(err))
	}
	defer stream.Close()

	acct := startAccountant()
	defer acct.Finish()

	sawDone := false
	for !sawDone {
		line, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return p.cancelled(out)
			}
			return p.fail(sink, out, upstreamFailure(err))
		}

		payload, ok := strings.CutPrefix(line, dataPrefix)
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == doneSentinel {
			sawDone = true
			continue
		}

		if err := sink.WriteLine(line); err != nil {
			return p.cancelled(out)
		}
		acct.Feed(payload)
	}

	if err := sink.WriteLine(DoneLine); err != nil {
		return p.cancelled(out)
	}
	if !sawDone {
		log.Printf("[%s] upstream channel %d closed without %s", out.RequestID, ch.ID, doneSentinel)
	}

	completion := acct.Finish()
	if n := acct.Malformed(); n > 0 {
		log.Printf("[%s] skipped %d unparseable chunks from channel %d", out.RequestID, n, ch.ID)
	}
	out.CompletionTokens = tokens.Estimate(completion)
	out.State = Completed
	p.observer.Tokens(out.PromptTokens, out.CompletionTokens)

	rec := &models.UsageRecord{
		RequestID:        out.RequestID,
		UserID:           caller.UserID,
		Username:         caller.Username,
		IPAddress:        caller.IP,
		ChannelID:        ch.ID,
		ModelID:          req.Model,
		PromptTokens:     out.PromptTokens,
		CompletionTokens: out.CompletionTokens,
		CreatedAt:        p.now(),
	}

	// The caller may already be gone; the record is still owed.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageWriteTimeout)
	defer cancel()
	if err := p.usage.Record(writeCtx, rec); err != nil {
		out.Err = persistenceFailure(err)
		log.Printf("[%s] %v", out.RequestID, out.Err)
	}

	return out
}

// reject ends a run before any upstream call with exactly one error frame
func (p *Pipeline) reject(sink Sink, out Outcome, state State, e *Error) Outcome {
	out.State = state
	out.Err = e
	if e.Reason != "" {
		p.observer.UpstreamError(e.Reason)
	}
	if e.Err != nil {
		log.Printf("[%s] rejected: %v", out.RequestID, e)
	}
	if err := sink.WriteError(e); err != nil {
		out.Cancelled = true
	}
	return out
}

// fail appends an error frame after whatever has been streamed
func (p *Pipeline) fail(sink Sink, out Outcome, e *Error) Outcome {
	out.State = FailedDuringRelay
	out.Err = e
	p.observer.UpstreamError(e.Reason)
	log.Printf("[%s] upstream failure on channel %d: %v", out.RequestID, out.ChannelID, e)
	if err := sink.WriteError(e); err != nil {
		out.Cancelled = true
	}
	return out
}

// cancelled ends a run whose caller went away; nothing more is written
func (p *Pipeline) cancelled(out Outcome) Outcome {
	out.State = FailedDuringRelay
	out.Cancelled = true
	out.Err = nil
	return out
}

type nopObserver struct{}

func (nopObserver) RateLimitDecision(string, bool) {}
func (nopObserver) UpstreamError(string) {}
func (nopObserver) Tokens(int, int) {}
func (nopObserver) RequestFinished(string, time.Duration) {}
