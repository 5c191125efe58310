package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatgw"

const (
	statsTimeout   = time.Second
	statsQueueSize = 1024
)

type decision struct {
	tier    string
	allowed bool
	at      time.Time
}

// DecisionStore keeps long-lived rate limit counters outside the process
type DecisionStore interface {
	RecordDecision(ctx context.Context, tier string, allowed bool, at time.Time) error
}

// Recorder collects gateway metrics on its own registry. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry
	stats    DecisionStore
	queue    chan decision

	requestsTotal     *prometheus.CounterVec
	decisionsTotal    *prometheus.CounterVec
	upstreamErrors    *prometheus.CounterVec
	tokensTotal       *prometheus.CounterVec
	relayDurationSecs prometheus.Histogram
	statsDropped      prometheus.Counter
}

// New registers the gateway collectors. stats may be nil; otherwise decisions
// are queued for it and Start must run to drain the queue.
func New(stats DecisionStore) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stats:    stats,
		queue:    make(chan decision, statsQueueSize),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Chat completion requests by terminal outcome.",
			},
			[]string{"outcome"},
		),
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_decisions_total",
				Help:      "Rate limiter decisions by tier and result.",
			},
			[]string{"tier", "result"},
		),
		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Upstream failures by reason.",
			},
			[]string{"reason"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Estimated tokens of completed relays.",
			},
			[]string{"kind"},
		),
		relayDurationSecs: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "relay_duration_seconds",
				Help:      "Wall time of chat completion requests in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		statsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_stats_dropped_total",
				Help:      "Rate limit decisions not forwarded to the stats store because the queue was full.",
			},
		),
	}

	r.registry.MustRegister(
		r.requestsTotal,
		r.decisionsTotal,
		r.upstreamErrors,
		r.tokensTotal,
		r.relayDurationSecs,
		r.statsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RateLimitDecision(tier string, allowed bool) {
	if r == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	r.decisionsTotal.WithLabelValues(tier, result).Inc()

	if r.stats == nil {
		return
	}
	select {
	case r.queue <- decision{tier: tier, allowed: allowed, at: time.Now()}:
	default:
		// Queue full, drop
		r.statsDropped.Inc()
	}
}

// Start forwards queued decisions to the stats store until ctx is done.
func (r *Recorder) Start(ctx context.Context) {
	if r == nil || r.stats == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-r.queue:
			r.forward(ctx, d)
		}
	}
}

func (r *Recorder) forward(ctx context.Context, d decision) {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()
	if err := r.stats.RecordDecision(ctx, d.tier, d.allowed, d.at); err != nil {
		log.Printf("rate stats write error: %v", err)
	}
}

func (r *Recorder) UpstreamError(reason string) {
	if r == nil {
		return
	}
	r.upstreamErrors.WithLabelValues(reason).Inc()
}

func (r *Recorder) Tokens(prompt, completion int) {
	if r == nil {
		return
	}
	r.tokensTotal.WithLabelValues("prompt").Add(float64(prompt))
	r.tokensTotal.WithLabelValues("completion").Add(float64(completion))
}

func (r *Recorder) RequestFinished(outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requestsTotal.WithLabelValues(outcome).Inc()
	r.relayDurationSecs.Observe(elapsed.Seconds())
}
