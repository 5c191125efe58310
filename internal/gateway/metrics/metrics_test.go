package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type chanStore struct {
	mu   sync.Mutex
	got  []string
	done chan struct{}
}

func (s *chanStore) RecordDecision(_ context.Context, tier string, allowed bool, _ time.Time) error {
	s.mu.Lock()
	if allowed {
		s.got = append(s.got, tier+":allowed")
	} else {
		s.got = append(s.got, tier+":denied")
	}
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func TestRecorder_Counters(t *testing.T) {
	r := New(nil)

	r.RateLimitDecision("guest", true)
	r.RateLimitDecision("guest", false)
	r.RateLimitDecision("channel", false)
	r.UpstreamError("timeout")
	r.Tokens(3, 5)
	r.RequestFinished("completed", 150*time.Millisecond)

	if got := testutil.ToFloat64(r.decisionsTotal.WithLabelValues("guest", "denied")); got != 1 {
		t.Fatalf("expected 1 guest deny, got %v", got)
	}
	if got := testutil.ToFloat64(r.upstreamErrors.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("expected 1 timeout, got %v", got)
	}
	if got := testutil.ToFloat64(r.tokensTotal.WithLabelValues("completion")); got != 5 {
		t.Fatalf("expected 5 completion tokens, got %v", got)
	}
	if got := testutil.ToFloat64(r.requestsTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("expected 1 completed request, got %v", got)
	}
}

func TestRecorder_HandlerExposesMetrics(t *testing.T) {
	r := New(nil)
	r.RequestFinished("rejected_before_routing", time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `chatgw_requests_total{outcome="rejected_before_routing"} 1`) {
		t.Fatalf("expected requests_total in output, got:\n%s", body)
	}
}

func TestRecorder_ForwardsDecisionsToStore(t *testing.T) {
	store := &chanStore{done: make(chan struct{}, 1)}
	r := New(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx)

	r.RateLimitDecision("user", false)

	select {
	case <-store.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected decision to reach the store")
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.got) != 1 || store.got[0] != "user:denied" {
		t.Fatalf("unexpected store contents: %v", store.got)
	}
}

func TestRecorder_DropsDecisionsWhenQueueIsFull(t *testing.T) {
	store := &chanStore{done: make(chan struct{}, statsQueueSize+10)}
	r := New(store)

	// no worker running, so nothing drains the queue
	for i := 0; i < statsQueueSize+10; i++ {
		r.RateLimitDecision("guest", true)
	}

	if got := len(r.queue); got != statsQueueSize {
		t.Fatalf("expected a full queue of %d, got %d", statsQueueSize, got)
	}
	if got := testutil.ToFloat64(r.statsDropped); got != 10 {
		t.Fatalf("expected 10 dropped decisions, got %v", got)
	}
	if got := testutil.ToFloat64(r.decisionsTotal.WithLabelValues("guest", "allowed")); got != statsQueueSize+10 {
		t.Fatalf("expected every decision counted, got %v", got)
	}
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder
	r.RateLimitDecision("guest", true)
	r.UpstreamError("status")
	r.Tokens(1, 1)
	r.RequestFinished("completed", time.Second)
}
