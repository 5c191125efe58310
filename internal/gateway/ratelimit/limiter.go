// Package ratelimit implements a process-local sliding-window log limiter.
//
// Every key keeps the timestamps of its admitted events inside a trailing
// window. A check prunes expired events, sums the rest and either records a
// new event (admit) or reports how long until the oldest event leaves the
// window (deny). Keys are spread over fixed shards, each guarded by its own
// mutex, so a prune+sum+decide+append sequence for one key is atomic.
//
// The limiter does not coordinate across processes. A replacement backed by a
// shared store must keep the Check contract.
package ratelimit

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"
)

const (
	DefaultWindow  = 60 * time.Second
	DefaultIdleTTL = 5 * time.Minute

	shardCount = 32
)

// Decision is the outcome of a single check.
type Decision struct {
	Allowed bool
	// RetryAfter is the suggested wait in whole seconds when denied.
	RetryAfter int
}

type event struct {
	at     time.Time
	weight int
}

type window struct {
	events   []event
	lastSeen time.Time
	// span is the widest window this key has been checked against.
	span time.Duration
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Limiter is safe for concurrent use.
type Limiter struct {
	shards  [shardCount]shard
	window  time.Duration
	idleTTL time.Duration
	now     func() time.Time
}

type Option func(*Limiter)

func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

func WithIdleTTL(d time.Duration) Option {
	return func(l *Limiter) { l.idleTTL = d }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		window:  DefaultWindow,
		idleTTL: DefaultIdleTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	for i := range l.shards {
		l.shards[i].windows = make(map[string]*window)
	}
	return l
}

// Check decides admit/deny for key against limit using the default window.
func (l *Limiter) Check(key string, limit int) Decision {
	return l.CheckWindow(key, limit, l.window)
}

// CheckWindow decides admit/deny for key against limit within w.
// A limit below 1 is treated as 1.
func (l *Limiter) CheckWindow(key string, limit int, w time.Duration) Decision {
	if limit < 1 {
		limit = 1
	}
	if w <= 0 {
		w = l.window
	}

	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	win, ok := s.windows[key]
	if !ok {
		win = &window{}
		s.windows[key] = win
	}
	win.lastSeen = now
	if w > win.span {
		win.span = w
	}
	win.prune(now.Add(-w))

	if win.sum() >= limit {
		return Decision{Allowed: false, RetryAfter: retryAfter(win, now, w)}
	}

	win.events = append(win.events, event{at: now, weight: 1})
	return Decision{Allowed: true}
}

// Sweep prunes every key against the widest window it was checked with and
// drops keys that have no events and have not been checked for longer than
// the idle TTL. It returns the number of evicted keys.
func (l *Limiter) Sweep() int {
	now := l.now()
	evicted := 0

	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, win := range s.windows {
			win.prune(now.Add(-win.span))
			if len(win.events) == 0 && now.Sub(win.lastSeen) > l.idleTTL {
				delete(s.windows, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}

	return evicted
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// StartJanitor sweeps idle keys once per idle TTL until ctx is done.
func (l *Limiter) StartJanitor(ctx context.Context) {
	if l.idleTTL <= 0 {
		return
	}

	t := time.NewTicker(l.idleTTL)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Sweep()
			}
		}
	}()
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%shardCount]
}

// prune drops events at or before cutoff. Events are appended in time order,
// so the retained ones form a suffix.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.events) && !w.events[i].at.After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	if i == len(w.events) {
		w.events = w.events[:0]
		return
	}
	w.events = append(w.events[:0], w.events[i:]...)
}

func (w *window) sum() int {
	total := 0
	for _, ev := range w.events {
		total += ev.weight
	}
	return total
}

func retryAfter(win *window, now time.Time, w time.Duration) int {
	windowSecs := int(math.Ceil(w.Seconds()))
	if len(win.events) == 0 {
		return windowSecs
	}

	wait := win.events[0].at.Add(w).Sub(now)
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	if secs > windowSecs {
		secs = windowSecs
	}
	return secs
}
