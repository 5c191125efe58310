package relay

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// accountant accumulates completion text on its own goroutine. Feed never
// waits on parsing, and a payload that fails to parse is only counted.
type accountant struct {
	mu      sync.Mutex
	pending []string
	closed  bool

	wake chan struct{}
	done chan struct{}
	once sync.Once

	// owned by run until done is closed
	text      strings.Builder
	malformed int
}

func startAccountant() *accountant {
	a := &accountant{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

// Feed queues one data payload for parsing
func (a *accountant) Feed(payload string) {
	a.mu.Lock()
	a.pending = append(a.pending, payload)
	a.mu.Unlock()
	a.signal()
}

// Finish drains the queue, stops the goroutine and returns the accumulated
// text. Safe to call more than once.
func (a *accountant) Finish() string {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		a.signal()
	})
	<-a.done
	return a.text.String()
}

// Malformed reports how many payloads failed to parse. Valid after Finish.
func (a *accountant) Malformed() int {
	<-a.done
	return a.malformed
}

func (a *accountant) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *accountant) run() {
	defer close(a.done)
	for range a.wake {
		a.mu.Lock()
		batch := a.pending
		a.pending = nil
		closed := a.closed
		a.mu.Unlock()

		for _, payload := range batch {
			a.consume(payload)
		}
		if closed {
			return
		}
	}
}

func (a *accountant) consume(payload string) {
	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		a.malformed++
		return
	}
	if len(chunk.Choices) > 0 {
		a.text.WriteString(chunk.Choices[0].Delta.Content)
	}
}
