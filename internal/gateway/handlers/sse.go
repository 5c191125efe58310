package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/mrmushfiq/llm0-chat-gateway/internal/gateway/relay"
)

// sseWriter is the caller side of the relay. Headers are sent with the first
// frame so a caller-tier rejection can still go out as 429.
type sseWriter struct {
	w         http.ResponseWriter
	rc        *http.ResponseController
	committed bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *sseWriter) commit(status int) {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(status)
	s.committed = true
}

func (s *sseWriter) WriteLine(line string) error {
	if !s.committed {
		s.commit(http.StatusOK)
	}
	if _, err := fmt.Fprintf(s.w, "%s\n\n", line); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) WriteError(e *relay.Error) error {
	if !s.committed {
		status := http.StatusOK
		if e.Kind == relay.CallerRateLimited {
			status = http.StatusTooManyRequests
			s.w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
		}
		s.commit(status)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", e.Frame()); err != nil {
		return err
	}
	return s.rc.Flush()
}
