package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned by SSE.Send after Close.
var ErrStreamClosed = errors.New("event stream closed")

// SSE writes server-sent events. Send is safe for concurrent use; once the
// stream is closed further events are dropped.
type SSE struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewSSE sets the event-stream headers and returns a writer. It reports
// false if w cannot stream.
func NewSSE(w http.ResponseWriter) (*SSE, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSE{w: w, flusher: flusher}, true
}

// Send writes one named event with a JSON payload and flushes it.
func (s *SSE) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		s.closed = true
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close stops further writes. The handler must call it before returning.
func (s *SSE) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
