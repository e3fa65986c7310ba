package testutil

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// StreamRecorder is a flushable ResponseWriter that can be read while a
// streaming handler is still writing to it.
type StreamRecorder struct {
	mu     sync.Mutex
	header http.Header
	code   int
	buf    bytes.Buffer
}

// NewStreamRecorder returns an empty recorder.
func NewStreamRecorder() *StreamRecorder {
	return &StreamRecorder{header: make(http.Header)}
}

func (s *StreamRecorder) Header() http.Header { return s.header }

func (s *StreamRecorder) WriteHeader(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code == 0 {
		s.code = code
	}
}

func (s *StreamRecorder) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.buf.Write(p)
}

func (s *StreamRecorder) Flush() {}

// Code returns the status written so far.
func (s *StreamRecorder) Code() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Body returns a copy of everything written so far.
func (s *StreamRecorder) Body() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// WaitFor polls until the body contains want.
func (s *StreamRecorder) WaitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(s.Body(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stream never contained %q; got %q", want, s.Body())
}

// Serve runs h in the background with a cancellable request context. The
// returned stop cancels the request and waits for h to return.
func Serve(h http.HandlerFunc, w http.ResponseWriter, r *http.Request) (done <-chan struct{}, stop func()) {
	ctx, cancel := context.WithCancel(r.Context())
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		h(w, r.WithContext(ctx))
	}()
	return ch, func() {
		cancel()
		<-ch
	}
}
