// Package sse writes server-sent event streams.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultHeartbeat is how often Run sends a keepalive comment.
const DefaultHeartbeat = 25 * time.Second

// ErrUnsupported is returned when the ResponseWriter cannot flush.
var ErrUnsupported = errors.New("streaming not supported")

// Stream is an open event stream.
type Stream struct {
	w http.ResponseWriter
	f http.Flusher
}

// Open sends the stream headers. Nothing may be written to w afterwards
// except through the Stream.
func Open(w http.ResponseWriter) (*Stream, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &Stream{w: w, f: f}, nil
}

// Event writes one named event with data encoded as JSON.
func (s *Stream) Event(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// Comment writes a comment line, used as a keepalive.
func (s *Stream) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// Signal coalesces change notifications: any number of Notify calls
// between two receives on C wake the reader once.
type Signal struct {
	c chan struct{}
}

// NewSignal returns a Signal with nothing pending.
func NewSignal() *Signal {
	return &Signal{c: make(chan struct{}, 1)}
}

// Notify marks a change. It never blocks.
func (s *Signal) Notify() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

// C is readable while a change is pending.
func (s *Signal) C() <-chan struct{} { return s.c }
