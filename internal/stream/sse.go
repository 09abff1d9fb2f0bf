package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

const (
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

type tokenEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type doneEvent struct {
	Type string `json:"type"`
	Summary
}

type errorEvent struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// SSEEmitter writes server-sent events to w, flushing after each frame when
// w supports it.
type SSEEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSSEEmitter(w io.Writer) *SSEEmitter {
	return &SSEEmitter{w: w}
}

func (e *SSEEmitter) Delta(text string) error {
	return e.write(EventToken, tokenEvent{Type: EventToken, Content: text})
}

func (e *SSEEmitter) Done(s Summary) error {
	if s.QuickReplies == nil {
		s.QuickReplies = []string{}
	}
	return e.write(EventDone, doneEvent{Type: EventDone, Summary: s})
}

func (e *SSEEmitter) Error(code, message string) error {
	return e.write(EventError, errorEvent{Type: EventError, Code: code, Error: message})
}

func (e *SSEEmitter) write(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("stream: marshal %s event: %w", event, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("stream: write %s event: %w", event, err)
	}
	if f, ok := e.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
