package stream

import (
	"context"
	"fmt"
	"strings"
)

// TokenStream is the producer side: an iterator over text deltas.
type TokenStream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Summary is the terminal record sent once a turn has been decided.
type Summary struct {
	Metadata
	SessionID string `json:"sessionId,omitempty"`
	Step      int    `json:"step"`
	Completed bool   `json:"completed"`
}

// Emitter is the consumer side: the client connection.
type Emitter interface {
	Delta(text string) error
	Done(s Summary) error
	Error(code, message string) error
}

// Reply is the outcome of a fully relayed generation.
type Reply struct {
	// Text is the raw accumulated output, markers included.
	Text     string
	Visible  string
	Metadata Metadata
}

// Relay forwards every token from src to emit as soon as it arrives. Only a
// trailing fragment that could still become a marker is held back, and once a
// marker is seen nothing further is forwarded. Relay closes src.
//
// Relay does not emit the terminal or error events; the caller decides them.
func Relay(ctx context.Context, src TokenStream, emit Emitter) (Reply, error) {
	defer src.Close()

	var acc strings.Builder
	sent, hidden := 0, false
	for src.Next() {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		tok := src.Current()
		if tok == "" {
			continue
		}
		acc.WriteString(tok)
		if hidden {
			continue
		}

		pending := acc.String()[sent:]
		var chunk string
		if i, _ := nextMarker(pending); i >= 0 {
			chunk, hidden = pending[:i], true
		} else {
			chunk = pending[:len(pending)-pendingMarkerLen(pending)]
		}
		if chunk == "" {
			continue
		}
		if err := emit.Delta(chunk); err != nil {
			return Reply{}, fmt.Errorf("stream: write delta: %w", err)
		}
		sent += len(chunk)
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	if err := src.Err(); err != nil {
		return Reply{}, fmt.Errorf("stream: read tokens: %w", err)
	}

	text := acc.String()
	if rest := text[sent:]; !hidden && rest != "" {
		if err := emit.Delta(rest); err != nil {
			return Reply{}, fmt.Errorf("stream: write delta: %w", err)
		}
	}
	visible, md := ParseMetadata(text)
	return Reply{Text: text, Visible: visible, Metadata: md}, nil
}
