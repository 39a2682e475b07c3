package llm

import (
	"context"
	"errors"
	"strings"
)

// StreamEvent represents a streaming event from the LLM.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Err     error           `json:"-"`
}

// StreamEventType defines types of streaming events.
type StreamEventType string

const (
	StreamEventText  StreamEventType = "text"
	StreamEventDone  StreamEventType = "done"
	StreamEventError StreamEventType = "error"
)

// streamBuffer is the capacity of provider event channels. Small on purpose:
// a slow consumer should slow the upstream read.
const streamBuffer = 16

// ErrStreamClosed is returned by Collect when the channel closes without a done event.
var ErrStreamClosed = errors.New("stream closed before completion")

// emit sends ev unless ctx is done. It reports whether the event was delivered.
func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a stream and returns the concatenated text.
// On an error event the text received so far is returned with the error.
func Collect(ctx context.Context, events <-chan StreamEvent) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return sb.String(), ErrStreamClosed
			}
			switch ev.Type {
			case StreamEventText:
				sb.WriteString(ev.Content)
			case StreamEventDone:
				return sb.String(), nil
			case StreamEventError:
				return sb.String(), ev.Err
			}
		}
	}
}
