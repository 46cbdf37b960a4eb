package stream

import (
	"fmt"
	"io"
	"net/http"

	"github.com/nexo-labs/chat-gateway/internal/model"
)

// Encoder writes chat events to an SSE response body, flushing after each
// event so tokens reach the client as they are produced.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder creates an encoder. When w implements http.Flusher each event is
// flushed immediately.
func NewEncoder(w io.Writer) *Encoder {
	enc := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		enc.flusher = f
	}
	return enc
}

// WriteEvent writes one event line.
func (e *Encoder) WriteEvent(ev Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(e.w, "%s%s\n\n", dataPrefix, data); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// WriteConversationID binds the stream to a conversation.
func (e *Encoder) WriteConversationID(id string) error {
	return e.WriteEvent(Event{Type: EventConversationID, ConversationID: id})
}

// WriteToken writes one content fragment.
func (e *Encoder) WriteToken(token string) error {
	return e.WriteEvent(Event{Type: EventToken, Token: token})
}

// WriteSources writes the retrieved sources for the in-progress answer.
func (e *Encoder) WriteSources(sources []model.Source) error {
	return e.WriteEvent(Event{Type: EventSources, Sources: sources})
}

// WriteUsage writes a usage snapshot.
func (e *Encoder) WriteUsage(usage *model.UsageSnapshot) error {
	return e.WriteEvent(Event{Type: EventUsage, Usage: usage})
}

// WriteDone finalizes the turn.
func (e *Encoder) WriteDone() error {
	return e.WriteEvent(Event{Type: EventDone})
}

// WriteError surfaces a turn failure.
func (e *Encoder) WriteError(msg string) error {
	return e.WriteEvent(Event{Type: EventError, Err: msg})
}

// Close writes the terminal marker.
func (e *Encoder) Close() error {
	if _, err := fmt.Fprintf(e.w, "%s%s\n\n", dataPrefix, DoneMarker); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
