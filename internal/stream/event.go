// Package stream implements the SSE chat event protocol.
//
// Events travel as newline-delimited lines of the form "data: <json>", where
// the JSON envelope is {"type": ..., "data": ...}. The stream terminates with
// a literal "data: [DONE]" line or channel close.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nexo-labs/chat-gateway/internal/model"
)

// EventType tags the six recognized stream event kinds.
type EventType string

const (
	EventConversationID EventType = "conversation_id"
	EventToken          EventType = "token"
	EventSources        EventType = "sources"
	EventUsage          EventType = "usage"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// DoneMarker terminates the stream.
const DoneMarker = "[DONE]"

// dataPrefix starts every event line.
const dataPrefix = "data: "

// Event is a decoded stream event. Exactly one payload field is meaningful
// for a given Type; the union is resolved once at the decode boundary.
type Event struct {
	Type EventType

	ConversationID string
	Token          string
	Sources        []model.Source
	Usage          *model.UsageSnapshot
	Err            string
}

// envelope is the wire shape of one event.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// errorPayload is the wire shape of an error event's data.
type errorPayload struct {
	Error string `json:"error"`
}

// ErrUnknownEvent is returned for event types outside the protocol; callers
// skip these and continue the stream.
var ErrUnknownEvent = errors.New("unknown event type")

// ErrNotArray is returned when a sources payload is not a JSON array; the
// event is dropped, the stream continues.
var ErrNotArray = errors.New("sources payload is not an array")

// ParseEvent decodes one JSON envelope into a typed Event.
func ParseEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("malformed event: %w", err)
	}

	switch EventType(env.Type) {
	case EventConversationID:
		var id string
		if err := json.Unmarshal(env.Data, &id); err != nil {
			return Event{}, fmt.Errorf("malformed conversation_id payload: %w", err)
		}
		return Event{Type: EventConversationID, ConversationID: id}, nil

	case EventToken:
		var tok string
		if err := json.Unmarshal(env.Data, &tok); err != nil {
			return Event{}, fmt.Errorf("malformed token payload: %w", err)
		}
		return Event{Type: EventToken, Token: tok}, nil

	case EventSources:
		if len(env.Data) == 0 || env.Data[0] != '[' {
			return Event{}, ErrNotArray
		}
		var sources []model.Source
		if err := json.Unmarshal(env.Data, &sources); err != nil {
			return Event{}, fmt.Errorf("malformed sources payload: %w", err)
		}
		return Event{Type: EventSources, Sources: sources}, nil

	case EventUsage:
		var usage model.UsageSnapshot
		if err := json.Unmarshal(env.Data, &usage); err != nil {
			return Event{}, fmt.Errorf("malformed usage payload: %w", err)
		}
		return Event{Type: EventUsage, Usage: &usage}, nil

	case EventDone:
		return Event{Type: EventDone}, nil

	case EventError:
		var p errorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Event{}, fmt.Errorf("malformed error payload: %w", err)
		}
		return Event{Type: EventError, Err: p.Error}, nil
	}

	return Event{}, ErrUnknownEvent
}

// Marshal encodes a typed Event into its JSON envelope.
func (e Event) Marshal() ([]byte, error) {
	env := envelope{Type: string(e.Type)}

	var payload any
	switch e.Type {
	case EventConversationID:
		payload = e.ConversationID
	case EventToken:
		payload = e.Token
	case EventSources:
		sources := e.Sources
		if sources == nil {
			sources = []model.Source{}
		}
		payload = sources
	case EventUsage:
		payload = e.Usage
	case EventDone:
		payload = nil
	case EventError:
		payload = errorPayload{Error: e.Err}
	default:
		return nil, ErrUnknownEvent
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event payload: %w", err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}
