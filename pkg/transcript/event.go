// Package transcript reduces streamed voice-assistant events into an
// ordered, deduplicated transcript.
//
// The assistant's data channel delivers JSON events of varying shapes.
// [ParseEvent] decodes them into a loose [Event]; [Reducer.Apply] merges
// recognised events into transcript entries keyed by response id. Events the
// reducer does not recognise still surface to callers (for observability)
// but never mutate the transcript.
package transcript

import "encoding/json"

// Event is a single decoded data-channel payload.
//
// For well-formed JSON objects, Type carries the event discriminator and
// Payload the full object. Malformed payloads are wrapped as
// {"raw": <original text>} with an empty Type so they surface without
// affecting the transcript.
type Event struct {
	Type    string
	Payload map[string]any
}

// ParseEvent decodes a raw data-channel message. It never fails: non-JSON
// input yields an Event with an empty Type and the original text under the
// "raw" key.
func ParseEvent(data []byte) Event {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		return Event{Payload: map[string]any{"raw": string(data)}}
	}
	evt := Event{Payload: payload}
	if t, ok := payload["type"].(string); ok {
		evt.Type = t
	}
	return evt
}

// ResponseID extracts the merge key for an event, trying the known carrier
// fields in priority order: response.id, id, response_id, item.id,
// message.id. It returns "" when none is present; the reducer then assigns
// a generated id.
//
// If the remote side varies which field carries the id across events of one
// response, two entries can fork for the same logical stream. That is a
// property of the event schema, not something the reducer can repair.
func ResponseID(payload map[string]any) string {
	if id := nestedString(payload, "response", "id"); id != "" {
		return id
	}
	if id, ok := payload["id"].(string); ok && id != "" {
		return id
	}
	if id, ok := payload["response_id"].(string); ok && id != "" {
		return id
	}
	if id := nestedString(payload, "item", "id"); id != "" {
		return id
	}
	return nestedString(payload, "message", "id")
}

func nestedString(payload map[string]any, outer, inner string) string {
	nested, ok := payload[outer].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := nested[inner].(string)
	return s
}
