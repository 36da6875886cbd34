package comm

import (
	"encoding/json"
	"strconv"
)

// Event is one structured message received from the worker.
type Event struct {
	// Type is the message tag; events without one are never published.
	Type string
	// Nonce correlates a STATUS event with the request that caused it.
	// Zero when absent.
	Nonce uint64
	// Status and Error are set on STATUS events.
	Status bool
	Error  string
	// Data is the "data" member, when present.
	Data json.RawMessage
	// Raw is the complete message as received.
	Raw json.RawMessage
}

type wireEvent struct {
	Type   string          `json:"type"`
	Nonce  json.RawMessage `json:"nonce"`
	Status json.RawMessage `json:"status"`
	Error  json.RawMessage `json:"error"`
	Data   json.RawMessage `json:"data"`
}

// DecodeEvent parses a raw worker message. It reports false for anything
// that is not a JSON object with a non-empty string "type".
func DecodeEvent(data []byte) (Event, bool) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil || w.Type == "" {
		return Event{}, false
	}

	ev := Event{
		Type: w.Type,
		Data: w.Data,
		Raw:  append(json.RawMessage(nil), data...),
	}
	ev.Nonce = parseNonce(w.Nonce)
	_ = json.Unmarshal(w.Status, &ev.Status)
	_ = json.Unmarshal(w.Error, &ev.Error)
	return ev, true
}

// Decode unmarshals the full message into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// parseNonce accepts integral JSON numbers, including the float notation
// JavaScript peers may produce. Anything else yields zero.
func parseNonce(raw json.RawMessage) uint64 {
	var num json.Number
	if len(raw) == 0 || json.Unmarshal(raw, &num) != nil || num == "" {
		return 0
	}
	if n, err := strconv.ParseUint(num.String(), 10, 64); err == nil {
		return n
	}
	if f, err := num.Float64(); err == nil && f >= 0 && f < 1<<63 && f == float64(uint64(f)) {
		return uint64(f)
	}
	return 0
}
