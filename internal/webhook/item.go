package webhook

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusDead       Status = "dead"
)

// Item is one provider event awaiting processing.
type Item struct {
	ID              string            `json:"id"`
	Payload         json.RawMessage   `json:"payload"`
	Source          string            `json:"source,omitempty"`
	ReceivedHeaders map[string]string `json:"received_headers,omitempty"`
	ReceivedAt      time.Time         `json:"received_at"`
	Attempts        int               `json:"attempts"`
	MaxAttempts     int               `json:"max_attempts"`
	Status          Status            `json:"status"`
	NextAttemptAt   time.Time         `json:"next_attempt_at,omitzero"`
	LastError       string            `json:"last_error,omitempty"`
}

// ErrMalformedPayload is returned for bodies that are not an object, an array of
// objects, or an envelope of arrays of objects.
var ErrMalformedPayload = errors.New("webhook payload is malformed")

type normalizedEvent struct {
	payload json.RawMessage
	source  string
}

// normalize splits a delivery into events. Accepted shapes:
//
//	{...}                                  one event
//	[{...}, {...}]                         one event per element
//	{"sleeps":[{...}], "dailies":[{...}]}  one event per element, key kept as source
func normalize(raw []byte) ([]normalizedEvent, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || !gjson.Valid(trimmed) {
		return nil, ErrMalformedPayload
	}
	root := gjson.Parse(trimmed)
	switch {
	case root.IsArray():
		var events []normalizedEvent
		ok := true
		root.ForEach(func(_, value gjson.Result) bool {
			if !value.IsObject() {
				ok = false
				return false
			}
			events = append(events, normalizedEvent{payload: json.RawMessage(value.Raw)})
			return true
		})
		if !ok {
			return nil, ErrMalformedPayload
		}
		return events, nil
	case root.IsObject():
		if events, isEnvelope := splitEnvelope(root); isEnvelope {
			return events, nil
		}
		return []normalizedEvent{{payload: json.RawMessage(root.Raw)}}, nil
	default:
		return nil, ErrMalformedPayload
	}
}

// splitEnvelope reports whether every top-level value is an array of objects.
// Empty arrays are allowed, so {"sleeps":[]} is an envelope with no events.
func splitEnvelope(root gjson.Result) ([]normalizedEvent, bool) {
	var events []normalizedEvent
	keys := 0
	isEnvelope := true
	root.ForEach(func(key, value gjson.Result) bool {
		keys++
		if !value.IsArray() {
			isEnvelope = false
			return false
		}
		for _, elem := range value.Array() {
			if !elem.IsObject() {
				isEnvelope = false
				return false
			}
			events = append(events, normalizedEvent{payload: json.RawMessage(elem.Raw), source: key.String()})
		}
		return true
	})
	if keys == 0 || !isEnvelope {
		return nil, false
	}
	return events, true
}

// headerSnapshot keeps request headers for inspection, minus credentials.
func headerSnapshot(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		lower := strings.ToLower(name)
		if lower == "authorization" || lower == "cookie" || len(values) == 0 {
			continue
		}
		out[lower] = values[0]
	}
	return out
}
