package webhook

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrInvalidPayload is returned when a body does not carry a recognizable
// Stripe event envelope.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// Event is the canonical event shape extracted from a webhook body.
// Extraction is explicit: only the fields named here are trusted, anything
// else in the payload is ignored.
type Event struct {
	ID              string          `json:"id"`
	Object          string          `json:"object"`
	Type            string          `json:"type"`
	Account         string          `json:"account,omitempty"`
	APIVersion      string          `json:"api_version,omitempty"`
	Created         int64           `json:"created,omitempty"`
	Livemode        bool            `json:"livemode,omitempty"`
	PendingWebhooks int             `json:"pending_webhooks,omitempty"`
	Request         json.RawMessage `json:"request,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// Parse decodes raw into an Event and validates the envelope: the body must
// be a JSON object with `"object": "event"` and a non-empty id.
func Parse(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, ErrInvalidPayload
	}
	if ev.Object != "event" || ev.ID == "" {
		return Event{}, ErrInvalidPayload
	}
	return ev, nil
}

// Connect reports whether the event is scoped to a connected account.
func (e Event) Connect() bool { return e.Account != "" }

// Category returns the first segment of the dot-namespaced type,
// e.g. "payment_intent" for "payment_intent.succeeded".
func (e Event) Category() string {
	if i := strings.IndexByte(e.Type, '.'); i >= 0 {
		return e.Type[:i]
	}
	return e.Type
}
