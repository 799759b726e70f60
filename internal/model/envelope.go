package model

import "encoding/json"

// Envelope is the dispatch task payload written to the outbox and published
// to Kafka. It carries the stored event id plus the raw webhook body so the
// worker can re-parse the canonical event shape without refetching it.
type Envelope struct {
	EventID string          `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}
