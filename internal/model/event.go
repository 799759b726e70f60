package model

import (
	"database/sql"
	"encoding/json"
	"time"
)

// StripeEvent is the durable idempotency record in the stripe_events table.
// Existence of a row for a given id is what makes a redelivered webhook a
// no-op; DeliveredAt stays NULL until the dispatch worker finishes fan-out.
type StripeEvent struct {
	ID              string          `db:"id"`
	Type            string          `db:"type"`
	AccountID       sql.NullString  `db:"account_id"`
	APIVersion      sql.NullString  `db:"api_version"`
	Created         sql.NullInt64   `db:"created"` // provider-supplied unix timestamp
	Livemode        bool            `db:"livemode"`
	PendingWebhooks int             `db:"pending_webhooks"`
	Request         json.RawMessage `db:"request"` // opaque request metadata
	ReceivedAt      time.Time       `db:"received_at"`
	DeliveredAt     sql.NullTime    `db:"delivered_at"`
}

// Delivered reports whether the event completed a dispatch without error.
func (e StripeEvent) Delivered() bool {
	return e.DeliveredAt.Valid
}
