package model

import "time"

type AuditKind string

const (
	AuditSignatureRejected AuditKind = "signature_rejected"
	AuditDelivered         AuditKind = "delivered"
	AuditDispatchFailed    AuditKind = "dispatch_failed"
)

// AuditRecord is one observability row in the ClickHouse webhook_audit table.
// EventID and EventType are empty for signature rejections (the payload is
// never parsed). Detail never contains a secret value, only its name.
type AuditRecord struct {
	ID        string    `db:"id"` // ULID
	Kind      AuditKind `db:"kind"`
	EventID   string    `db:"event_id"`
	EventType string    `db:"event_type"`
	Scope     string    `db:"scope"` // account | connect | ""
	Detail    string    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}
