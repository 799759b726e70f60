package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/stripe-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// EventsRepository defines persistence for the stripe_events table.
type EventsRepository interface {
	// Exists reports whether an event row with the given id is stored.
	// Comparison is case-sensitive (the column uses a binary collation).
	Exists(ctx context.Context, id string) (bool, error)
	// Insert writes a new event row with received_at=NOW() and a NULL
	// delivered_at. The primary key rejects duplicate ids.
	Insert(ctx context.Context, tx *sqlx.Tx, e model.StripeEvent) error
	// Get returns the stored event, or nil when no row exists.
	Get(ctx context.Context, id string) (*model.StripeEvent, error)
	// Touch marks the event delivered by setting delivered_at=NOW().
	Touch(ctx context.Context, tx *sqlx.Tx, id string) error
}

type EventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEventsRepository(db *sqlx.DB) *EventsRepositoryImpl {
	return &EventsRepositoryImpl{db: db}
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *EventsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *EventsRepositoryImpl) Exists(ctx context.Context, id string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM stripe_events WHERE id = ?)`
	var found bool
	if err := r.db.GetContext(ctx, &found, q, id); err != nil {
		return false, err
	}
	return found, nil
}

func (r *EventsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.StripeEvent) error {
	const q = `
		INSERT INTO stripe_events
		    (id, type, account_id, api_version, created, livemode, pending_webhooks, request, received_at)
		VALUES
		    (?,  ?,    ?,          ?,           ?,       ?,        ?,                ?,       NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			e.ID, e.Type, e.AccountID, e.APIVersion, e.Created,
			e.Livemode, e.PendingWebhooks, nullableJSON(e.Request),
		)
		return err
	})
}

func (r *EventsRepositoryImpl) Get(ctx context.Context, id string) (*model.StripeEvent, error) {
	const q = `
		SELECT id, type, account_id, api_version, created, livemode,
		       pending_webhooks, request, received_at, delivered_at
		FROM stripe_events
		WHERE id = ?
	`
	var e model.StripeEvent
	if err := r.db.GetContext(ctx, &e, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *EventsRepositoryImpl) Touch(ctx context.Context, tx *sqlx.Tx, id string) error {
	const q = `UPDATE stripe_events SET delivered_at = NOW() WHERE id = ?`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, id)
		return err
	})
}

// nullableJSON maps an empty raw message to NULL so the column does not store
// the string "null" or an empty blob.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
