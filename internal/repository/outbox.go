package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// OutboxRepository defines persistence for the outbox table. Writing the
// outbox row in the same transaction as the event row is what makes
// "persist then enqueue" atomic on the synchronous path.
type OutboxRepository interface {
	// Insert writes a single outbox event. If tx is nil, it opens and
	// commits an internal transaction; otherwise it uses the given tx.
	Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, connection, topic string, payload []byte) error
}

type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

// Insert adds an event row to outbox. The relay (Debezium outbox SMT) picks
// it up and publishes to the Kafka cluster named in `connection`, on the
// topic in `topic`; both carry the resolved routing destination.
func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, connection, topic string, payload []byte) error {
	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, connection, topic, payload, created_at)
		VALUES (?, ?, ?, ?, ?, NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, aggregate, aggregateID, connection, topic, payload)
		return err
	})
}
