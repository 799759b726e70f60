package receiver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/stripe-gateway/internal/model"
	"github.com/jmehdipour/stripe-gateway/internal/repository"
	"github.com/jmehdipour/stripe-gateway/internal/webhook"
	"github.com/jmoiron/sqlx"
)

// OutboxAggregate is the aggregate name recorded on outbox rows.
const OutboxAggregate = "stripe_event"

// mysqlDuplicateEntry is the server error for a unique/primary key violation.
const mysqlDuplicateEntry = 1062

// Service is the synchronous receive path: dedup check, then one transaction
// inserting the event row and its outbox row. Nothing here performs network
// calls; the provider's acknowledgement timeout is short.
type Service struct {
	db     *sqlx.DB
	events repository.EventsRepository
	outbox repository.OutboxRepository
	router *webhook.Router
}

func New(
	db *sqlx.DB,
	eventsRepo repository.EventsRepository,
	outboxRepo repository.OutboxRepository,
	router *webhook.Router,
) *Service {
	return &Service{
		db:     db,
		events: eventsRepo,
		outbox: outboxRepo,
		router: router,
	}
}

// Receive persists ev and enqueues its dispatch task. It returns
// duplicate=true, with no side effects, when the event id is already stored —
// including when a concurrent first delivery wins the insert race: the
// primary key closes that window and a duplicate-entry error from the insert
// is treated as the accepted no-op outcome, not a failure.
func (s *Service) Receive(ctx context.Context, ev webhook.Event, raw []byte) (duplicate bool, err error) {
	exists, err := s.events.Exists(ctx, ev.ID)
	if err != nil {
		return false, fmt.Errorf("event exists check: %w", err)
	}
	if exists {
		return true, nil
	}

	dest := s.router.Resolve(ev.Type, ev.Connect())

	payload, err := json.Marshal(model.Envelope{EventID: ev.ID, Payload: raw})
	if err != nil {
		return false, fmt.Errorf("marshal envelope: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.events.Insert(ctx, tx, storedEvent(ev)); err != nil {
		if isDuplicateEntry(err) {
			return true, nil
		}
		return false, fmt.Errorf("insert event: %w", err)
	}

	if err := s.outbox.Insert(ctx, tx, OutboxAggregate, ev.ID, dest.Connection, dest.Queue, payload); err != nil {
		return false, fmt.Errorf("insert outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isDuplicateEntry(err) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// storedEvent maps the parsed envelope onto the durable row, filling
// account_id from the payload's account field (absent for platform events).
func storedEvent(ev webhook.Event) model.StripeEvent {
	e := model.StripeEvent{
		ID:              ev.ID,
		Type:            ev.Type,
		Livemode:        ev.Livemode,
		PendingWebhooks: ev.PendingWebhooks,
		Request:         ev.Request,
	}
	if ev.Account != "" {
		e.AccountID = sql.NullString{String: ev.Account, Valid: true}
	}
	if ev.APIVersion != "" {
		e.APIVersion = sql.NullString{String: ev.APIVersion, Valid: true}
	}
	if ev.Created != 0 {
		e.Created = sql.NullInt64{Int64: ev.Created, Valid: true}
	}
	return e
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
