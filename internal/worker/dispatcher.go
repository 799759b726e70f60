package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmehdipour/stripe-gateway/internal/audit"
	"github.com/jmehdipour/stripe-gateway/internal/kafka"
	"github.com/jmehdipour/stripe-gateway/internal/logger"
	"github.com/jmehdipour/stripe-gateway/internal/metrics"
	"github.com/jmehdipour/stripe-gateway/internal/model"
	"github.com/jmehdipour/stripe-gateway/internal/repository"
	"github.com/jmehdipour/stripe-gateway/internal/webhook"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Dispatcher consumes dispatch tasks from one queue and performs the fan-out
// for each previously persisted event: resolve the connected account, notify
// every channel subscriber in order, run the optional fixed job, then mark
// the stored event delivered — all inside a single transaction.
//
// A failed dispatch keeps its Kafka offset uncommitted so the consumer group
// redelivers it; the task itself never retries. Re-running a task is safe:
// the event row already exists and subscribers are contractually idempotent.
type Dispatcher struct {
	DB       *sqlx.DB
	Consumer *kafka.Consumer
	Events   repository.EventsRepository
	Accounts repository.AccountsRepository
	Registry *webhook.Registry
	Router   *webhook.Router
	Audit    *audit.Writer

	Workers int
}

func NewDispatcher(
	db *sqlx.DB,
	consumer *kafka.Consumer,
	eventsRepo repository.EventsRepository,
	accountsRepo repository.AccountsRepository,
	registry *webhook.Registry,
	router *webhook.Router,
	auditWriter *audit.Writer,
) *Dispatcher {
	return &Dispatcher{
		DB:       db,
		Consumer: consumer,
		Events:   eventsRepo,
		Accounts: accountsRepo,
		Registry: registry,
		Router:   router,
		Audit:    auditWriter,
		Workers:  16,
	}
}

// Run starts the worker and blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.Registry == nil {
		return errors.New("dispatcher: nil registry")
	}
	if d.Workers <= 0 {
		d.Workers = 16
	}

	msgCh := make(chan kafka.Message, d.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := d.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Log.Warn("kafka fetch failed", zap.Error(err))
					time.Sleep(200 * time.Millisecond)
					continue
				}
				msgCh <- m
			}
		}
	}()

	// Processors
	for i := 0; i < d.Workers; i++ {
		go d.runProcessor(ctx, msgCh)
	}

	<-ctx.Done()
	return nil
}

func (d *Dispatcher) runProcessor(ctx context.Context, in <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			d.processOne(ctx, m)
		}
	}
}

func (d *Dispatcher) processOne(ctx context.Context, m kafka.Message) {
	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.EventID == "" {
		// poison message: commit and skip
		logger.Log.Error("bad task envelope", zap.Error(err))
		_ = d.Consumer.Commit(ctx, m)
		return
	}

	ev, err := webhook.Parse(env.Payload)
	if err != nil {
		// the receiver validated this payload; a parse failure here means the
		// envelope was corrupted in transit, not that a retry would help
		logger.Log.Error("bad event payload in task", zap.String("event_id", env.EventID), zap.Error(err))
		_ = d.Consumer.Commit(ctx, m)
		return
	}

	if err := d.dispatch(ctx, env.EventID, ev); err != nil {
		metrics.DispatchesTotal.WithLabelValues("failed", scopeLabel(ev)).Inc()
		d.record(model.AuditDispatchFailed, ev, err.Error())
		logger.Log.Error("dispatch failed",
			zap.String("event_id", env.EventID),
			zap.String("type", ev.Type),
			zap.Error(err))
		// offset not committed: the queue runtime redelivers
		return
	}

	metrics.DispatchesTotal.WithLabelValues("delivered", scopeLabel(ev)).Inc()
	d.record(model.AuditDelivered, ev, "")
	if err := d.Consumer.Commit(ctx, m); err != nil {
		logger.Log.Warn("kafka commit failed", zap.String("event_id", env.EventID), zap.Error(err))
	}
}

// dispatch runs one task inside its unit of work: the delivered marker is
// only observable if every subscriber (and the fixed job) returned nil.
func (d *Dispatcher) dispatch(ctx context.Context, eventID string, ev webhook.Event) error {
	stored, err := d.Events.Get(ctx, eventID)
	if err != nil {
		return err
	}

	// A Connect event whose account is unknown or removed still dispatches,
	// with a nil account; dropping it would silently lose the event.
	var account *model.StripeAccount
	if ev.Connect() {
		account, err = d.Accounts.Find(ctx, ev.Account)
		if err != nil {
			return err
		}
	}

	wctx := &webhook.Context{
		Event:   ev,
		Stored:  stored,
		Account: account,
		Dest:    d.Router.Resolve(ev.Type, ev.Connect()),
	}
	names := webhook.ChannelNames(ev.Type, ev.Connect())

	tx, err := d.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := d.Registry.Dispatch(ctx, tx, names, wctx); err != nil {
		return err
	}
	if wctx.Dest.Job != "" {
		if err := d.Registry.RunJob(ctx, tx, wctx.Dest.Job, wctx); err != nil {
			return err
		}
	}

	if err := d.Events.Touch(ctx, tx, eventID); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *Dispatcher) record(kind model.AuditKind, ev webhook.Event, detail string) {
	if d.Audit == nil {
		return
	}
	d.Audit.Record(model.AuditRecord{
		Kind:      kind,
		EventID:   ev.ID,
		EventType: ev.Type,
		Scope:     scopeLabel(ev),
		Detail:    detail,
	})
}

func scopeLabel(ev webhook.Event) string {
	if ev.Connect() {
		return "connect"
	}
	return "account"
}
