package receiver

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/stripe-gateway/internal/repository"
	"github.com/jmehdipour/stripe-gateway/internal/webhook"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	dbx := sqlx.NewDb(mockDB, "mysql")
	router := webhook.NewRouter("default", "webhooks.default", nil, map[string]webhook.Route{
		"payment_intent_succeeded": {Connection: "priority", Queue: "high_queue"},
	})

	svc := New(dbx, repository.NewEventsRepository(dbx), repository.NewOutboxRepository(dbx), router)
	return svc, mock
}

func existsQuery() *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM stripe_events WHERE id = ?)`))
}

func TestReceiveNewEvent(t *testing.T) {
	svc, mock := newTestService(t)

	raw := []byte(`{"id":"evt_1","object":"event","type":"charge.failed"}`)
	ev, err := webhook.Parse(raw)
	require.NoError(t, err)

	mock.ExpectQuery(existsQuery().String()).
		WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stripe_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(OutboxAggregate, "evt_1", "default", "webhooks.default", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	duplicate, err := svc.Receive(context.Background(), ev, raw)
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiveDuplicateIsNoop(t *testing.T) {
	svc, mock := newTestService(t)

	raw := []byte(`{"id":"evt_1","object":"event","type":"charge.failed"}`)
	ev, err := webhook.Parse(raw)
	require.NoError(t, err)

	mock.ExpectQuery(existsQuery().String()).
		WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	// no insert, no enqueue

	duplicate, err := svc.Receive(context.Background(), ev, raw)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiveConcurrentInsertRace(t *testing.T) {
	svc, mock := newTestService(t)

	raw := []byte(`{"id":"evt_1","object":"event","type":"charge.failed"}`)
	ev, err := webhook.Parse(raw)
	require.NoError(t, err)

	// exists check passes, but another receiver commits first: the primary
	// key violation must be treated as the accepted no-op outcome
	mock.ExpectQuery(existsQuery().String()).
		WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stripe_events").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'evt_1'"})
	mock.ExpectRollback()

	duplicate, err := svc.Receive(context.Background(), ev, raw)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiveRoutesConnectOverride(t *testing.T) {
	svc, mock := newTestService(t)

	raw := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.succeeded","account":"acct_9"}`)
	ev, err := webhook.Parse(raw)
	require.NoError(t, err)

	mock.ExpectQuery(existsQuery().String()).
		WithArgs("evt_2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stripe_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// the connect-scope override routes this type to the priority cluster's
	// high_queue; both halves of the destination must reach the outbox row
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(OutboxAggregate, "evt_2", "priority", "high_queue", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	duplicate, err := svc.Receive(context.Background(), ev, raw)
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiveOutboxFailureRollsBack(t *testing.T) {
	svc, mock := newTestService(t)

	raw := []byte(`{"id":"evt_3","object":"event","type":"charge.failed"}`)
	ev, err := webhook.Parse(raw)
	require.NoError(t, err)

	mock.ExpectQuery(existsQuery().String()).
		WithArgs("evt_3").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO stripe_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = svc.Receive(context.Background(), ev, raw)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
