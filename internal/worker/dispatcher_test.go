package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmehdipour/stripe-gateway/internal/model"
	"github.com/jmehdipour/stripe-gateway/internal/webhook"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	stored  *model.StripeEvent
	touched []string
}

func (f *fakeEvents) Exists(ctx context.Context, id string) (bool, error) { return true, nil }
func (f *fakeEvents) Insert(ctx context.Context, tx *sqlx.Tx, e model.StripeEvent) error {
	return errors.New("not used")
}
func (f *fakeEvents) Get(ctx context.Context, id string) (*model.StripeEvent, error) {
	return f.stored, nil
}
func (f *fakeEvents) Touch(ctx context.Context, tx *sqlx.Tx, id string) error {
	f.touched = append(f.touched, id)
	return nil
}

type fakeAccounts struct {
	accounts map[string]*model.StripeAccount
	looked   []string
	removed  []string
}

func (f *fakeAccounts) Find(ctx context.Context, id string) (*model.StripeAccount, error) {
	f.looked = append(f.looked, id)
	return f.accounts[id], nil
}
func (f *fakeAccounts) FindWithRemoved(ctx context.Context, id string) (*model.StripeAccount, error) {
	return f.accounts[id], nil
}
func (f *fakeAccounts) Upsert(ctx context.Context, tx *sqlx.Tx, a model.StripeAccount) error {
	return nil
}
func (f *fakeAccounts) Deauthorize(ctx context.Context, tx *sqlx.Tx, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func newTestDispatcher(t *testing.T, reg *webhook.Registry, evs *fakeEvents, accts *fakeAccounts) (*Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	router := webhook.NewRouter("default", "webhooks.default", map[string]webhook.Route{
		"charge_refunded": {Job: "refund_order"},
	}, nil)

	d := NewDispatcher(sqlx.NewDb(mockDB, "mysql"), nil, evs, accts, reg, router, nil)
	return d, mock
}

func TestDispatchPlatformEventOrderAndTouch(t *testing.T) {
	var calls []string
	var seen []*webhook.Context
	reg := webhook.NewRegistry()
	for _, name := range []string{
		"stripe.webhooks",
		"stripe.webhooks:charge",
		"stripe.webhooks:charge.failed",
	} {
		name := name
		reg.Bind(name, func(ctx context.Context, tx *sqlx.Tx, w *webhook.Context) error {
			calls = append(calls, name)
			seen = append(seen, w)
			return nil
		})
	}
	// connect channels must never fire for a platform event
	reg.Bind("stripe.connect.webhooks", func(ctx context.Context, tx *sqlx.Tx, w *webhook.Context) error {
		t.Fatal("connect channel fired for platform event")
		return nil
	})

	evs := &fakeEvents{stored: &model.StripeEvent{ID: "evt_1", Type: "charge.failed"}}
	accts := &fakeAccounts{}
	d, mock := newTestDispatcher(t, reg, evs, accts)

	mock.ExpectBegin()
	mock.ExpectCommit()

	ev, err := webhook.Parse([]byte(`{"id":"evt_1","object":"event","type":"charge.failed"}`))
	require.NoError(t, err)
	require.NoError(t, d.dispatch(context.Background(), "evt_1", ev))

	assert.Equal(t, []string{
		"stripe.webhooks",
		"stripe.webhooks:charge",
		"stripe.webhooks:charge.failed",
	}, calls)
	assert.Equal(t, []string{"evt_1"}, evs.touched)
	assert.Empty(t, accts.looked, "platform events must not resolve accounts")
	for _, w := range seen {
		assert.Nil(t, w.Account)
		assert.Same(t, evs.stored, w.Stored)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchConnectEventResolvesAccount(t *testing.T) {
	var got *webhook.Context
	reg := webhook.NewRegistry()
	reg.Bind("stripe.connect.webhooks", func(ctx context.Context, tx *sqlx.Tx, w *webhook.Context) error {
		got = w
		return nil
	})
	reg.Bind("stripe.webhooks", func(ctx context.Context, tx *sqlx.Tx, w *webhook.Context) error {
		t.Fatal("platform channel fired for connect event")
		return nil
	})

	account := &model.StripeAccount{ID: "acct_9", Active: true}
	evs := &fakeEvents{}
	accts := &fakeAccounts{accounts: map[string]*model.StripeAccount{"acct_9": account}}
	d, mock := newTestDispatcher(t, reg, evs, accts)

	mock.ExpectBegin()
	mock.ExpectCommit()

	ev, err := webhook.Parse([]byte(`{"id":"evt_2","object":"event","type":"payment_intent.succeeded","account":"acct_9"}`))
	require.NoError(t, err)
	require.NoError(t, d.dispatch(context.Background(), "evt_2", ev))

	require.NotNil(t, got)
	assert.Same(t, account, got.Account)
	assert.True(t, got.Connect())
	assert.Equal(t, []string{"acct_9"}, accts.looked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchConnectEventWithUnknownAccountStillDelivers(t *testing.T) {
	var got *webhook.Context
	reg := webhook.NewRegistry()
	reg.Bind("stripe.connect.webhooks", func(ctx context.Context, tx *sqlx.Tx, w *webhook.Context) error {
		got = w
		return nil
	})

	evs := &fakeEvents{}
	accts := &fakeAccounts{} // lookup returns nil
	d, mock := newTestDispatcher(t, reg, evs, accts)

	mock.ExpectBegin()
	mock.ExpectCommit()

	ev, err := webhook.Parse([]byte(`{"id":"evt_3","object":"event","type":"payment_intent.succeeded","account":"acct_gone"}`))
	require.NoError(t, err)
	require.NoError(t, d.dispatch(context.Background(), "evt_3", ev))

	require.NotNil(t, got)
	assert.Nil(t, got.Account)
	assert.Equal(t, []string{"evt_3"}, evs.touched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchSubscriberErrorRollsBackTouch(t *testing.T) {
	boom := errors.New("subscriber exploded")
	reg := webhook.NewRegistry()
	reg.Bind("stripe.webhooks", func(ctx context.Context, tx *sqlx.Tx, w *webhook.Context) error {
		return boom
	})

	evs := &fakeEvents{}
	d, mock := newTestDispatcher(t, reg, evs, &fakeAccounts{})

	mock.ExpectBegin()
	mock.ExpectRollback()

	ev, err := webhook.Parse([]byte(`{"id":"evt_4","object":"event","type":"charge.failed"}`))
	require.NoError(t, err)

	err = d.dispatch(context.Background(), "evt_4", ev)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, evs.touched, "delivered marker must not be set on failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchRunsConfiguredJob(t *testing.T) {
	var calls []string
	reg := webhook.NewRegistry()
	reg.Bind("stripe.webhooks", func(ctx context.Context, tx *sqlx.Tx, w *webhook.Context) error {
		calls = append(calls, "channel")
		return nil
	})
	reg.RegisterJob("refund_order", func(ctx context.Context, tx *sqlx.Tx, w *webhook.Context) error {
		calls = append(calls, "job")
		return nil
	})

	evs := &fakeEvents{}
	d, mock := newTestDispatcher(t, reg, evs, &fakeAccounts{})

	mock.ExpectBegin()
	mock.ExpectCommit()

	ev, err := webhook.Parse([]byte(`{"id":"evt_5","object":"event","type":"charge.refunded"}`))
	require.NoError(t, err)
	require.NoError(t, d.dispatch(context.Background(), "evt_5", ev))

	assert.Equal(t, []string{"channel", "job"}, calls)
	assert.Equal(t, []string{"evt_5"}, evs.touched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchJobErrorRollsBack(t *testing.T) {
	boom := errors.New("job exploded")
	reg := webhook.NewRegistry()
	reg.RegisterJob("refund_order", func(ctx context.Context, tx *sqlx.Tx, w *webhook.Context) error {
		return boom
	})

	evs := &fakeEvents{}
	d, mock := newTestDispatcher(t, reg, evs, &fakeAccounts{})

	mock.ExpectBegin()
	mock.ExpectRollback()

	ev, err := webhook.Parse([]byte(`{"id":"evt_6","object":"event","type":"charge.refunded"}`))
	require.NoError(t, err)

	err = d.dispatch(context.Background(), "evt_6", ev)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, evs.touched)
	assert.NoError(t, mock.ExpectationsWereMet())
}
