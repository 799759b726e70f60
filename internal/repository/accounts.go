package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/stripe-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// AccountsRepository is the connected-account collaborator consumed by the
// dispatch pipeline. Find deliberately returns (nil, nil) for unknown or
// tombstoned accounts: a Connect webhook whose account is gone still
// dispatches with a nil account.
type AccountsRepository interface {
	Find(ctx context.Context, accountID string) (*model.StripeAccount, error)
	// FindWithRemoved also returns tombstoned rows.
	FindWithRemoved(ctx context.Context, accountID string) (*model.StripeAccount, error)
	// Upsert creates an account, or restores a tombstoned one, when an OAuth
	// flow completes.
	Upsert(ctx context.Context, tx *sqlx.Tx, a model.StripeAccount) error
	// Deauthorize clears the refresh token and tombstones the account.
	Deauthorize(ctx context.Context, tx *sqlx.Tx, accountID string) error
}

type AccountsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAccountsRepository(db *sqlx.DB) *AccountsRepositoryImpl {
	return &AccountsRepositoryImpl{db: db}
}

func (r *AccountsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

const accountColumns = `id, owner_id, refresh_token, token_scope, active, removed_at, created_at, updated_at`

func (r *AccountsRepositoryImpl) Find(ctx context.Context, accountID string) (*model.StripeAccount, error) {
	return r.find(ctx, accountID, true)
}

func (r *AccountsRepositoryImpl) FindWithRemoved(ctx context.Context, accountID string) (*model.StripeAccount, error) {
	return r.find(ctx, accountID, false)
}

func (r *AccountsRepositoryImpl) find(ctx context.Context, accountID string, activeOnly bool) (*model.StripeAccount, error) {
	q := `SELECT ` + accountColumns + ` FROM stripe_accounts WHERE id = ?`
	if activeOnly {
		q += ` AND active = 1`
	}
	var a model.StripeAccount
	if err := r.db.GetContext(ctx, &a, q, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// Upsert inserts the account or, on conflict, refreshes its credentials and
// clears any tombstone (re-authorization restores the row).
func (r *AccountsRepositoryImpl) Upsert(ctx context.Context, tx *sqlx.Tx, a model.StripeAccount) error {
	const q = `
		INSERT INTO stripe_accounts
		    (id, owner_id, refresh_token, token_scope, active, removed_at, created_at, updated_at)
		VALUES
		    (?,  ?,        ?,             ?,           1,      NULL,       NOW(),      NOW())
		ON DUPLICATE KEY UPDATE
		    owner_id      = VALUES(owner_id),
		    refresh_token = VALUES(refresh_token),
		    token_scope   = VALUES(token_scope),
		    active        = 1,
		    removed_at    = NULL,
		    updated_at    = NOW()
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, a.ID, a.OwnerID, a.RefreshToken, a.TokenScope)
		return err
	})
}

func (r *AccountsRepositoryImpl) Deauthorize(ctx context.Context, tx *sqlx.Tx, accountID string) error {
	const q = `
		UPDATE stripe_accounts
		SET refresh_token = NULL, token_scope = NULL, active = 0,
		    removed_at = NOW(), updated_at = NOW()
		WHERE id = ?
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, accountID)
		return err
	})
}
