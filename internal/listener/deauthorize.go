package listener

import (
	"context"

	"github.com/jmehdipour/stripe-gateway/internal/logger"
	"github.com/jmehdipour/stripe-gateway/internal/repository"
	"github.com/jmehdipour/stripe-gateway/internal/webhook"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DeauthorizedEventType is emitted when a connected account revokes access.
const DeauthorizedEventType = "account.application.deauthorized"

// RemoveAccountOnDeauthorize returns the built-in subscriber that clears the
// refresh token and tombstones the connected account when it deauthorizes
// the application. It participates in the dispatch transaction.
func RemoveAccountOnDeauthorize(accounts repository.AccountsRepository) webhook.Handler {
	return func(ctx context.Context, tx *sqlx.Tx, w *webhook.Context) error {
		if w.IsNot(DeauthorizedEventType) || w.Event.Account == "" {
			return nil
		}
		if err := accounts.Deauthorize(ctx, tx, w.Event.Account); err != nil {
			return err
		}
		logger.Log.Info("connected account deauthorized",
			zap.String("account_id", w.Event.Account),
			zap.String("event_id", w.Event.ID))
		return nil
	}
}

// Register binds the built-in listeners. Called once at worker start.
func Register(reg *webhook.Registry, accounts repository.AccountsRepository) {
	reg.Bind(
		webhook.ConnectChannelPrefix+":"+DeauthorizedEventType,
		RemoveAccountOnDeauthorize(accounts),
	)
}
