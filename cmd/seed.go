package cmd

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/jmehdipour/stripe-gateway/internal/config"
	"github.com/jmehdipour/stripe-gateway/internal/db"
	"github.com/jmehdipour/stripe-gateway/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo connected accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo connected accounts...")

		if err := seedAccounts(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedAccounts inserts deterministic demo accounts (idempotent upsert on id).
func seedAccounts(dbx *sqlx.DB) error {
	accounts := []model.StripeAccount{
		{
			ID:           "acct_demo000000000001",
			OwnerID:      sql.NullInt64{Int64: 1, Valid: true},
			RefreshToken: sql.NullString{String: "rt_demo_alpha", Valid: true},
			TokenScope:   sql.NullString{String: "read_write", Valid: true},
			Active:       true,
		},
		{
			ID:           "acct_demo000000000002",
			OwnerID:      sql.NullInt64{Int64: 2, Valid: true},
			RefreshToken: sql.NullString{String: "rt_demo_beta", Valid: true},
			TokenScope:   sql.NullString{String: "read_only", Valid: true},
			Active:       true,
		},
		{
			// tombstoned account: dispatches for it resolve a nil account
			ID:      "acct_demo000000000003",
			OwnerID: sql.NullInt64{Int64: 3, Valid: true},
			Active:  false,
		},
	}

	const q = `
INSERT INTO stripe_accounts
    (id, owner_id, refresh_token, token_scope, active, removed_at, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    owner_id      = VALUES(owner_id),
    refresh_token = VALUES(refresh_token),
    token_scope   = VALUES(token_scope),
    active        = VALUES(active),
    removed_at    = VALUES(removed_at),
    updated_at    = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, a := range accounts {
		var removedAt any
		if !a.Active {
			removedAt = now
		}
		if _, err := tx.Exec(q, a.ID, a.OwnerID, a.RefreshToken, a.TokenScope, a.Active, removedAt, now, now); err != nil {
			return fmt.Errorf("insert account %q: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	return nil
}
