package model

import (
	"database/sql"
	"strings"
	"time"
)

// AccountIDPrefix is the prefix Stripe uses for account identifiers.
const AccountIDPrefix = "acct_"

// StripeAccount is a connected (Connect) account created when an OAuth flow
// completes. The dispatch pipeline only reads it; deauthorization clears the
// refresh token and tombstones the row instead of deleting it.
type StripeAccount struct {
	ID           string         `db:"id"`
	OwnerID      sql.NullInt64  `db:"owner_id"`
	RefreshToken sql.NullString `db:"refresh_token"`
	TokenScope   sql.NullString `db:"token_scope"`
	Active       bool           `db:"active"`
	RemovedAt    sql.NullTime   `db:"removed_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// ValidAccountID reports whether s looks like a Stripe account id.
func ValidAccountID(s string) bool {
	return strings.HasPrefix(s, AccountIDPrefix) && len(s) > len(AccountIDPrefix)
}
