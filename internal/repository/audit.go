package repository

import (
	"context"
	"strings"

	"github.com/jmehdipour/stripe-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// AuditRepository writes and reads the ClickHouse webhook_audit table.
type AuditRepository interface {
	InsertBatch(ctx context.Context, rows []model.AuditRecord) error
	List(ctx context.Context, kind model.AuditKind, eventID string, limit, offset int) ([]model.AuditRecord, error)
}

type auditRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewAuditRepository(ch *sqlx.DB) AuditRepository {
	return &auditRepository{ch: ch}
}

func (r *auditRepository) InsertBatch(ctx context.Context, rows []model.AuditRecord) error {
	if len(rows) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`
		INSERT INTO stripegw.webhook_audit
		    (id, kind, event_id, event_type, scope, detail, created_at)
		VALUES `)
	args := make([]any, 0, len(rows)*7)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, row.ID, string(row.Kind), row.EventID, row.EventType, row.Scope, row.Detail, row.CreatedAt)
	}

	_, err := r.ch.ExecContext(ctx, b.String(), args...)
	return err
}

func (r *auditRepository) List(ctx context.Context, kind model.AuditKind, eventID string, limit, offset int) ([]model.AuditRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, kind, event_id, event_type, scope, detail, created_at
		FROM stripegw.webhook_audit
		WHERE 1 = 1
	`
	args := []any{}

	if kind != "" {
		q += " AND kind = ?"
		args = append(args, string(kind))
	}
	if eventID != "" {
		q += " AND event_id = ?"
		args = append(args, eventID)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.AuditRecord
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
