package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/afcen/overseer/internal/domain/audit"
)

// AuditSink implements auditlog.Sink on the audit_log table.
type AuditSink struct {
	pool *pgxpool.Pool
}

// NewAuditSink creates an append-only audit sink.
func NewAuditSink(pool *pgxpool.Pool) *AuditSink {
	return &AuditSink{pool: pool}
}

// Append persists one audit entry.
func (s *AuditSink) Append(ctx context.Context, entry *audit.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, directive_id, action, actor, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.DirectiveID, string(entry.Action), entry.Actor, entry.Details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Query returns entries matching the filter, newest first.
func (s *AuditSink) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	query := `SELECT id, directive_id, action, actor, details, created_at FROM audit_log WHERE 1=1`
	args := []any{}

	if filter.DirectiveID != "" {
		args = append(args, filter.DirectiveID)
		query += ` AND directive_id = $` + strconv.Itoa(len(args))
	}
	if filter.Action != "" {
		args = append(args, string(filter.Action))
		query += ` AND action = $` + strconv.Itoa(len(args))
	}
	if filter.After != nil {
		args = append(args, *filter.After)
		query += ` AND created_at > $` + strconv.Itoa(len(args))
	}
	if filter.Before != nil {
		args = append(args, *filter.Before)
		query += ` AND created_at < $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var action string
		if err := rows.Scan(&e.ID, &e.DirectiveID, &action, &e.Actor, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = audit.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
