package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/afcen/overseer/internal/domain/directive"
)

// ContextSource implements the pipeline's context fetch over the episodic
// tables: the last outcomes recorded against the directive's target
// resource plus recent audit activity. Workers receive this history merged
// into their payload.
type ContextSource struct {
	pool  *pgxpool.Pool
	limit int
}

// NewContextSource creates a context source returning at most limit prior
// outcomes per fetch.
func NewContextSource(pool *pgxpool.Pool, limit int) *ContextSource {
	if limit <= 0 {
		limit = 5
	}
	return &ContextSource{pool: pool, limit: limit}
}

// Fetch loads the episodic context relevant to the directive.
func (s *ContextSource) Fetch(ctx context.Context, d directive.Directive) (map[string]string, error) {
	out := map[string]string{}

	if d.TargetResource != "" {
		rows, err := s.pool.Query(ctx,
			`SELECT id, type, outcome, cause FROM directives
			 WHERE target_resource = $1 ORDER BY recorded_at DESC LIMIT $2`,
			d.TargetResource, s.limit)
		if err != nil {
			return nil, fmt.Errorf("fetch resource history: %w", err)
		}
		defer rows.Close()

		i := 0
		for rows.Next() {
			var id, typ, outcome, cause string
			if err := rows.Scan(&id, &typ, &outcome, &cause); err != nil {
				return nil, err
			}
			i++
			prefix := "history_" + strconv.Itoa(i)
			out[prefix] = fmt.Sprintf("%s %s -> %s", typ, id, outcome)
			if cause != "" {
				out[prefix+"_cause"] = cause
			}
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("fetch resource history: %w", err)
		}
	}

	var recent int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM audit_log WHERE created_at > now() - interval '24 hours'`).Scan(&recent)
	if err != nil {
		return nil, fmt.Errorf("fetch activity count: %w", err)
	}
	out["recent_activity_24h"] = strconv.Itoa(recent)

	return out, nil
}
