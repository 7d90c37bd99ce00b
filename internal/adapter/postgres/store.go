package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/afcen/overseer/internal/domain"
	"github.com/afcen/overseer/internal/domain/approval"
	"github.com/afcen/overseer/internal/domain/conflict"
	"github.com/afcen/overseer/internal/domain/directive"
	"github.com/afcen/overseer/internal/port/database"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Directive outcomes ---

func (s *Store) RecordDirectiveOutcome(ctx context.Context, out *database.DirectiveOutcome) error {
	payload, err := json.Marshal(out.Directive.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO directives (id, type, origin, target_resource, payload, priority, requires_response, created_at, outcome, cause, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO NOTHING`,
		out.Directive.ID, string(out.Directive.Type), string(out.Directive.Origin),
		out.Directive.TargetResource, payload, out.Directive.Priority.String(),
		out.Directive.RequiresResponse, out.Directive.CreatedAt,
		string(out.Outcome), out.Cause, out.RecordedAt)
	if err != nil {
		return fmt.Errorf("record directive outcome %s: %w", out.Directive.ID, err)
	}
	return nil
}

func (s *Store) GetDirectiveOutcome(ctx context.Context, directiveID string) (*database.DirectiveOutcome, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, type, origin, target_resource, payload, priority, requires_response, created_at, outcome, cause, recorded_at
		 FROM directives WHERE id = $1`, directiveID)

	var (
		out      database.DirectiveOutcome
		dType    string
		origin   string
		payload  []byte
		priority string
		outcome  string
	)
	err := row.Scan(&out.Directive.ID, &dType, &origin, &out.Directive.TargetResource,
		&payload, &priority, &out.Directive.RequiresResponse, &out.Directive.CreatedAt,
		&outcome, &out.Cause, &out.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("directive %s: %w", directiveID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get directive outcome %s: %w", directiveID, err)
	}

	out.Directive.Type = directive.Type(dType)
	out.Directive.Origin = directive.Origin(origin)
	out.Directive.Priority = directive.ParsePriority(priority)
	out.Outcome = directive.Outcome(outcome)
	if err := json.Unmarshal(payload, &out.Directive.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload %s: %w", directiveID, err)
	}
	return &out, nil
}

// --- Approvals ---

func (s *Store) CreateApproval(ctx context.Context, req *approval.Request) error {
	alternatives, err := json.Marshal(req.Alternatives)
	if err != nil {
		return fmt.Errorf("marshal alternatives: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO approvals (request_id, related_directive_id, action_summary, risk_level, alternatives, state, rationale, created_at, timeout_at, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.RequestID, req.RelatedDirectiveID, req.ActionSummary, string(req.RiskLevel),
		alternatives, string(req.State), req.Rationale, req.CreatedAt, req.TimeoutAt, req.DecidedAt)
	if err != nil {
		return fmt.Errorf("create approval %s: %w", req.RequestID, err)
	}
	return nil
}

func (s *Store) GetApproval(ctx context.Context, requestID string) (*approval.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT request_id, related_directive_id, action_summary, risk_level, alternatives, state, rationale, created_at, timeout_at, decided_at
		 FROM approvals WHERE request_id = $1`, requestID)

	req, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("approval %s: %w", requestID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get approval %s: %w", requestID, err)
	}
	return req, nil
}

// UpdateApproval persists a transition. Terminal rows are immutable: the
// guard clause refuses to overwrite a request that already left pending or
// expired, which makes the timeout sweep idempotent under concurrency.
func (s *Store) UpdateApproval(ctx context.Context, req *approval.Request) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE approvals SET state = $2, rationale = $3, decided_at = $4
		 WHERE request_id = $1 AND state IN ('pending', 'expired')`,
		req.RequestID, string(req.State), req.Rationale, req.DecidedAt)
	if err != nil {
		return fmt.Errorf("update approval %s: %w", req.RequestID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approval %s: %w", req.RequestID, domain.ErrAlreadyDecided)
	}
	return nil
}

func (s *Store) ListApprovals(ctx context.Context, state approval.State) ([]approval.Request, error) {
	query := `SELECT request_id, related_directive_id, action_summary, risk_level, alternatives, state, rationale, created_at, timeout_at, decided_at
	          FROM approvals`
	args := []any{}
	if state != "" {
		query += ` WHERE state = $1`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	return collectApprovals(rows)
}

func (s *Store) ListDueApprovals(ctx context.Context, now time.Time) ([]approval.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT request_id, related_directive_id, action_summary, risk_level, alternatives, state, rationale, created_at, timeout_at, decided_at
		 FROM approvals WHERE state = 'pending' AND timeout_at <= $1
		 ORDER BY timeout_at`, now)
	if err != nil {
		return nil, fmt.Errorf("list due approvals: %w", err)
	}
	defer rows.Close()

	return collectApprovals(rows)
}

// --- Conflicts ---

func (s *Store) CreateConflict(ctx context.Context, rec *conflict.Record) error {
	a, b, positions, err := marshalConflict(rec)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO conflicts (conflict_id, directive_a, directive_b, positions, round, max_rounds, state, resolution, created_at, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ConflictID, a, b, positions, rec.Round, rec.MaxRounds,
		string(rec.State), rec.Resolution, rec.CreatedAt, rec.ResolvedAt)
	if err != nil {
		return fmt.Errorf("create conflict %s: %w", rec.ConflictID, err)
	}
	return nil
}

func (s *Store) GetConflict(ctx context.Context, conflictID string) (*conflict.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT conflict_id, directive_a, directive_b, positions, round, max_rounds, state, resolution, created_at, resolved_at
		 FROM conflicts WHERE conflict_id = $1`, conflictID)

	rec, err := scanConflict(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conflict %s: %w", conflictID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get conflict %s: %w", conflictID, err)
	}
	return rec, nil
}

func (s *Store) UpdateConflict(ctx context.Context, rec *conflict.Record) error {
	_, _, positions, err := marshalConflict(rec)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE conflicts SET positions = $2, round = $3, state = $4, resolution = $5, resolved_at = $6
		 WHERE conflict_id = $1 AND state = 'debating'`,
		rec.ConflictID, positions, rec.Round, string(rec.State), rec.Resolution, rec.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update conflict %s: %w", rec.ConflictID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conflict %s is terminal: %w", rec.ConflictID, domain.ErrAlreadyDecided)
	}
	return nil
}

func (s *Store) ListConflicts(ctx context.Context, state conflict.State) ([]conflict.Record, error) {
	query := `SELECT conflict_id, directive_a, directive_b, positions, round, max_rounds, state, resolution, created_at, resolved_at
	          FROM conflicts`
	args := []any{}
	if state != "" {
		query += ` WHERE state = $1`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []conflict.Record
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
