package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/afcen/overseer/internal/domain/approval"
	"github.com/afcen/overseer/internal/domain/conflict"
	"github.com/afcen/overseer/internal/domain/directive"
)

// scanApproval reads one approvals row.
func scanApproval(row pgx.Row) (*approval.Request, error) {
	var (
		req          approval.Request
		risk         string
		state        string
		alternatives []byte
	)
	err := row.Scan(&req.RequestID, &req.RelatedDirectiveID, &req.ActionSummary, &risk,
		&alternatives, &state, &req.Rationale, &req.CreatedAt, &req.TimeoutAt, &req.DecidedAt)
	if err != nil {
		return nil, err
	}
	req.RiskLevel = directive.RiskLevel(risk)
	req.State = approval.State(state)
	if err := json.Unmarshal(alternatives, &req.Alternatives); err != nil {
		return nil, fmt.Errorf("unmarshal alternatives: %w", err)
	}
	return &req, nil
}

func collectApprovals(rows pgx.Rows) ([]approval.Request, error) {
	var out []approval.Request
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

// marshalConflict serializes the JSONB columns of a conflict record.
func marshalConflict(rec *conflict.Record) (a, b, positions []byte, err error) {
	if a, err = json.Marshal(rec.DirectiveA); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal directive_a: %w", err)
	}
	if b, err = json.Marshal(rec.DirectiveB); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal directive_b: %w", err)
	}
	if positions, err = json.Marshal(rec.Positions); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal positions: %w", err)
	}
	return a, b, positions, nil
}

// scanConflict reads one conflicts row.
func scanConflict(row pgx.Row) (*conflict.Record, error) {
	var (
		rec       conflict.Record
		a, b, pos []byte
		state     string
	)
	err := row.Scan(&rec.ConflictID, &a, &b, &pos, &rec.Round, &rec.MaxRounds,
		&state, &rec.Resolution, &rec.CreatedAt, &rec.ResolvedAt)
	if err != nil {
		return nil, err
	}
	rec.State = conflict.State(state)
	if err := json.Unmarshal(a, &rec.DirectiveA); err != nil {
		return nil, fmt.Errorf("unmarshal directive_a: %w", err)
	}
	if err := json.Unmarshal(b, &rec.DirectiveB); err != nil {
		return nil, fmt.Errorf("unmarshal directive_b: %w", err)
	}
	if err := json.Unmarshal(pos, &rec.Positions); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}
	return &rec, nil
}
