// Package database defines the durable store port (interface).
package database

import (
	"context"
	"time"

	"github.com/afcen/overseer/internal/domain/approval"
	"github.com/afcen/overseer/internal/domain/conflict"
	"github.com/afcen/overseer/internal/domain/directive"
)

// DirectiveOutcome is the terminal record kept for audit: the directive
// plus how it ended.
type DirectiveOutcome struct {
	Directive  directive.Directive `json:"directive"`
	Outcome    directive.Outcome   `json:"outcome"`
	Cause      string              `json:"cause,omitempty"`
	RecordedAt time.Time           `json:"recorded_at"`
}

// Store is the port interface over the durable tables the core owns:
// terminal directive outcomes, approval requests, and conflict records.
type Store interface {
	// RecordDirectiveOutcome persists a directive's terminal state.
	RecordDirectiveOutcome(ctx context.Context, out *DirectiveOutcome) error

	// GetDirectiveOutcome returns the terminal record for a directive,
	// or domain.ErrNotFound while it is still in flight.
	GetDirectiveOutcome(ctx context.Context, directiveID string) (*DirectiveOutcome, error)

	// CreateApproval persists a new pending approval request.
	CreateApproval(ctx context.Context, req *approval.Request) error

	// GetApproval returns an approval request by id.
	GetApproval(ctx context.Context, requestID string) (*approval.Request, error)

	// UpdateApproval persists a state transition on an approval request.
	UpdateApproval(ctx context.Context, req *approval.Request) error

	// ListApprovals returns approval requests, optionally filtered by state.
	ListApprovals(ctx context.Context, state approval.State) ([]approval.Request, error)

	// ListDueApprovals returns pending requests whose timeout_at has passed.
	ListDueApprovals(ctx context.Context, now time.Time) ([]approval.Request, error)

	// CreateConflict persists a new conflict record.
	CreateConflict(ctx context.Context, rec *conflict.Record) error

	// GetConflict returns a conflict record by id.
	GetConflict(ctx context.Context, conflictID string) (*conflict.Record, error)

	// UpdateConflict persists a round advancement or terminal transition.
	UpdateConflict(ctx context.Context, rec *conflict.Record) error

	// ListConflicts returns conflict records, optionally filtered by state.
	ListConflicts(ctx context.Context, state conflict.State) ([]conflict.Record, error)
}
