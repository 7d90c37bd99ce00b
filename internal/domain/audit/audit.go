// Package audit defines the append-only decision log entry types.
package audit

import "time"

// Action identifies what kind of decision an entry records.
type Action string

const (
	ActionDirectiveRouted     Action = "directive.routed"
	ActionDirectiveDispatched Action = "directive.dispatched"
	ActionDirectiveRejected   Action = "directive.rejected"
	ActionDirectiveFailed     Action = "directive.failed"
	ActionDirectiveCompleted  Action = "directive.completed"
	ActionDirectiveSuperseded Action = "directive.superseded"
	ActionApprovalOpened      Action = "approval.opened"
	ActionApprovalDecided     Action = "approval.decided"
	ActionApprovalEscalated   Action = "approval.escalated"
	ActionConflictOpened      Action = "conflict.opened"
	ActionConflictResolved    Action = "conflict.resolved"
	ActionConflictEscalated   Action = "conflict.escalated"
	ActionMessageDropped      Action = "message.dropped"
)

// Entry is a single immutable record of a routing decision, approval, or
// conflict outcome.
type Entry struct {
	ID          string    `json:"id"`
	DirectiveID string    `json:"directive_id,omitempty"`
	Action      Action    `json:"action"`
	Actor       string    `json:"actor,omitempty"` // "router", "pipeline", "sweep", or a human identifier
	Details     string    `json:"details,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter controls which audit entries are returned by queries.
type Filter struct {
	DirectiveID string     `json:"directive_id,omitempty"`
	Action      Action     `json:"action,omitempty"`
	After       *time.Time `json:"after,omitempty"`
	Before      *time.Time `json:"before,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}
