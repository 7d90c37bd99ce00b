package messagebus

import (
	"github.com/afcen/overseer/internal/domain/conflict"
	"github.com/afcen/overseer/internal/domain/directive"
)

// DirectiveBody is the body schema for kind=directive envelopes.
type DirectiveBody struct {
	Directive directive.Directive `json:"directive"`
}

// PositionBody is the body schema for kind=position envelopes — a party's
// revised stance in an open conflict debate.
type PositionBody struct {
	ConflictID string            `json:"conflict_id"`
	Position   conflict.Position `json:"position"`
}

// ApprovalBody is the body schema for kind=approval_request envelopes sent
// up to the human channel. Escalations carry full context, never a bare
// error code.
type ApprovalBody struct {
	RequestID     string   `json:"request_id"`
	DirectiveID   string   `json:"directive_id"`
	ActionSummary string   `json:"action_summary"`
	RiskLevel     string   `json:"risk_level"`
	Alternatives  []string `json:"alternatives,omitempty"`
	Urgent        bool     `json:"urgent,omitempty"`
}
