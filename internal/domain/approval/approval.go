// Package approval models a human-in-the-loop checkpoint as an explicit
// state machine. All mutation goes through transition methods; once a
// request is terminal it is immutable.
package approval

import (
	"fmt"
	"time"

	"github.com/afcen/overseer/internal/domain"
	"github.com/afcen/overseer/internal/domain/directive"
)

// State is the lifecycle state of an approval request.
type State string

const (
	StatePending   State = "pending"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
	StateExpired   State = "expired"
	StateEscalated State = "escalated"
)

// Terminal reports whether no further transitions are allowed.
// Expired is not terminal: it transitions automatically to escalated.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateEscalated
}

// Decision is a human verdict on a pending request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Request is a HITL checkpoint for a high-stakes directive.
type Request struct {
	RequestID          string              `json:"request_id"`
	RelatedDirectiveID string              `json:"related_directive_id"`
	ActionSummary      string              `json:"action_summary"`
	RiskLevel          directive.RiskLevel `json:"risk_level"`
	Alternatives       []string            `json:"alternatives,omitempty"`
	State              State               `json:"state"`
	Rationale          string              `json:"rationale,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	TimeoutAt          time.Time           `json:"timeout_at"`
	DecidedAt          *time.Time          `json:"decided_at,omitempty"`
}

// New creates a pending request. timeout must be positive so that
// TimeoutAt > CreatedAt holds.
func New(requestID, directiveID, summary string, risk directive.RiskLevel, alternatives []string, now time.Time, timeout time.Duration) (*Request, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("approval timeout must be positive, got %s", timeout)
	}
	return &Request{
		RequestID:          requestID,
		RelatedDirectiveID: directiveID,
		ActionSummary:      summary,
		RiskLevel:          risk,
		Alternatives:       alternatives,
		State:              StatePending,
		CreatedAt:          now,
		TimeoutAt:          now.Add(timeout),
	}, nil
}

// Decide applies a human decision. Valid only from pending.
func (r *Request) Decide(d Decision, rationale string, now time.Time) error {
	if r.State != StatePending {
		return fmt.Errorf("request %s is %s: %w", r.RequestID, r.State, domain.ErrAlreadyDecided)
	}
	switch d {
	case DecisionApproved:
		r.State = StateApproved
	case DecisionRejected:
		r.State = StateRejected
	default:
		return fmt.Errorf("unknown decision %q: %w", d, domain.ErrValidation)
	}
	r.Rationale = rationale
	r.DecidedAt = &now
	return nil
}

// Expire moves a pending request whose deadline passed to expired.
// Returns false when nothing changed (not pending, or not yet due).
func (r *Request) Expire(now time.Time) bool {
	if r.State != StatePending || now.Before(r.TimeoutAt) {
		return false
	}
	r.State = StateExpired
	return true
}

// Escalate moves an expired request to escalated. The sweep calls this
// immediately after Expire; the pair is the single automatic transition.
func (r *Request) Escalate(now time.Time) bool {
	if r.State != StateExpired {
		return false
	}
	r.State = StateEscalated
	r.DecidedAt = &now
	return true
}
