// Package directive defines the Directive domain entity — the unit of
// requested work entering the orchestration core.
package directive

import (
	"errors"
	"time"
)

// Type identifies the kind of work a directive requests.
type Type string

const (
	TypeReportRequest   Type = "report_request"
	TypeReviewRequest   Type = "review_request"
	TypeDecisionRequest Type = "decision_request"
	TypeStatusUpdate    Type = "status_update"
	TypeEscalation      Type = "escalation"
)

// KnownTypes is the closed set of accepted directive types.
var KnownTypes = map[Type]bool{
	TypeReportRequest:   true,
	TypeReviewRequest:   true,
	TypeDecisionRequest: true,
	TypeStatusUpdate:    true,
	TypeEscalation:      true,
}

// Origin identifies who issued a directive.
type Origin string

const (
	OriginHuman  Origin = "human"
	OriginPeer   Origin = "peer"
	OriginWorker Origin = "internal_worker"
)

// Priority orders directives: low < normal < high < urgent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

func (p Priority) String() string { return priorityNames[p] }

// ParsePriority converts a wire string to a Priority. Unknown values map to normal.
func ParsePriority(s string) Priority {
	for p, name := range priorityNames {
		if name == s {
			return p
		}
	}
	return PriorityNormal
}

// MarshalText implements encoding.TextMarshaler so priorities serialize by name.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	*p = ParsePriority(string(b))
	return nil
}

// Outcome is the terminal state of a directive, recorded in the audit log.
type Outcome string

const (
	OutcomeDispatched Outcome = "dispatched"
	OutcomeApproved   Outcome = "approved"
	OutcomeRejected   Outcome = "rejected"
	OutcomeEscalated  Outcome = "escalated"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeCompleted  Outcome = "completed"
)

// Directive is a unit of requested work. ID is assigned once at creation
// and never mutated.
type Directive struct {
	ID               string            `json:"id"`
	Type             Type              `json:"type"`
	Origin           Origin            `json:"origin"`
	TargetResource   string            `json:"target_resource,omitempty"`
	Payload          map[string]string `json:"payload,omitempty"`
	Priority         Priority          `json:"priority"`
	RequiresResponse bool              `json:"requires_response"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Validate checks structural validity at the boundary.
func (d *Directive) Validate() error {
	if d.ID == "" {
		return errors.New("id is required")
	}
	if !KnownTypes[d.Type] {
		return errors.New("unrecognized directive type")
	}
	switch d.Origin {
	case OriginHuman, OriginPeer, OriginWorker:
	default:
		return errors.New("unrecognized origin")
	}
	return nil
}

// ReadOnly reports whether this directive type never mutates its target
// resource. Read-only directives are always effect-compatible.
func (t Type) ReadOnly() bool {
	return t == TypeReportRequest || t == TypeStatusUpdate
}

// Incompatible reports whether two directives targeting the same resource
// have mutually incompatible effects. Two read-only directives are always
// compatible; anything else competing over one resource is not.
func Incompatible(a, b *Directive) bool {
	if a.TargetResource == "" || a.TargetResource != b.TargetResource {
		return false
	}
	if a.Type.ReadOnly() && b.Type.ReadOnly() {
		return false
	}
	return true
}
