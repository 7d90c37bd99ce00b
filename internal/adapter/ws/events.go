package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventDirectiveRouted   = "directive.routed"
	EventApprovalRequested = "approval.requested"
	EventApprovalDecided   = "approval.decided"
	EventApprovalEscalated = "approval.escalated"
	EventConflictOpened    = "conflict.opened"
	EventConflictResolved  = "conflict.resolved"
	EventAuditDegraded     = "audit.degraded"
)

// DirectiveEvent is broadcast when a directive reaches a routing outcome.
type DirectiveEvent struct {
	DirectiveID string `json:"directive_id"`
	Type        string `json:"type"`
	Outcome     string `json:"outcome"`
	Worker      string `json:"worker,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ApprovalEvent is broadcast on approval lifecycle transitions.
type ApprovalEvent struct {
	RequestID     string   `json:"request_id"`
	DirectiveID   string   `json:"directive_id"`
	ActionSummary string   `json:"action_summary"`
	RiskLevel     string   `json:"risk_level"`
	Alternatives  []string `json:"alternatives,omitempty"`
	State         string   `json:"state"`
}

// ConflictEvent is broadcast when a conflict opens, resolves, or escalates.
type ConflictEvent struct {
	ConflictID string `json:"conflict_id"`
	DirectiveA string `json:"directive_a"`
	DirectiveB string `json:"directive_b"`
	State      string `json:"state"`
	Round      int    `json:"round"`
	Resolution string `json:"resolution,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
