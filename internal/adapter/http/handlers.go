package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/afcen/overseer/internal/domain/approval"
	"github.com/afcen/overseer/internal/domain/audit"
	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/domain/conflict"
	"github.com/afcen/overseer/internal/domain/directive"
	"github.com/afcen/overseer/internal/port/database"
	"github.com/afcen/overseer/internal/service"
)

// Handlers bundles the services behind the REST surface.
type Handlers struct {
	Router    *service.RouterService
	Approvals *service.ApprovalService
	Conflicts *service.ConflictService
	Auditor   *service.AuditService
	Peer      *service.PeerService
	Registry  *capability.Registry
	Store     database.Store
}

// directiveRequest is the submission body for a new directive.
type directiveRequest struct {
	ID               string            `json:"id,omitempty"`
	Type             string            `json:"type"`
	TargetResource   string            `json:"target_resource,omitempty"`
	Payload          map[string]string `json:"payload,omitempty"`
	Priority         string            `json:"priority,omitempty"`
	RequiresResponse bool              `json:"requires_response,omitempty"`
}

func (req *directiveRequest) toDirective(origin directive.Origin) directive.Directive {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	return directive.Directive{
		ID:               id,
		Type:             directive.Type(req.Type),
		Origin:           origin,
		TargetResource:   req.TargetResource,
		Payload:          req.Payload,
		Priority:         directive.ParsePriority(req.Priority),
		RequiresResponse: req.RequiresResponse,
		CreatedAt:        time.Now().UTC(),
	}
}

// SubmitDirective routes a human-issued directive.
func (h *Handlers) SubmitDirective(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[directiveRequest](w, r)
	if !ok {
		return
	}
	d := req.toDirective(directive.OriginHuman)

	outcome, err := h.Router.Route(r.Context(), d)
	if err != nil {
		writeDomainError(w, err, "directive not routable")
		return
	}

	status := http.StatusAccepted
	if outcome.Status == service.RouteRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{
		"directive_id": d.ID,
		"routing":      outcome,
	})
}

// GetDirective reports a directive's current standing: in flight, or its
// terminal outcome.
func (h *Handlers) GetDirective(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	if d, ok := h.Router.Inflight(id); ok {
		writeJSON(w, http.StatusOK, map[string]any{"directive": d, "state": "in_flight"})
		return
	}

	out, err := h.Store.GetDirectiveOutcome(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "directive not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"directive": out.Directive,
		"state":     string(out.Outcome),
		"cause":     out.Cause,
	})
}

// SendPeerDirective sends a directive to the peer system over the durable
// channel.
func (h *Handlers) SendPeerDirective(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[directiveRequest](w, r)
	if !ok {
		return
	}
	d := req.toDirective(directive.OriginHuman)

	if err := h.Peer.SendDirective(r.Context(), d); err != nil {
		writeDomainError(w, err, "directive not sendable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"directive_id": d.ID})
}

// ListApprovals returns approval requests, optionally filtered by state.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	state := approval.State(r.URL.Query().Get("state"))
	reqs, err := h.Approvals.List(r.Context(), state)
	if err != nil {
		writeDomainError(w, err, "approvals unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": reqs})
}

// GetApproval returns one approval request.
func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	req, err := h.Approvals.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// decisionRequest is the body for a human verdict on an approval.
type decisionRequest struct {
	Decision  string `json:"decision"` // "approved" or "rejected"
	Rationale string `json:"rationale,omitempty"`
	DecidedBy string `json:"decided_by,omitempty"`
}

// DecideApproval applies a human decision to a pending approval request.
// A request that already left pending yields 409.
func (h *Handlers) DecideApproval(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	decidedBy := body.DecidedBy
	if decidedBy == "" {
		decidedBy = "human"
	}

	req, err := h.Approvals.Decide(r.Context(), urlParam(r, "id"),
		approval.Decision(body.Decision), body.Rationale, decidedBy)
	if err != nil {
		writeDomainError(w, err, "approval not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListConflicts returns conflict records, optionally filtered by state.
func (h *Handlers) ListConflicts(w http.ResponseWriter, r *http.Request) {
	state := conflict.State(r.URL.Query().Get("state"))
	recs, err := h.Conflicts.List(r.Context(), state)
	if err != nil {
		writeDomainError(w, err, "conflicts unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": recs})
}

// GetConflict returns one conflict record.
func (h *Handlers) GetConflict(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Conflicts.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "conflict not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// positionRequest is the body for a revised debate position submitted
// locally (the human party, or an operator acting for this side).
type positionRequest struct {
	Party       string            `json:"party"`
	Constraints map[string]string `json:"constraints,omitempty"`
	DirectiveID string            `json:"directive_id"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Rationale   string            `json:"rationale,omitempty"`
}

// SubmitPosition applies a revised position to an open conflict debate.
func (h *Handlers) SubmitPosition(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[positionRequest](w, r)
	if !ok {
		return
	}
	if body.Party == "" || body.DirectiveID == "" {
		writeError(w, http.StatusBadRequest, "party and directive_id are required")
		return
	}

	pos := conflict.Position{
		Party:       body.Party,
		Constraints: body.Constraints,
		Proposal: conflict.Proposal{
			DirectiveID: body.DirectiveID,
			Attributes:  body.Attributes,
			Rationale:   body.Rationale,
		},
	}
	if err := h.Conflicts.HandlePosition(r.Context(), urlParam(r, "id"), pos); err != nil {
		writeDomainError(w, err, "conflict not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "applied"})
}

// QueryAudit returns audit entries matching the query parameters.
func (h *Handlers) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		DirectiveID: q.Get("directive_id"),
		Action:      audit.Action(q.Get("action")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	entries, err := h.Auditor.Query(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err, "audit log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Health reports component liveness: peer channel, audit sink, workers.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	var workers []string
	for _, wk := range h.Registry.Workers() {
		workers = append(workers, wk.Name())
	}

	status := http.StatusOK
	peerConnected := h.Peer != nil && h.Peer.Connected()
	degraded := h.Auditor.Degraded()
	if !peerConnected || degraded {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"peer_connected": peerConnected,
		"audit_degraded": degraded,
		"workers":        workers,
	})
}
