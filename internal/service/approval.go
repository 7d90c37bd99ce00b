package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/afcen/overseer/internal/adapter/otel"
	"github.com/afcen/overseer/internal/adapter/ws"
	"github.com/afcen/overseer/internal/config"
	"github.com/afcen/overseer/internal/domain"
	"github.com/afcen/overseer/internal/domain/approval"
	"github.com/afcen/overseer/internal/domain/audit"
	"github.com/afcen/overseer/internal/domain/directive"
	"github.com/afcen/overseer/internal/port/database"
	"github.com/afcen/overseer/internal/port/messagebus"
	"github.com/afcen/overseer/internal/port/notifier"
)

// ApprovalPublisher pushes approval requests onto the durable human channel.
type ApprovalPublisher interface {
	PublishApproval(ctx context.Context, body messagebus.ApprovalBody) error
}

// ApprovalService owns the HITL checkpoint lifecycle: opening requests for
// high-risk directives, applying human decisions, and the timeout sweep
// that escalates unanswered requests.
type ApprovalService struct {
	store     database.Store
	router    *RouterService
	auditor   *AuditService
	hub       *ws.Hub
	metrics   *otel.Metrics
	notifiers []notifier.Notifier
	publisher ApprovalPublisher
	cfg       config.Approval
	now       func() time.Time
}

// NewApprovalService creates the approval service.
func NewApprovalService(store database.Store, router *RouterService, auditor *AuditService, hub *ws.Hub, metrics *otel.Metrics, notifiers []notifier.Notifier, cfg config.Approval) *ApprovalService {
	return &ApprovalService{
		store:     store,
		router:    router,
		auditor:   auditor,
		hub:       hub,
		metrics:   metrics,
		notifiers: notifiers,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Open creates a pending approval request for a gated directive and
// surfaces it to human operators.
func (s *ApprovalService) Open(ctx context.Context, d directive.Directive) (*approval.Request, error) {
	return s.open(ctx, d, summarize(d), alternatives(d), "info")
}

// OpenEscalation creates an approval request carrying the full context of
// an unresolved conflict, raised at urgent level.
func (s *ApprovalService) OpenEscalation(ctx context.Context, d directive.Directive, summary string, options []string) (*approval.Request, error) {
	return s.open(ctx, d, summary, options, "urgent")
}

func (s *ApprovalService) open(ctx context.Context, d directive.Directive, summary string, options []string, level string) (*approval.Request, error) {
	req, err := approval.New(uuid.NewString(), d.ID, summary, directive.ClassifyRisk(&d), options, s.now().UTC(), s.cfg.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}

	s.auditor.Log(ctx, audit.ActionApprovalOpened, d.ID, "router", summary)
	if s.metrics != nil {
		s.metrics.ApprovalsOpened.Add(ctx, 1)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventApprovalRequested, approvalEvent(req))
	}
	s.notify(ctx, "Approval required", summary, level)

	if s.publisher != nil {
		err := s.publisher.PublishApproval(ctx, messagebus.ApprovalBody{
			RequestID:     req.RequestID,
			DirectiveID:   d.ID,
			ActionSummary: summary,
			RiskLevel:     string(req.RiskLevel),
			Alternatives:  options,
			Urgent:        level == "urgent",
		})
		if err != nil {
			slog.Error("publish approval request", "request_id", req.RequestID, "error", err)
		}
	}

	return req, nil
}

// SetPublisher wires the durable human channel for approval requests.
func (s *ApprovalService) SetPublisher(p ApprovalPublisher) { s.publisher = p }

// Decide applies a human verdict. Returns domain.ErrAlreadyDecided when
// the request already left pending, domain.ErrNotFound when it does not
// exist.
func (s *ApprovalService) Decide(ctx context.Context, requestID string, decision approval.Decision, rationale, decidedBy string) (*approval.Request, error) {
	req, err := s.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if err := req.Decide(decision, rationale, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.store.UpdateApproval(ctx, req); err != nil {
		return nil, err
	}

	s.auditor.Log(ctx, audit.ActionApprovalDecided, req.RelatedDirectiveID, decidedBy,
		fmt.Sprintf("%s: %s", decision, rationale))
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventApprovalDecided, approvalEvent(req))
	}

	switch req.State {
	case approval.StateApproved:
		s.router.ResolveApproval(ctx, req.RelatedDirectiveID, directive.OutcomeApproved, rationale)
	case approval.StateRejected:
		s.router.ResolveApproval(ctx, req.RelatedDirectiveID, directive.OutcomeRejected, rationale)
	}

	return req, nil
}

// Get returns one approval request.
func (s *ApprovalService) Get(ctx context.Context, requestID string) (*approval.Request, error) {
	return s.store.GetApproval(ctx, requestID)
}

// List returns approval requests, optionally filtered by state.
func (s *ApprovalService) List(ctx context.Context, state approval.State) ([]approval.Request, error) {
	return s.store.ListApprovals(ctx, state)
}

// StartSweep runs the timeout sweep until the context is cancelled. Each
// pass moves overdue pending requests through expired to escalated at
// most once, even with concurrent sweeps: the store update is guarded so
// a lost race surfaces as ErrAlreadyDecided and is skipped.
func (s *ApprovalService) StartSweep(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ApprovalService) sweep(ctx context.Context) {
	now := s.now().UTC()
	due, err := s.store.ListDueApprovals(ctx, now)
	if err != nil {
		slog.Error("list due approvals", "error", err)
		return
	}

	for i := range due {
		req := &due[i]
		if !req.Expire(now) || !req.Escalate(now) {
			continue
		}
		if err := s.store.UpdateApproval(ctx, req); err != nil {
			if errors.Is(err, domain.ErrAlreadyDecided) {
				continue // decided or escalated by a concurrent actor
			}
			slog.Error("escalate approval", "request_id", req.RequestID, "error", err)
			continue
		}

		s.auditor.Log(ctx, audit.ActionApprovalEscalated, req.RelatedDirectiveID, "sweep",
			"no decision before "+req.TimeoutAt.Format(time.RFC3339))
		if s.metrics != nil {
			s.metrics.ApprovalsEscalated.Add(ctx, 1)
		}
		if s.hub != nil {
			s.hub.BroadcastEvent(ctx, ws.EventApprovalEscalated, approvalEvent(req))
		}
		s.notify(ctx, "Approval escalated", req.ActionSummary, "urgent")

		s.router.ResolveApproval(ctx, req.RelatedDirectiveID, directive.OutcomeFailed, "approval timeout")
	}
}

func (s *ApprovalService) notify(ctx context.Context, title, msg, level string) {
	for _, n := range s.notifiers {
		if err := n.Send(ctx, notifier.Notification{
			Title:   title,
			Message: msg,
			Level:   level,
			Source:  "overseer.approvals",
		}); err != nil && !errors.Is(err, notifier.ErrNotConfigured) {
			slog.Warn("approval notification failed", "notifier", n.Name(), "error", err)
		}
	}
}

func approvalEvent(req *approval.Request) ws.ApprovalEvent {
	return ws.ApprovalEvent{
		RequestID:     req.RequestID,
		DirectiveID:   req.RelatedDirectiveID,
		ActionSummary: req.ActionSummary,
		RiskLevel:     string(req.RiskLevel),
		Alternatives:  req.Alternatives,
		State:         string(req.State),
	}
}

// summarize builds the human-readable action summary for a directive.
func summarize(d directive.Directive) string {
	var b strings.Builder
	b.WriteString(string(d.Type))
	if action := d.Payload["action"]; action != "" {
		b.WriteString(": ")
		b.WriteString(action)
	}
	if d.TargetResource != "" {
		b.WriteString(" on ")
		b.WriteString(d.TargetResource)
	}
	return b.String()
}

// alternatives reads operator-suggested options out of the payload.
func alternatives(d directive.Directive) []string {
	raw := d.Payload["alternatives"]
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
