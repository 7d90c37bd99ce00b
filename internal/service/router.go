package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/afcen/overseer/internal/adapter/otel"
	"github.com/afcen/overseer/internal/adapter/ws"
	"github.com/afcen/overseer/internal/domain/audit"
	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/domain/directive"
	"github.com/afcen/overseer/internal/port/database"
)

// Routing outcome statuses.
type RouteStatus string

const (
	RouteDispatched     RouteStatus = "dispatched"
	RouteApprovalOpened RouteStatus = "approval_opened"
	RouteConflictOpened RouteStatus = "conflict_opened"
	RouteRejected       RouteStatus = "rejected"
)

// Rejection reasons surfaced to the origin.
const (
	ReasonUnrecognizedDirective = "unrecognized_directive"
	ReasonNoCapableWorker       = "no_capable_worker"
	ReasonContextUnavailable    = "context_unavailable"
	ReasonTimeout               = "timeout"
)

// RoutingOutcome is the result of routing one directive.
type RoutingOutcome struct {
	Status     RouteStatus `json:"status"`
	Worker     string      `json:"worker,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
	ConflictID string      `json:"conflict_id,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// flight tracks one non-terminal directive. contested freezes dispatch
// while a conflict over the directive is open; dispatched guards against a
// directive ever reaching its worker twice.
type flight struct {
	d          directive.Directive
	contested  bool
	dispatched bool
}

// RouterService owns the directive lifecycle up to dispatch: validation,
// conflict detection, risk gating, and capability lookup.
type RouterService struct {
	registry  *capability.Registry
	store     database.Store
	auditor   *AuditService
	approvals *ApprovalService
	conflicts *ConflictService
	pipeline  *PipelineService
	hub       *ws.Hub
	metrics   *otel.Metrics
	now       func() time.Time

	// mu guards the in-flight tables. The collision check and the
	// registration of a new directive form one critical section, so two
	// directives targeting the same resource cannot both race past step 2.
	// No I/O happens under mu.
	mu         sync.Mutex
	inflight   map[string]*flight   // directive id -> flight
	byResource map[string][]*flight // target_resource -> flights
}

// NewRouterService creates the router. Approval, conflict, and pipeline
// services are wired afterwards via setters because they call back into
// the router on completion.
func NewRouterService(registry *capability.Registry, store database.Store, auditor *AuditService, hub *ws.Hub, metrics *otel.Metrics) *RouterService {
	return &RouterService{
		registry:   registry,
		store:      store,
		auditor:    auditor,
		hub:        hub,
		metrics:    metrics,
		now:        time.Now,
		inflight:   make(map[string]*flight),
		byResource: make(map[string][]*flight),
	}
}

// SetApprovals wires the approval service.
func (s *RouterService) SetApprovals(a *ApprovalService) { s.approvals = a }

// SetConflicts wires the conflict service.
func (s *RouterService) SetConflicts(c *ConflictService) { s.conflicts = c }

// SetPipeline wires the invocation pipeline.
func (s *RouterService) SetPipeline(p *PipelineService) { s.pipeline = p }

// Route consumes one directive and returns its routing outcome.
// Conflict detection takes precedence over risk gating: a pending conflict
// must resolve before there is a definite action to gate.
func (s *RouterService) Route(ctx context.Context, d directive.Directive) (*RoutingOutcome, error) {
	if err := d.Validate(); err != nil {
		s.reject(ctx, d, ReasonUnrecognizedDirective, err.Error())
		return &RoutingOutcome{Status: RouteRejected, Reason: ReasonUnrecognizedDirective}, nil
	}

	other, collided := s.register(d)
	if collided {
		rec, err := s.conflicts.Open(ctx, other, d)
		if err != nil {
			// Roll back the partial registration: the incoming directive
			// terminates and the existing one must not stay frozen behind
			// a conflict that was never recorded.
			s.clearContested(other.ID)
			s.auditor.Log(ctx, audit.ActionDirectiveFailed, d.ID, "router", "conflict open: "+err.Error())
			s.Terminate(ctx, d, directive.OutcomeFailed, "conflict open failed")
			return nil, fmt.Errorf("open conflict for %s: %w", d.ID, err)
		}
		s.auditor.Log(ctx, audit.ActionConflictOpened, d.ID, "router",
			fmt.Sprintf("resource %s contested with %s", d.TargetResource, other.ID))
		if s.metrics != nil {
			s.metrics.ConflictsOpened.Add(ctx, 1)
		}
		return &RoutingOutcome{Status: RouteConflictOpened, ConflictID: rec.ConflictID}, nil
	}

	return s.gateAndDispatch(ctx, d)
}

// gateAndDispatch runs risk classification and capability lookup. It is
// also the re-entry point for a directive that won its conflict.
func (s *RouterService) gateAndDispatch(ctx context.Context, d directive.Directive) (*RoutingOutcome, error) {
	if directive.ClassifyRisk(&d) == directive.RiskHigh {
		req, err := s.approvals.Open(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("open approval for %s: %w", d.ID, err)
		}
		return &RoutingOutcome{Status: RouteApprovalOpened, RequestID: req.RequestID}, nil
	}

	return s.dispatch(ctx, d)
}

// dispatch hands the directive to its registered worker via the pipeline.
func (s *RouterService) dispatch(ctx context.Context, d directive.Directive) (*RoutingOutcome, error) {
	worker, ok := s.registry.Lookup(d.Type)
	if !ok {
		s.reject(ctx, d, ReasonNoCapableWorker, string(d.Type))
		return &RoutingOutcome{Status: RouteRejected, Reason: ReasonNoCapableWorker}, nil
	}

	// A concurrent collision may have contested this directive between
	// registration and here; in that case the conflict resolution decides
	// whether it ever runs.
	if !s.tryMarkDispatched(d.ID) {
		return &RoutingOutcome{Status: RouteConflictOpened}, nil
	}

	s.auditor.Log(ctx, audit.ActionDirectiveDispatched, d.ID, "router", worker.Name())
	if s.metrics != nil {
		s.metrics.DirectivesRouted.Add(ctx, 1)
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventDirectiveRouted, ws.DirectiveEvent{
			DirectiveID: d.ID, Type: string(d.Type), Outcome: string(RouteDispatched), Worker: worker.Name(),
		})
	}

	go s.pipeline.Run(context.WithoutCancel(ctx), d, worker)

	return &RoutingOutcome{Status: RouteDispatched, Worker: worker.Name()}, nil
}

// register adds d to the in-flight tables. When another not-yet-dispatched
// directive from a different origin holds the same resource with an
// incompatible effect, both are returned for conflict opening. The check
// and the insert are atomic.
func (s *RouterService) register(d directive.Directive) (other directive.Directive, collided bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := &flight{d: d}

	if d.TargetResource != "" {
		for _, existing := range s.byResource[d.TargetResource] {
			// A dispatched directive is already executing; conflict
			// detection only covers directives that have not reached a
			// worker yet.
			if existing.dispatched {
				continue
			}
			if existing.d.Origin != d.Origin && directive.Incompatible(&existing.d, &d) {
				other, collided = existing.d, true
				existing.contested = true
				f.contested = true
				break
			}
		}
	}

	s.inflight[d.ID] = f
	if d.TargetResource != "" {
		s.byResource[d.TargetResource] = append(s.byResource[d.TargetResource], f)
	}
	return other, collided
}

// tryMarkDispatched flips the dispatch guard. It fails when the directive
// left flight, is contested, or was already dispatched.
func (s *RouterService) tryMarkDispatched(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.inflight[id]
	if !ok || f.contested || f.dispatched {
		return false
	}
	f.dispatched = true
	return true
}

// clearContested re-arms dispatch for a directive whose conflict settled
// in its favor.
func (s *RouterService) clearContested(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.inflight[id]; ok {
		f.contested = false
	}
}

// unregister removes a directive from the in-flight tables.
func (s *RouterService) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.inflight[id]
	if !ok {
		return
	}
	delete(s.inflight, id)

	res := f.d.TargetResource
	if res == "" {
		return
	}
	flights := s.byResource[res]
	for i, e := range flights {
		if e == f {
			s.byResource[res] = append(flights[:i], flights[i+1:]...)
			break
		}
	}
	if len(s.byResource[res]) == 0 {
		delete(s.byResource, res)
	}
}

// Inflight returns the in-flight directive with the given id.
func (s *RouterService) Inflight(id string) (directive.Directive, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.inflight[id]
	if !ok {
		return directive.Directive{}, false
	}
	return f.d, true
}

// Terminate records a directive's terminal state and releases its resource.
func (s *RouterService) Terminate(ctx context.Context, d directive.Directive, outcome directive.Outcome, cause string) {
	s.unregister(d.ID)

	err := s.store.RecordDirectiveOutcome(ctx, &database.DirectiveOutcome{
		Directive:  d,
		Outcome:    outcome,
		Cause:      cause,
		RecordedAt: s.now().UTC(),
	})
	if err != nil {
		slog.Error("record directive outcome", "directive_id", d.ID, "outcome", outcome, "error", err)
	}
}

// reject terminates a directive at the boundary.
func (s *RouterService) reject(ctx context.Context, d directive.Directive, reason, details string) {
	s.auditor.Log(ctx, audit.ActionDirectiveRejected, d.ID, "router", reason+": "+details)
	if s.metrics != nil {
		s.metrics.DirectivesRejected.Add(ctx, 1)
	}
	s.Terminate(ctx, d, directive.OutcomeRejected, reason)
}

// ResolveApproval is the callback the approval service invokes once a
// request leaves pending. Approved directives proceed into the pipeline;
// rejected ones terminate; escalation without a human response fails the
// directive while arbitration continues out of band.
func (s *RouterService) ResolveApproval(ctx context.Context, directiveID string, outcome directive.Outcome, rationale string) {
	if s.conflicts != nil && s.conflicts.ResolveEscalated(ctx, directiveID, outcome, rationale) {
		return
	}

	d, ok := s.Inflight(directiveID)
	if !ok {
		slog.Warn("approval resolved for unknown directive", "directive_id", directiveID)
		return
	}

	switch outcome {
	case directive.OutcomeApproved:
		if _, err := s.dispatch(ctx, d); err != nil {
			slog.Error("dispatch after approval", "directive_id", directiveID, "error", err)
		}
	case directive.OutcomeRejected:
		s.auditor.Log(ctx, audit.ActionDirectiveRejected, d.ID, "human", rationale)
		s.Terminate(ctx, d, directive.OutcomeRejected, rationale)
	case directive.OutcomeFailed:
		s.auditor.Log(ctx, audit.ActionDirectiveFailed, d.ID, "sweep", "approval expired without decision")
		s.Terminate(ctx, d, directive.OutcomeFailed, "approval timeout")
	default:
		slog.Warn("unexpected approval outcome", "directive_id", directiveID, "outcome", outcome)
	}
}

// ResolveConflict is the callback the conflict service invokes on a
// terminal conflict. The winner re-enters gating; the loser is superseded.
func (s *RouterService) ResolveConflict(ctx context.Context, winner, loser directive.Directive) {
	s.auditor.Log(ctx, audit.ActionDirectiveSuperseded, loser.ID, "conflict", "superseded by "+winner.ID)
	s.Terminate(ctx, loser, directive.OutcomeSuperseded, "superseded by "+winner.ID)

	s.clearContested(winner.ID)
	if _, err := s.gateAndDispatch(ctx, winner); err != nil {
		slog.Error("dispatch conflict winner", "directive_id", winner.ID, "error", err)
	}
}
