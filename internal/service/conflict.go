package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afcen/overseer/internal/adapter/ws"
	"github.com/afcen/overseer/internal/config"
	"github.com/afcen/overseer/internal/domain/audit"
	"github.com/afcen/overseer/internal/domain/conflict"
	"github.com/afcen/overseer/internal/domain/directive"
	"github.com/afcen/overseer/internal/port/database"
)

// ConflictService runs the bounded debate protocol between the two origins
// of colliding directives: open, revise positions, advance rounds, and
// either resolve deterministically or escalate to a human.
type ConflictService struct {
	store     database.Store
	router    *RouterService
	approvals *ApprovalService
	auditor   *AuditService
	hub       *ws.Hub
	cfg       config.Conflict
	now       func() time.Time

	// mu serializes debate advancement so two position messages for the
	// same conflict cannot both resolve it. The store update is guarded as
	// well, so a crash between the two leaves at most one transition.
	mu sync.Mutex

	// escalatedByDirective maps a directive awaiting human arbitration back
	// to its escalated conflict, so the approval decision can settle both
	// sides.
	escalatedByDirective map[string]string
}

// NewConflictService creates the conflict service.
func NewConflictService(store database.Store, router *RouterService, approvals *ApprovalService, auditor *AuditService, hub *ws.Hub, cfg config.Conflict) *ConflictService {
	return &ConflictService{
		store:                store,
		router:               router,
		approvals:            approvals,
		auditor:              auditor,
		hub:                  hub,
		cfg:                  cfg,
		now:                  time.Now,
		escalatedByDirective: make(map[string]string),
	}
}

// Open creates a conflict record for two colliding directives. The static
// authority table is consulted first: categories with a declared authority
// are never debated. Otherwise round zero runs the compatibility check
// immediately, which settles constraint-free collisions by priority.
func (s *ConflictService) Open(ctx context.Context, a, b directive.Directive) (*conflict.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec := conflict.New(uuid.NewString(), a, b, s.cfg.MaxRounds, now)

	switch rec.DeclaredAuthority() {
	case conflict.AuthorityHuman:
		rec.State = conflict.StateEscalated
		rec.ResolvedAt = &now
		if err := s.store.CreateConflict(ctx, rec); err != nil {
			return nil, fmt.Errorf("create conflict: %w", err)
		}
		s.escalate(ctx, rec)
		return rec, nil

	case conflict.AuthorityPeer:
		winner, loser := b, a
		if a.Origin == directive.OriginPeer {
			winner, loser = a, b
		}
		rec.State = conflict.StateResolved
		rec.Resolution = winner.ID
		rec.ResolvedAt = &now
		if err := s.store.CreateConflict(ctx, rec); err != nil {
			return nil, fmt.Errorf("create conflict: %w", err)
		}
		s.auditor.Log(ctx, audit.ActionConflictResolved, winner.ID, "authority",
			"peer holds authority over "+rec.ConflictID)
		s.broadcast(ctx, ws.EventConflictResolved, rec)
		go s.router.ResolveConflict(context.WithoutCancel(ctx), winner, loser)
		return rec, nil
	}

	state := rec.Advance(now)
	if err := s.store.CreateConflict(ctx, rec); err != nil {
		return nil, fmt.Errorf("create conflict: %w", err)
	}
	s.broadcast(ctx, ws.EventConflictOpened, rec)

	switch state {
	case conflict.StateResolved:
		s.finalize(ctx, rec)
	case conflict.StateEscalated:
		s.escalate(ctx, rec)
	}
	return rec, nil
}

// HandlePosition applies one party's revised position and advances the
// debate a round. Positions for terminal conflicts are ignored.
func (s *ConflictService) HandlePosition(ctx context.Context, conflictID string, pos conflict.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}
	if rec.State.Terminal() {
		slog.Debug("position for settled conflict ignored", "conflict_id", conflictID, "party", pos.Party)
		return nil
	}

	now := s.now().UTC()
	if err := rec.Revise(pos, now); err != nil {
		return err
	}

	state := rec.Advance(now)
	if err := s.store.UpdateConflict(ctx, rec); err != nil {
		return err
	}

	switch state {
	case conflict.StateResolved:
		s.finalize(ctx, rec)
	case conflict.StateEscalated:
		s.escalate(ctx, rec)
	}
	return nil
}

// Get returns one conflict record.
func (s *ConflictService) Get(ctx context.Context, conflictID string) (*conflict.Record, error) {
	return s.store.GetConflict(ctx, conflictID)
}

// List returns conflict records, optionally filtered by state.
func (s *ConflictService) List(ctx context.Context, state conflict.State) ([]conflict.Record, error) {
	return s.store.ListConflicts(ctx, state)
}

// finalize settles a resolved conflict: the chosen directive re-enters
// gating, the other is superseded.
func (s *ConflictService) finalize(ctx context.Context, rec *conflict.Record) {
	winner := rec.DirectiveA
	if rec.Resolution == rec.DirectiveB.ID {
		winner = rec.DirectiveB
	}
	loser := rec.Loser()

	s.auditor.Log(ctx, audit.ActionConflictResolved, winner.ID, "debate",
		fmt.Sprintf("conflict %s resolved in round %d", rec.ConflictID, rec.Round))
	s.broadcast(ctx, ws.EventConflictResolved, rec)

	go s.router.ResolveConflict(context.WithoutCancel(ctx), winner, loser)
}

// escalate hands an undecidable conflict to a human with both parties'
// full positions. The approval is opened against the incoming directive;
// the decision settles both sides via ResolveEscalated.
func (s *ConflictService) escalate(ctx context.Context, rec *conflict.Record) {
	s.auditor.Log(ctx, audit.ActionConflictEscalated, rec.DirectiveB.ID, "debate",
		fmt.Sprintf("conflict %s unresolved after %d rounds", rec.ConflictID, rec.Round))
	s.broadcast(ctx, ws.EventConflictResolved, rec)

	s.escalatedByDirective[rec.DirectiveB.ID] = rec.ConflictID

	summary := escalationSummary(rec)
	options := []string{
		"approve: proceed with " + rec.DirectiveB.ID,
		"reject: keep " + rec.DirectiveA.ID,
	}
	if _, err := s.approvals.OpenEscalation(ctx, rec.DirectiveB, summary, options); err != nil {
		slog.Error("open escalation approval", "conflict_id", rec.ConflictID, "error", err)
	}
}

// ResolveEscalated settles an escalated conflict once its approval request
// is decided. Returns false when the directive is not conflict-bound, so
// the caller can handle the decision as an ordinary risk-gate approval.
func (s *ConflictService) ResolveEscalated(ctx context.Context, directiveID string, outcome directive.Outcome, rationale string) bool {
	s.mu.Lock()
	conflictID, bound := s.escalatedByDirective[directiveID]
	if bound {
		delete(s.escalatedByDirective, directiveID)
	}
	s.mu.Unlock()
	if !bound {
		return false
	}

	rec, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		slog.Error("load escalated conflict", "conflict_id", conflictID, "error", err)
		return true
	}

	switch outcome {
	case directive.OutcomeApproved:
		s.settle(ctx, rec, rec.DirectiveB, rec.DirectiveA, rationale)
	case directive.OutcomeRejected:
		s.settle(ctx, rec, rec.DirectiveA, rec.DirectiveB, rationale)
	default:
		// Arbitration never happened; neither side may proceed.
		s.auditor.Log(ctx, audit.ActionDirectiveFailed, rec.DirectiveA.ID, "sweep", "conflict arbitration timed out")
		s.router.Terminate(ctx, rec.DirectiveA, directive.OutcomeFailed, "conflict arbitration timeout")
		s.router.Terminate(ctx, rec.DirectiveB, directive.OutcomeFailed, "conflict arbitration timeout")
	}
	return true
}

// settle dispatches the human-chosen winner directly: the human decision
// already covers the risk gate.
func (s *ConflictService) settle(ctx context.Context, rec *conflict.Record, winner, loser directive.Directive, rationale string) {
	s.auditor.Log(ctx, audit.ActionConflictResolved, winner.ID, "human",
		fmt.Sprintf("conflict %s arbitrated: %s", rec.ConflictID, rationale))

	s.router.Terminate(ctx, loser, directive.OutcomeSuperseded, "superseded by "+winner.ID)
	s.router.clearContested(winner.ID)
	if _, err := s.router.dispatch(ctx, winner); err != nil {
		slog.Error("dispatch arbitrated winner", "directive_id", winner.ID, "error", err)
	}
}

func (s *ConflictService) broadcast(ctx context.Context, event string, rec *conflict.Record) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, event, ws.ConflictEvent{
		ConflictID: rec.ConflictID,
		DirectiveA: rec.DirectiveA.ID,
		DirectiveB: rec.DirectiveB.ID,
		State:      string(rec.State),
		Round:      rec.Round,
		Resolution: rec.Resolution,
	})
}

// escalationSummary renders both parties' stances for the approval card.
func escalationSummary(rec *conflict.Record) string {
	out := fmt.Sprintf("conflict over %s: %s (%s) vs %s (%s)",
		rec.DirectiveA.TargetResource,
		rec.DirectiveA.ID, rec.DirectiveA.Origin,
		rec.DirectiveB.ID, rec.DirectiveB.Origin)
	for _, pos := range rec.Positions {
		if pos.Proposal.Rationale != "" {
			out += fmt.Sprintf("; %s: %s", pos.Party, pos.Proposal.Rationale)
		}
	}
	return out
}
