package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/afcen/overseer/internal/config"
	"github.com/afcen/overseer/internal/domain/approval"
	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/domain/conflict"
	"github.com/afcen/overseer/internal/domain/directive"
	"github.com/afcen/overseer/internal/resilience"
)

// stack bundles a fully wired service graph over in-memory fakes.
type stack struct {
	router    *RouterService
	pipeline  *PipelineService
	approvals *ApprovalService
	conflicts *ConflictService
	store     *mockStore
	sink      *mockSink
	ledger    *mockLedger
	source    *mockSource
}

func newStack(t *testing.T, workers ...capability.Worker) *stack {
	t.Helper()

	registry, err := capability.NewRegistry(workers...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	store := newMockStore()
	sink := &mockSink{}
	led := newMockLedger()
	source := &mockSource{}
	auditor := testAuditor(sink)

	router := NewRouterService(registry, store, auditor, nil, nil)
	pipeline := NewPipelineService(source, resilience.NewBreaker(100, time.Minute), led, store,
		router, auditor, nil, nil,
		config.Pipeline{MaxConcurrent: 4, FetchRetries: 3, FetchBackoff: time.Millisecond, ComputeTimeout: time.Second})
	approvals := NewApprovalService(store, router, auditor, nil, nil, nil,
		config.Approval{DefaultTimeout: time.Hour, SweepInterval: time.Hour})
	conflicts := NewConflictService(store, router, approvals, auditor, nil,
		config.Conflict{MaxRounds: 2})

	router.SetPipeline(pipeline)
	router.SetApprovals(approvals)
	router.SetConflicts(conflicts)

	return &stack{
		router: router, pipeline: pipeline, approvals: approvals, conflicts: conflicts,
		store: store, sink: sink, ledger: led, source: source,
	}
}

// reviewWorker invokes with a small delay so tests exercising in-flight
// collisions have a stable window to collide in.
func reviewWorker() *mockWorker {
	return &mockWorker{
		name:     "code_review",
		types:    []directive.Type{directive.TypeReviewRequest},
		deadline: time.Second,
		invoke: func(ctx context.Context, _ directive.Directive) (*capability.Result, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(30 * time.Millisecond):
			}
			return &capability.Result{Summary: "review done"}, nil
		},
	}
}

func testDirective(id string, typ directive.Type, origin directive.Origin) directive.Directive {
	return directive.Directive{
		ID:        id,
		Type:      typ,
		Origin:    origin,
		Priority:  directive.PriorityNormal,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRouteRejectsUnrecognizedType(t *testing.T) {
	s := newStack(t, reviewWorker())

	d := testDirective("d1", "launch_missiles", directive.OriginHuman)
	out, err := s.router.Route(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != RouteRejected || out.Reason != ReasonUnrecognizedDirective {
		t.Fatalf("expected unrecognized_directive rejection, got %+v", out)
	}
	if outcome, ok := s.store.outcomeOf("d1"); !ok || outcome != directive.OutcomeRejected {
		t.Fatalf("expected rejected outcome recorded, got %q ok=%v", outcome, ok)
	}
}

func TestRouteRejectsWithoutCapableWorker(t *testing.T) {
	s := newStack(t, reviewWorker()) // nothing registered for report_request

	d := testDirective("d1", directive.TypeReportRequest, directive.OriginHuman)
	out, err := s.router.Route(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != RouteRejected || out.Reason != ReasonNoCapableWorker {
		t.Fatalf("expected no_capable_worker rejection, got %+v", out)
	}
}

func TestRouteDispatchesToPipeline(t *testing.T) {
	w := reviewWorker()
	s := newStack(t, w)

	d := testDirective("d1", directive.TypeReviewRequest, directive.OriginHuman)
	d.TargetResource = "repo/pr-7"
	d.Payload = map[string]string{"diff_summary": "small fix"}

	out, err := s.router.Route(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != RouteDispatched || out.Worker != "code_review" {
		t.Fatalf("expected dispatch to code_review, got %+v", out)
	}

	if !waitFor(func() bool {
		outcome, ok := s.store.outcomeOf("d1")
		return ok && outcome == directive.OutcomeCompleted
	}, time.Second) {
		t.Fatal("directive never completed")
	}
	if w.invocations() != 1 {
		t.Fatalf("expected 1 invocation, got %d", w.invocations())
	}
	if _, inflight := s.router.Inflight("d1"); inflight {
		t.Fatal("completed directive still registered in flight")
	}
}

func TestHighRiskDirectiveGatesBehindApproval(t *testing.T) {
	w := reviewWorker()
	s := newStack(t, w)

	d := testDirective("d1", directive.TypeReviewRequest, directive.OriginHuman)
	d.Payload = map[string]string{"action": "merge", "diff_summary": "x"}

	out, err := s.router.Route(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Status != RouteApprovalOpened || out.RequestID == "" {
		t.Fatalf("expected approval_opened, got %+v", out)
	}

	// The worker must not run before the human decides.
	time.Sleep(20 * time.Millisecond)
	if w.invocations() != 0 {
		t.Fatalf("high-risk directive dispatched before approval: %d invocations", w.invocations())
	}

	if _, err := s.approvals.Decide(context.Background(), out.RequestID, approval.DecisionApproved, "looks fine", "alice"); err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !waitFor(func() bool {
		outcome, ok := s.store.outcomeOf("d1")
		return ok && outcome == directive.OutcomeCompleted
	}, time.Second) {
		t.Fatal("approved directive never completed")
	}
}

func TestRejectedDirectiveNeverDispatches(t *testing.T) {
	w := reviewWorker()
	s := newStack(t, w)

	d := testDirective("d1", directive.TypeReviewRequest, directive.OriginHuman)
	d.Payload = map[string]string{"action": "deploy"}

	out, err := s.router.Route(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.approvals.Decide(context.Background(), out.RequestID, approval.DecisionRejected, "too risky", "alice"); err != nil {
		t.Fatalf("decide: %v", err)
	}

	outcome, ok := s.store.outcomeOf("d1")
	if !ok || outcome != directive.OutcomeRejected {
		t.Fatalf("expected rejected outcome, got %q ok=%v", outcome, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if w.invocations() != 0 {
		t.Fatalf("rejected directive reached the worker: %d invocations", w.invocations())
	}
}

func TestConcurrentCollisionOpensSingleConflict(t *testing.T) {
	s := newStack(t, reviewWorker())

	mk := func(id string, origin directive.Origin) directive.Directive {
		d := testDirective(id, directive.TypeReviewRequest, origin)
		d.TargetResource = "repo/pr-42"
		d.Payload = map[string]string{"diff_summary": "x"}
		return d
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.router.Route(context.Background(), mk("d-human", directive.OriginHuman))
	}()
	go func() {
		defer wg.Done()
		_, _ = s.router.Route(context.Background(), mk("d-peer", directive.OriginPeer))
	}()
	wg.Wait()

	recs, err := s.store.ListConflicts(context.Background(), "")
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	// Either the second arrival caught the first before dispatch (one
	// conflict) or the first was already executing (none); two records
	// would mean both raced past the collision check.
	if len(recs) > 1 {
		t.Fatalf("collision produced %d conflict records", len(recs))
	}
	if len(recs) == 1 && recs[0].State != conflict.StateResolved {
		t.Fatalf("constraint-free collision should resolve at round 0, got %s", recs[0].State)
	}

	for _, id := range []string{"d-human", "d-peer"} {
		if !waitFor(func() bool {
			_, ok := s.store.outcomeOf(id)
			return ok
		}, time.Second) {
			t.Fatalf("%s never reached a terminal outcome", id)
		}
	}
}

func TestSameOriginSameResourceDoesNotConflict(t *testing.T) {
	s := newStack(t, reviewWorker())

	for _, id := range []string{"d1", "d2"} {
		d := testDirective(id, directive.TypeReviewRequest, directive.OriginHuman)
		d.TargetResource = "repo/pr-9"
		d.Payload = map[string]string{"diff_summary": "x"}
		if _, err := s.router.Route(context.Background(), d); err != nil {
			t.Fatalf("route %s: %v", id, err)
		}
	}

	recs, _ := s.store.ListConflicts(context.Background(), "")
	if len(recs) != 0 {
		t.Fatalf("same-origin collision opened a conflict: %d records", len(recs))
	}
}

func TestExecutingDirectiveIsPastConflictDetection(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	w := &mockWorker{
		name:     "code_review",
		types:    []directive.Type{directive.TypeReviewRequest},
		deadline: time.Second,
		invoke: func(ctx context.Context, _ directive.Directive) (*capability.Result, error) {
			close(started)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-release:
			}
			return &capability.Result{Summary: "review done"}, nil
		},
	}
	s := newStack(t, w)

	a := testDirective("d-a", directive.TypeReviewRequest, directive.OriginHuman)
	a.TargetResource = "repo/pr-42"
	a.Payload = map[string]string{"diff_summary": "x"}
	if _, err := s.router.Route(context.Background(), a); err != nil {
		t.Fatalf("route d-a: %v", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("d-a never reached its worker")
	}

	// d-a is executing: an incompatible late arrival must not contest it.
	b := testDirective("d-b", directive.TypeReviewRequest, directive.OriginPeer)
	b.TargetResource = "repo/pr-42"
	b.Priority = directive.PriorityUrgent
	b.Payload = map[string]string{"diff_summary": "y"}
	out, err := s.router.Route(context.Background(), b)
	if err != nil {
		t.Fatalf("route d-b: %v", err)
	}
	if out.Status == RouteConflictOpened {
		t.Fatalf("conflict opened against an executing directive: %+v", out)
	}
	if recs, _ := s.store.ListConflicts(context.Background(), ""); len(recs) != 0 {
		t.Fatalf("expected no conflict records, got %d", len(recs))
	}

	close(release)
	if !waitFor(func() bool {
		outcome, ok := s.store.outcomeOf("d-a")
		return ok && outcome == directive.OutcomeCompleted
	}, time.Second) {
		outcome, _ := s.store.outcomeOf("d-a")
		t.Fatalf("executing directive did not complete cleanly, outcome=%q", outcome)
	}
}

func TestConflictOpenFailureReleasesBothDirectives(t *testing.T) {
	w := reviewWorker()
	s := newStack(t, w)
	s.store.createConflictErr = context.DeadlineExceeded

	// d-a gates behind approval, so it is registered but not dispatched.
	a := testDirective("d-a", directive.TypeReviewRequest, directive.OriginHuman)
	a.TargetResource = "repo/pr-42"
	a.Payload = map[string]string{"action": "merge", "diff_summary": "x"}
	outA, err := s.router.Route(context.Background(), a)
	if err != nil {
		t.Fatalf("route d-a: %v", err)
	}
	if outA.Status != RouteApprovalOpened {
		t.Fatalf("expected approval_opened for d-a, got %+v", outA)
	}

	b := testDirective("d-b", directive.TypeReviewRequest, directive.OriginPeer)
	b.TargetResource = "repo/pr-42"
	b.Payload = map[string]string{"diff_summary": "y"}
	if _, err := s.router.Route(context.Background(), b); err == nil {
		t.Fatal("expected conflict open failure to surface")
	}

	// The failed arrival terminates instead of lingering in flight.
	if outcome, ok := s.store.outcomeOf("d-b"); !ok || outcome != directive.OutcomeFailed {
		t.Fatalf("expected failed outcome for d-b, got %q ok=%v", outcome, ok)
	}
	if _, inflight := s.router.Inflight("d-b"); inflight {
		t.Fatal("failed directive still registered in flight")
	}

	// The gated directive is released: approving it dispatches normally.
	if _, err := s.approvals.Decide(context.Background(), outA.RequestID, approval.DecisionApproved, "go ahead", "alice"); err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !waitFor(func() bool {
		outcome, ok := s.store.outcomeOf("d-a")
		return ok && outcome == directive.OutcomeCompleted
	}, time.Second) {
		outcome, ok := s.store.outcomeOf("d-a")
		t.Fatalf("approved directive never completed, outcome=%q ok=%v", outcome, ok)
	}
}

func TestReadOnlyCollisionIsCompatible(t *testing.T) {
	s := newStack(t, &mockWorker{name: "market_scanner", types: []directive.Type{directive.TypeReportRequest}, deadline: time.Second})

	a := testDirective("d1", directive.TypeReportRequest, directive.OriginHuman)
	a.TargetResource = "svc/api"
	b := testDirective("d2", directive.TypeReportRequest, directive.OriginPeer)
	b.TargetResource = "svc/api"

	for _, d := range []directive.Directive{a, b} {
		out, err := s.router.Route(context.Background(), d)
		if err != nil {
			t.Fatalf("route %s: %v", d.ID, err)
		}
		if out.Status != RouteDispatched {
			t.Fatalf("read-only directive %s not dispatched: %+v", d.ID, out)
		}
	}
}
