package service

import (
	"context"
	"sync"
	"time"

	"github.com/afcen/overseer/internal/domain"
	"github.com/afcen/overseer/internal/domain/approval"
	"github.com/afcen/overseer/internal/domain/audit"
	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/domain/conflict"
	"github.com/afcen/overseer/internal/domain/directive"
	"github.com/afcen/overseer/internal/domain/message"
	"github.com/afcen/overseer/internal/port/database"
	"github.com/afcen/overseer/internal/port/ledger"
	"github.com/afcen/overseer/internal/port/messagebus"
	"github.com/afcen/overseer/internal/resilience"
)

// mockStore implements database.Store in memory.
type mockStore struct {
	mu        sync.Mutex
	outcomes  map[string]*database.DirectiveOutcome
	approvals map[string]*approval.Request
	conflicts map[string]*conflict.Record

	createApprovalErr error
	createConflictErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		outcomes:  make(map[string]*database.DirectiveOutcome),
		approvals: make(map[string]*approval.Request),
		conflicts: make(map[string]*conflict.Record),
	}
}

func (s *mockStore) RecordDirectiveOutcome(_ context.Context, out *database.DirectiveOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.outcomes[out.Directive.ID]; exists {
		return nil // first write wins, like the ON CONFLICT DO NOTHING insert
	}
	cp := *out
	s.outcomes[out.Directive.ID] = &cp
	return nil
}

func (s *mockStore) GetDirectiveOutcome(_ context.Context, id string) (*database.DirectiveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outcomes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *out
	return &cp, nil
}

func (s *mockStore) outcomeOf(id string) (directive.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outcomes[id]
	if !ok {
		return "", false
	}
	return out.Outcome, true
}

func (s *mockStore) CreateApproval(_ context.Context, req *approval.Request) error {
	if s.createApprovalErr != nil {
		return s.createApprovalErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.approvals[req.RequestID] = &cp
	return nil
}

func (s *mockStore) GetApproval(_ context.Context, id string) (*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.approvals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *mockStore) UpdateApproval(_ context.Context, req *approval.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.approvals[req.RequestID]
	if !ok {
		return domain.ErrNotFound
	}
	// Same guard as the SQL update: only pending/expired rows transition.
	if prev.State != approval.StatePending && prev.State != approval.StateExpired {
		return domain.ErrAlreadyDecided
	}
	cp := *req
	s.approvals[req.RequestID] = &cp
	return nil
}

func (s *mockStore) ListApprovals(_ context.Context, state approval.State) ([]approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []approval.Request
	for _, req := range s.approvals {
		if state == "" || req.State == state {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (s *mockStore) ListDueApprovals(_ context.Context, now time.Time) ([]approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []approval.Request
	for _, req := range s.approvals {
		if req.State == approval.StatePending && !now.Before(req.TimeoutAt) {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (s *mockStore) CreateConflict(_ context.Context, rec *conflict.Record) error {
	if s.createConflictErr != nil {
		return s.createConflictErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.conflicts[rec.ConflictID] = &cp
	return nil
}

func (s *mockStore) GetConflict(_ context.Context, id string) (*conflict.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conflicts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *mockStore) UpdateConflict(_ context.Context, rec *conflict.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.conflicts[rec.ConflictID]
	if !ok {
		return domain.ErrNotFound
	}
	if prev.State.Terminal() {
		return domain.ErrAlreadyDecided
	}
	cp := *rec
	s.conflicts[rec.ConflictID] = &cp
	return nil
}

func (s *mockStore) ListConflicts(_ context.Context, state conflict.State) ([]conflict.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conflict.Record
	for _, rec := range s.conflicts {
		if state == "" || rec.State == state {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// mockSink implements auditlog.Sink in memory.
type mockSink struct {
	mu        sync.Mutex
	entries   []audit.Entry
	appendErr error
}

func (s *mockSink) Append(_ context.Context, e *audit.Entry) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *mockSink) Query(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if f.DirectiveID != "" && e.DirectiveID != f.DirectiveID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *mockSink) count(action audit.Action) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// mockLedger implements ledger.Ledger with an atomic in-memory claim.
type mockLedger struct {
	mu       sync.Mutex
	claims   map[string][]byte
	claimErr error
}

func newMockLedger() *mockLedger {
	return &mockLedger{claims: make(map[string][]byte)}
}

func (l *mockLedger) Claim(_ context.Context, key string) (ledger.Claim, []byte, error) {
	if l.claimErr != nil {
		return ledger.Duplicate, nil, l.claimErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if result, ok := l.claims[key]; ok {
		return ledger.Duplicate, result, nil
	}
	l.claims[key] = nil
	return ledger.FirstSeen, nil, nil
}

func (l *mockLedger) Record(_ context.Context, key string, result []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.claims[key] = result
	return nil
}

// mockBus implements messagebus.Bus, capturing sends and letting tests
// inject inbound envelopes through the registered handler.
type mockBus struct {
	mu      sync.Mutex
	sent    []message.Envelope
	handler messagebus.Handler
	sendErr error
}

func (b *mockBus) Send(_ context.Context, env *message.Envelope) error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	env.Seq = uint64(len(b.sent) + 1)
	b.sent = append(b.sent, *env)
	return nil
}

func (b *mockBus) Receive(_ context.Context, _ string, h messagebus.Handler) (func(), error) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
	return func() {}, nil
}

func (b *mockBus) Drain() error      { return nil }
func (b *mockBus) Close() error      { return nil }
func (b *mockBus) IsConnected() bool { return true }

func (b *mockBus) deliver(ctx context.Context, env *message.Envelope) error {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	return h(ctx, env)
}

func (b *mockBus) sentEnvelopes() []message.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]message.Envelope, len(b.sent))
	copy(out, b.sent)
	return out
}

// mockWorker implements capability.Worker.
type mockWorker struct {
	name     string
	types    []directive.Type
	deadline time.Duration
	invoke   func(ctx context.Context, d directive.Directive) (*capability.Result, error)

	mu      sync.Mutex
	invoked []directive.Directive
}

func (w *mockWorker) Name() string                    { return w.name }
func (w *mockWorker) AcceptedTypes() []directive.Type { return w.types }
func (w *mockWorker) Deadline() time.Duration         { return w.deadline }

func (w *mockWorker) Invoke(ctx context.Context, d directive.Directive) (*capability.Result, error) {
	w.mu.Lock()
	w.invoked = append(w.invoked, d)
	w.mu.Unlock()
	if w.invoke != nil {
		return w.invoke(ctx, d)
	}
	return &capability.Result{Summary: w.name + " done"}, nil
}

func (w *mockWorker) invocations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.invoked)
}

// mockSource implements ContextSource.
type mockSource struct {
	mu      sync.Mutex
	calls   int
	failFor int // first failFor calls return an error
	fetched map[string]string
}

func (s *mockSource) Fetch(_ context.Context, _ directive.Directive) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFor {
		return nil, context.DeadlineExceeded
	}
	return s.fetched, nil
}

// testAuditor builds an audit service writing to the given sink.
func testAuditor(sink *mockSink) *AuditService {
	return NewAuditService(sink, resilience.NewBreaker(100, time.Minute), nil, nil)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
