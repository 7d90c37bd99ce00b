package approval

import (
	"errors"
	"testing"
	"time"

	"github.com/afcen/overseer/internal/domain"
	"github.com/afcen/overseer/internal/domain/directive"
)

func pendingRequest(t *testing.T, now time.Time) *Request {
	t.Helper()
	req, err := New("r1", "d1", "deploy service x", directive.RiskHigh, nil, now, time.Hour)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return req
}

func TestNewRejectsNonPositiveTimeout(t *testing.T) {
	if _, err := New("r1", "d1", "s", directive.RiskHigh, nil, time.Now(), 0); err == nil {
		t.Fatal("expected error for zero timeout")
	}
	if _, err := New("r1", "d1", "s", directive.RiskHigh, nil, time.Now(), -time.Minute); err == nil {
		t.Fatal("expected error for negative timeout")
	}
}

func TestDecideFromPending(t *testing.T) {
	now := time.Now().UTC()
	req := pendingRequest(t, now)

	if err := req.Decide(DecisionApproved, "looks fine", now.Add(time.Minute)); err != nil {
		t.Fatalf("decide: %v", err)
	}
	if req.State != StateApproved || req.Rationale != "looks fine" || req.DecidedAt == nil {
		t.Fatalf("approved transition incomplete: %+v", req)
	}
}

func TestDecideTwiceFails(t *testing.T) {
	now := time.Now().UTC()
	req := pendingRequest(t, now)

	if err := req.Decide(DecisionRejected, "no", now); err != nil {
		t.Fatalf("first decide: %v", err)
	}
	err := req.Decide(DecisionApproved, "actually yes", now)
	if !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
	if req.State != StateRejected {
		t.Fatalf("second decide mutated state to %s", req.State)
	}
}

func TestDecideUnknownDecision(t *testing.T) {
	now := time.Now().UTC()
	req := pendingRequest(t, now)

	err := req.Decide("maybe", "", now)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if req.State != StatePending {
		t.Fatalf("invalid decision mutated state to %s", req.State)
	}
}

func TestExpireEscalatePair(t *testing.T) {
	now := time.Now().UTC()
	req := pendingRequest(t, now)

	if req.Expire(now.Add(30 * time.Minute)) {
		t.Fatal("expired before the deadline")
	}

	due := now.Add(2 * time.Hour)
	if !req.Expire(due) {
		t.Fatal("did not expire past the deadline")
	}
	if req.State != StateExpired || req.State.Terminal() {
		t.Fatalf("expired must be a non-terminal state, got %s", req.State)
	}

	if !req.Escalate(due) {
		t.Fatal("expired request did not escalate")
	}
	if req.State != StateEscalated || !req.State.Terminal() {
		t.Fatalf("expected terminal escalated, got %s", req.State)
	}

	// No transitions out of a terminal state.
	if req.Expire(due.Add(time.Hour)) || req.Escalate(due.Add(time.Hour)) {
		t.Fatal("terminal request transitioned again")
	}
	if err := req.Decide(DecisionApproved, "", due); !errors.Is(err, domain.ErrAlreadyDecided) {
		t.Fatalf("decide on escalated request: %v", err)
	}
}

func TestEscalateRequiresExpired(t *testing.T) {
	now := time.Now().UTC()
	req := pendingRequest(t, now)

	if req.Escalate(now) {
		t.Fatal("pending request escalated without expiring first")
	}
}
