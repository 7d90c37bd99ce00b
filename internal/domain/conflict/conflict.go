// Package conflict models two directives competing over the same target
// resource with incompatible effects, and the bounded debate protocol that
// resolves or escalates them.
package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/afcen/overseer/internal/domain/directive"
)

// State is the lifecycle state of a conflict record.
type State string

const (
	StateDebating  State = "debating"
	StateResolved  State = "resolved"
	StateEscalated State = "escalated"
)

// Terminal reports whether the record accepts no further transitions.
func (s State) Terminal() bool { return s == StateResolved || s == StateEscalated }

// Proposal is a directive a party puts forward as the way out of the
// conflict, with the attributes it claims that directive has.
type Proposal struct {
	DirectiveID string            `json:"directive_id"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Rationale   string            `json:"rationale,omitempty"`
}

// Position is one party's current stance: hard constraints any resolution
// must satisfy, plus the party's own proposal.
type Position struct {
	Party       string            `json:"party"`
	Constraints map[string]string `json:"constraints,omitempty"`
	Proposal    Proposal          `json:"proposal"`
	RevisedAt   time.Time         `json:"revised_at"`
}

// Satisfies reports whether the proposal's declared attributes meet every
// constraint in want.
func (p Proposal) Satisfies(want map[string]string) bool {
	for k, v := range want {
		if p.Attributes[k] != v {
			return false
		}
	}
	return true
}

// Record tracks one conflict between two directives.
type Record struct {
	ConflictID string              `json:"conflict_id"`
	DirectiveA directive.Directive `json:"directive_a"`
	DirectiveB directive.Directive `json:"directive_b"`
	Positions  map[string]Position `json:"positions"`
	Round      int                 `json:"round"`
	MaxRounds  int                 `json:"max_rounds"`
	State      State               `json:"state"`
	Resolution string              `json:"resolution,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty"`
}

// New opens a conflict record in the debating state. Each party starts by
// proposing its own directive; its constraints are the "require_" entries
// declared in that directive's payload.
func New(conflictID string, a, b directive.Directive, maxRounds int, now time.Time) *Record {
	r := &Record{
		ConflictID: conflictID,
		DirectiveA: a,
		DirectiveB: b,
		MaxRounds:  maxRounds,
		State:      StateDebating,
		CreatedAt:  now,
		Positions:  make(map[string]Position, 2),
	}
	r.Positions[string(a.Origin)] = initialPosition(a, now)
	r.Positions[string(b.Origin)] = initialPosition(b, now)
	return r
}

// initialPosition builds a party's opening stance from its directive.
// Payload keys prefixed "require_" become hard constraints; the rest are
// the attributes the proposal claims.
func initialPosition(d directive.Directive, now time.Time) Position {
	constraints := make(map[string]string)
	for k, v := range d.Payload {
		if strings.HasPrefix(k, "require_") {
			constraints[strings.TrimPrefix(k, "require_")] = v
		}
	}
	return Position{
		Party:       string(d.Origin),
		Constraints: constraints,
		Proposal:    Proposal{DirectiveID: d.ID, Attributes: d.Payload},
		RevisedAt:   now,
	}
}

// Revise replaces a party's position for the next round.
func (r *Record) Revise(p Position, now time.Time) error {
	if r.State.Terminal() {
		return fmt.Errorf("conflict %s is %s", r.ConflictID, r.State)
	}
	if _, ok := r.Positions[p.Party]; !ok {
		return fmt.Errorf("party %q is not part of conflict %s", p.Party, r.ConflictID)
	}
	p.RevisedAt = now
	r.Positions[p.Party] = p
	return nil
}

// directiveByID maps a proposal back to one of the two conflicting
// directives for tie-breaking. Unknown proposals get zero-value metadata.
func (r *Record) directiveByID(id string) directive.Directive {
	if r.DirectiveA.ID == id {
		return r.DirectiveA
	}
	if r.DirectiveB.ID == id {
		return r.DirectiveB
	}
	return directive.Directive{ID: id}
}

// CheckCompatibility runs the deterministic compatibility check over the
// current positions. A proposal is viable when it satisfies the other
// party's constraints. Among viable proposals the winner is chosen by the
// proposed directive's priority, then earliest created_at, then directive
// ID for full determinism.
func (r *Record) CheckCompatibility() (resolutionID string, ok bool) {
	parties := make([]string, 0, len(r.Positions))
	for party := range r.Positions {
		parties = append(parties, party)
	}
	sort.Strings(parties)
	if len(parties) != 2 {
		return "", false
	}

	a, b := r.Positions[parties[0]], r.Positions[parties[1]]

	var viable []Proposal
	if a.Proposal.Satisfies(b.Constraints) {
		viable = append(viable, a.Proposal)
	}
	if b.Proposal.Satisfies(a.Constraints) {
		viable = append(viable, b.Proposal)
	}
	if len(viable) == 0 {
		return "", false
	}

	sort.SliceStable(viable, func(i, j int) bool {
		di, dj := r.directiveByID(viable[i].DirectiveID), r.directiveByID(viable[j].DirectiveID)
		if di.Priority != dj.Priority {
			return di.Priority > dj.Priority
		}
		if !di.CreatedAt.Equal(dj.CreatedAt) {
			return di.CreatedAt.Before(dj.CreatedAt)
		}
		return di.ID < dj.ID
	})
	return viable[0].DirectiveID, true
}

// Advance runs one debate round: check compatibility, and either resolve,
// increment the round, or escalate once rounds are exhausted.
// Returns the state after the step.
func (r *Record) Advance(now time.Time) State {
	if r.State.Terminal() {
		return r.State
	}

	if id, ok := r.CheckCompatibility(); ok {
		r.State = StateResolved
		r.Resolution = id
		r.ResolvedAt = &now
		return r.State
	}

	if r.Round >= r.MaxRounds {
		r.State = StateEscalated
		r.ResolvedAt = &now
		return r.State
	}

	r.Round++
	return r.State
}

// Loser returns the conflicting directive that was not chosen as the
// resolution. Only meaningful on a resolved record.
func (r *Record) Loser() directive.Directive {
	if r.Resolution == r.DirectiveA.ID {
		return r.DirectiveB
	}
	return r.DirectiveA
}
