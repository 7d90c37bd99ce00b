package capability

import (
	"context"
	"testing"
	"time"

	"github.com/afcen/overseer/internal/domain/directive"
)

type stubWorker struct {
	name  string
	types []directive.Type
}

func (w stubWorker) Name() string                    { return w.name }
func (w stubWorker) AcceptedTypes() []directive.Type { return w.types }
func (w stubWorker) Deadline() time.Duration         { return time.Second }
func (w stubWorker) Invoke(context.Context, directive.Directive) (*Result, error) {
	return &Result{Summary: w.name}, nil
}

func TestRegistryLookup(t *testing.T) {
	r, err := NewRegistry(
		stubWorker{name: "code_review", types: []directive.Type{directive.TypeReviewRequest}},
		stubWorker{name: "market_scanner", types: []directive.Type{directive.TypeReportRequest, directive.TypeStatusUpdate}},
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	w, ok := r.Lookup(directive.TypeReportRequest)
	if !ok || w.Name() != "market_scanner" {
		t.Fatalf("lookup report_request: ok=%v worker=%v", ok, w)
	}
	if _, ok := r.Lookup(directive.TypeEscalation); ok {
		t.Fatal("lookup for unregistered type succeeded")
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	_, err := NewRegistry(stubWorker{name: "rogue", types: []directive.Type{"mine_bitcoin"}})
	if err == nil {
		t.Fatal("expected error for unknown directive type")
	}
}

func TestRegistryRejectsDuplicateClaim(t *testing.T) {
	_, err := NewRegistry(
		stubWorker{name: "first", types: []directive.Type{directive.TypeReviewRequest}},
		stubWorker{name: "second", types: []directive.Type{directive.TypeReviewRequest}},
	)
	if err == nil {
		t.Fatal("expected error for a doubly claimed type")
	}
}

func TestRegistryWorkersDeduplicates(t *testing.T) {
	r, err := NewRegistry(
		stubWorker{name: "market_scanner", types: []directive.Type{directive.TypeReportRequest, directive.TypeStatusUpdate}},
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if got := r.Workers(); len(got) != 1 {
		t.Fatalf("expected 1 distinct worker, got %d", len(got))
	}
}
