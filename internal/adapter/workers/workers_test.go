package workers

import (
	"context"
	"testing"

	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/domain/directive"
)

func TestAllCoversEveryDirectiveType(t *testing.T) {
	registry, err := capability.NewRegistry(All()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	for typ := range directive.KnownTypes {
		if _, ok := registry.Lookup(typ); !ok {
			t.Fatalf("no worker registered for %s", typ)
		}
	}
}

func TestCodeReviewVerdicts(t *testing.T) {
	w := NewCodeReview()

	if _, err := w.Invoke(context.Background(), directive.Directive{ID: "d1"}); err == nil {
		t.Fatal("expected error without diff_summary")
	}

	clean, err := w.Invoke(context.Background(), directive.Directive{
		ID:             "d1",
		TargetResource: "repo/pr-7",
		Payload:        map[string]string{"diff_summary": "fix nil check", "tests": "updated"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if clean.Data["verdict"] != "approve" {
		t.Fatalf("clean change verdict = %s", clean.Data["verdict"])
	}

	messy, err := w.Invoke(context.Background(), directive.Directive{
		ID:      "d2",
		Payload: map[string]string{"diff_summary": "WIP, TODO finish handling", "lines_changed": "4200"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if messy.Data["verdict"] != "request_changes" {
		t.Fatalf("messy change verdict = %s", messy.Data["verdict"])
	}
	if messy.Data["finding_1"] == "" {
		t.Fatal("findings missing from result data")
	}
}

func TestMarketScannerSections(t *testing.T) {
	w := NewMarketScanner()

	res, err := w.Invoke(context.Background(), directive.Directive{
		ID: "d1",
		Payload: map[string]string{
			"topics": "llm_tooling, hiring",
			"period": "last_30d",
			"hiring": "three senior roles open",
		},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Data["section_hiring"] != "three senior roles open" {
		t.Fatalf("fetched context not folded into section: %v", res.Data)
	}
	if res.Data["section_llm_tooling"] == "" {
		t.Fatal("topic without context gets no placeholder section")
	}
	if res.Data["period"] != "last_30d" {
		t.Fatalf("period = %s", res.Data["period"])
	}
}

func TestArchitectureAdvisorRecommendation(t *testing.T) {
	w := NewArchitectureAdvisor()

	if _, err := w.Invoke(context.Background(), directive.Directive{ID: "d1"}); err == nil {
		t.Fatal("expected error without options")
	}

	res, err := w.Invoke(context.Background(), directive.Directive{
		ID: "d1",
		Payload: map[string]string{
			"options":        "monolith, services, serverless",
			"score_services": "8",
			"score_monolith": "5",
		},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Data["recommendation"] != "services" {
		t.Fatalf("recommendation = %s", res.Data["recommendation"])
	}

	// Without scores the choice is alphabetical, so reruns agree.
	res, err = w.Invoke(context.Background(), directive.Directive{
		ID:      "d2",
		Payload: map[string]string{"options": "redis,postgres"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Data["recommendation"] != "postgres" {
		t.Fatalf("tie-break recommendation = %s", res.Data["recommendation"])
	}
}

func TestSprintPlannerFlagsBlockers(t *testing.T) {
	w := NewSprintPlanner()

	res, err := w.Invoke(context.Background(), directive.Directive{
		ID:      "d1",
		Origin:  directive.OriginWorker,
		Payload: map[string]string{"status": "in_progress", "blockers": "flaky ci, waiting on design"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Data["health"] != "at_risk" {
		t.Fatalf("health = %s", res.Data["health"])
	}
	if res.Data["blocker_1"] != "flaky ci" || res.Data["blocker_2"] != "waiting on design" {
		t.Fatalf("blockers not split: %v", res.Data)
	}

	res, err = w.Invoke(context.Background(), directive.Directive{
		ID:      "d2",
		Payload: map[string]string{"status": "done"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Data["health"] != "on_track" {
		t.Fatalf("health without blockers = %s", res.Data["health"])
	}
}

func TestDevOpsRequiresAction(t *testing.T) {
	w := NewDevOps()

	if _, err := w.Invoke(context.Background(), directive.Directive{ID: "d1"}); err == nil {
		t.Fatal("expected error without action")
	}

	res, err := w.Invoke(context.Background(), directive.Directive{
		ID:             "d1",
		TargetResource: "svc/api",
		Payload:        map[string]string{"action": "rollback", "runbook": "RB-12"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Data["action"] != "rollback" || res.Data["runbook"] != "RB-12" {
		t.Fatalf("result data: %v", res.Data)
	}
}
