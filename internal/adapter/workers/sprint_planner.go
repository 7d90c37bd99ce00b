package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/domain/directive"
)

// SprintPlanner handles status_update directives: it folds progress
// signals into the running sprint picture and flags blockers.
type SprintPlanner struct {
	deadline time.Duration
}

// NewSprintPlanner creates the status worker.
func NewSprintPlanner() *SprintPlanner {
	return &SprintPlanner{deadline: 30 * time.Second}
}

func (w *SprintPlanner) Name() string { return "sprint_planner" }

func (w *SprintPlanner) AcceptedTypes() []directive.Type {
	return []directive.Type{directive.TypeStatusUpdate}
}

func (w *SprintPlanner) Deadline() time.Duration { return w.deadline }

func (w *SprintPlanner) Invoke(ctx context.Context, d directive.Directive) (*capability.Result, error) {
	status := payloadOr(d.Payload, "status", "unknown")
	blockers := d.Payload["blockers"]

	data := map[string]string{
		"status":   status,
		"reporter": string(d.Origin),
	}
	health := "on_track"
	if blockers != "" {
		health = "at_risk"
		for i, b := range strings.Split(blockers, ",") {
			data[fmt.Sprintf("blocker_%d", i+1)] = strings.TrimSpace(b)
		}
	}
	data["health"] = health

	summary := fmt.Sprintf("status %s recorded", status)
	if d.TargetResource != "" {
		summary = fmt.Sprintf("status %s recorded for %s", status, d.TargetResource)
	}
	return &capability.Result{Summary: summary, Data: data}, nil
}
