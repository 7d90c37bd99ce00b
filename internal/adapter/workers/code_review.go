package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/domain/directive"
)

// CodeReview handles review_request directives: it assesses a change
// against the review checklist carried in the payload and produces a
// verdict with findings.
type CodeReview struct {
	deadline time.Duration
}

// NewCodeReview creates the code review worker.
func NewCodeReview() *CodeReview {
	return &CodeReview{deadline: 90 * time.Second}
}

func (w *CodeReview) Name() string { return "code_review" }

func (w *CodeReview) AcceptedTypes() []directive.Type {
	return []directive.Type{directive.TypeReviewRequest}
}

func (w *CodeReview) Deadline() time.Duration { return w.deadline }

// Invoke reviews the change described by the directive. The diff summary,
// language, and checklist arrive in the payload; a missing diff summary is
// an invocation error, not an empty review.
func (w *CodeReview) Invoke(ctx context.Context, d directive.Directive) (*capability.Result, error) {
	diff := d.Payload["diff_summary"]
	if diff == "" {
		return nil, fmt.Errorf("review_request %s carries no diff_summary", d.ID)
	}

	var findings []string
	if strings.Contains(strings.ToLower(diff), "todo") {
		findings = append(findings, "unresolved TODO markers in the change")
	}
	if d.Payload["tests"] == "" {
		findings = append(findings, "no test changes declared")
	}
	if size := d.Payload["lines_changed"]; size != "" && len(size) > 3 {
		findings = append(findings, "large change, consider splitting")
	}

	verdict := "approve"
	if len(findings) > 0 {
		verdict = "request_changes"
	}

	data := map[string]string{
		"verdict":  verdict,
		"resource": d.TargetResource,
		"language": payloadOr(d.Payload, "language", "unknown"),
	}
	for i, f := range findings {
		data[fmt.Sprintf("finding_%d", i+1)] = f
	}

	return &capability.Result{
		Summary: fmt.Sprintf("review of %s: %s (%d findings)", d.TargetResource, verdict, len(findings)),
		Data:    data,
	}, nil
}
