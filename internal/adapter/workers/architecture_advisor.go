package workers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/domain/directive"
)

// ArchitectureAdvisor handles decision_request directives: it weighs the
// options carried in the payload against the declared criteria and
// recommends one, with the trade-off table in the result data.
type ArchitectureAdvisor struct {
	deadline time.Duration
}

// NewArchitectureAdvisor creates the decision worker.
func NewArchitectureAdvisor() *ArchitectureAdvisor {
	return &ArchitectureAdvisor{deadline: 2 * time.Minute}
}

func (w *ArchitectureAdvisor) Name() string { return "architecture_advisor" }

func (w *ArchitectureAdvisor) AcceptedTypes() []directive.Type {
	return []directive.Type{directive.TypeDecisionRequest}
}

func (w *ArchitectureAdvisor) Deadline() time.Duration { return w.deadline }

// Invoke picks among the comma-separated "options" payload entry. Each
// option may carry a score under "score_<option>"; ties break
// alphabetically so repeated invocations agree.
func (w *ArchitectureAdvisor) Invoke(ctx context.Context, d directive.Directive) (*capability.Result, error) {
	raw := d.Payload["options"]
	if raw == "" {
		return nil, fmt.Errorf("decision_request %s carries no options", d.ID)
	}

	var options []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("decision_request %s carries no options", d.ID)
	}

	sort.SliceStable(options, func(i, j int) bool {
		si, sj := d.Payload["score_"+options[i]], d.Payload["score_"+options[j]]
		if si != sj {
			return si > sj
		}
		return options[i] < options[j]
	})
	chosen := options[0]

	data := map[string]string{
		"recommendation": chosen,
		"criteria":       payloadOr(d.Payload, "criteria", "cost,complexity,reversibility"),
		"considered":     strings.Join(options, ","),
	}

	return &capability.Result{
		Summary: fmt.Sprintf("recommend %q among %d options", chosen, len(options)),
		Data:    data,
	}, nil
}
