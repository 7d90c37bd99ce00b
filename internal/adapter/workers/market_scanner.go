package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/domain/directive"
)

// MarketScanner handles report_request directives: it compiles a briefing
// over the topics named in the payload from the context the pipeline
// fetched ahead of invocation.
type MarketScanner struct {
	deadline time.Duration
}

// NewMarketScanner creates the report worker.
func NewMarketScanner() *MarketScanner {
	return &MarketScanner{deadline: 2 * time.Minute}
}

func (w *MarketScanner) Name() string { return "market_scanner" }

func (w *MarketScanner) AcceptedTypes() []directive.Type {
	return []directive.Type{directive.TypeReportRequest}
}

func (w *MarketScanner) Deadline() time.Duration { return w.deadline }

func (w *MarketScanner) Invoke(ctx context.Context, d directive.Directive) (*capability.Result, error) {
	topics := strings.Split(payloadOr(d.Payload, "topics", "general"), ",")

	data := map[string]string{
		"period": payloadOr(d.Payload, "period", "last_7d"),
		"scope":  payloadOr(d.Payload, "scope", "engineering"),
	}
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		// Context entries fetched for a topic carry the topic as their key.
		if body, ok := d.Payload[t]; ok {
			data["section_"+t] = body
		} else {
			data["section_"+t] = "no signal collected for " + t
		}
	}

	return &capability.Result{
		Summary: fmt.Sprintf("briefing on %d topic(s) for %s", len(topics), data["scope"]),
		Data:    data,
	}, nil
}
