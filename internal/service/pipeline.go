package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/afcen/overseer/internal/adapter/otel"
	"github.com/afcen/overseer/internal/adapter/ws"
	"github.com/afcen/overseer/internal/config"
	"github.com/afcen/overseer/internal/domain/audit"
	"github.com/afcen/overseer/internal/domain/capability"
	"github.com/afcen/overseer/internal/domain/directive"
	"github.com/afcen/overseer/internal/domain/message"
	"github.com/afcen/overseer/internal/port/database"
	"github.com/afcen/overseer/internal/port/ledger"
	"github.com/afcen/overseer/internal/resilience"
)

// ContextSource supplies the episodic context a worker needs before it can
// act on a directive.
type ContextSource interface {
	Fetch(ctx context.Context, d directive.Directive) (map[string]string, error)
}

// Responder delivers a directive response back over the peer bus.
type Responder interface {
	SendResponse(ctx context.Context, recipient string, resp message.Response) error
}

// PipelineService executes a dispatched directive through five stages:
// fetch context, compute, validate, persist, report. Fetch is the only
// retried stage; once the result is validated the remaining failures are
// recorded, never retried, to keep persistence exactly-once.
type PipelineService struct {
	source       ContextSource
	fetchBreaker *resilience.Breaker
	ledger       ledger.Ledger
	store        database.Store
	router       *RouterService
	auditor      *AuditService
	responder    Responder
	hub          *ws.Hub
	metrics      *otel.Metrics
	sem          *semaphore.Weighted
	cfg          config.Pipeline
	now          func() time.Time
}

// NewPipelineService creates the pipeline. MaxConcurrent bounds the compute
// stage across all workers.
func NewPipelineService(source ContextSource, fetchBreaker *resilience.Breaker, led ledger.Ledger, store database.Store, router *RouterService, auditor *AuditService, hub *ws.Hub, metrics *otel.Metrics, cfg config.Pipeline) *PipelineService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &PipelineService{
		source:       source,
		fetchBreaker: fetchBreaker,
		ledger:       led,
		store:        store,
		router:       router,
		auditor:      auditor,
		hub:          hub,
		metrics:      metrics,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:          cfg,
		now:          time.Now,
	}
}

// SetResponder wires the outbound peer channel, used by the report stage.
func (s *PipelineService) SetResponder(r Responder) { s.responder = r }

// Run drives one directive through the pipeline. It is called on its own
// goroutine; all outcomes are absorbed into the directive record.
func (s *PipelineService) Run(ctx context.Context, d directive.Directive, w capability.Worker) {
	start := s.now()

	enriched, err := s.fetchContext(ctx, d)
	if err != nil {
		slog.Error("context fetch exhausted", "directive_id", d.ID, "error", err)
		s.fail(ctx, d, directive.OutcomeRejected, ReasonContextUnavailable, start)
		return
	}

	result, err := s.compute(ctx, enriched, w)
	if err != nil {
		cause := err.Error()
		if ctx.Err() == nil && isDeadline(err) {
			cause = ReasonTimeout
		}
		slog.Error("worker invocation failed", "directive_id", d.ID, "worker", w.Name(), "error", err)
		s.fail(ctx, d, directive.OutcomeFailed, cause, start)
		return
	}

	if err := validateResult(result); err != nil {
		s.fail(ctx, d, directive.OutcomeFailed, "invalid result: "+err.Error(), start)
		return
	}

	result, err = s.persist(ctx, d, result)
	if err != nil {
		s.fail(ctx, d, directive.OutcomeFailed, "persist: "+err.Error(), start)
		return
	}

	s.report(ctx, d, result, start)
}

// fetchContext retrieves invocation context with bounded retries and
// exponential backoff, behind the shared breaker. The fetched entries are
// merged into the payload without clobbering the directive's own keys.
func (s *PipelineService) fetchContext(ctx context.Context, d directive.Directive) (directive.Directive, error) {
	var fetched map[string]string
	backoff := s.cfg.FetchBackoff
	attempts := s.cfg.FetchRetries
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return d, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = s.fetchBreaker.Execute(func() error {
			var fetchErr error
			fetched, fetchErr = s.source.Fetch(ctx, d)
			return fetchErr
		})
		if err == nil {
			break
		}
		slog.Warn("context fetch attempt failed", "directive_id", d.ID, "attempt", i+1, "error", err)
	}
	if err != nil {
		return d, err
	}

	if len(fetched) > 0 {
		merged := make(map[string]string, len(d.Payload)+len(fetched))
		for k, v := range fetched {
			merged[k] = v
		}
		for k, v := range d.Payload {
			merged[k] = v
		}
		d.Payload = merged
	}
	return d, nil
}

// compute invokes the worker under the global concurrency limit and the
// worker's own deadline.
func (s *PipelineService) compute(ctx context.Context, d directive.Directive, w capability.Worker) (*capability.Result, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire compute slot: %w", err)
	}
	defer s.sem.Release(1)

	deadline := w.Deadline()
	if deadline <= 0 {
		deadline = s.cfg.ComputeTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type outcome struct {
		result *capability.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := w.Invoke(cctx, d)
		done <- outcome{res, err}
	}()

	select {
	case <-cctx.Done():
		return nil, cctx.Err()
	case out := <-done:
		return out.result, out.err
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// validateResult checks the worker output against the result contract.
func validateResult(r *capability.Result) error {
	if r == nil {
		return fmt.Errorf("worker returned no result")
	}
	if r.Summary == "" {
		return fmt.Errorf("result summary is empty")
	}
	for k := range r.Data {
		if k == "" {
			return fmt.Errorf("result data contains an empty key")
		}
	}
	return nil
}

// persist writes the completed outcome exactly once, guarded by a ledger
// claim keyed on the directive id. A duplicate claim replays the recorded
// result instead of writing again.
func (s *PipelineService) persist(ctx context.Context, d directive.Directive, result *capability.Result) (*capability.Result, error) {
	claim, prior, err := s.ledger.Claim(ctx, "persist:"+d.ID)
	if err != nil {
		return nil, fmt.Errorf("claim persist key: %w", err)
	}

	if claim == ledger.Duplicate {
		if len(prior) > 0 {
			var recorded capability.Result
			if err := json.Unmarshal(prior, &recorded); err == nil {
				return &recorded, nil
			}
		}
		return result, nil
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	err = s.store.RecordDirectiveOutcome(ctx, &database.DirectiveOutcome{
		Directive:  d,
		Outcome:    directive.OutcomeCompleted,
		Cause:      result.Summary,
		RecordedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("record outcome: %w", err)
	}

	if err := s.ledger.Record(ctx, "persist:"+d.ID, encoded); err != nil {
		slog.Warn("record persist result", "directive_id", d.ID, "error", err)
	}
	return result, nil
}

// report closes out a completed directive: release the resource, answer
// the origin when a response was required, and emit observability signals.
func (s *PipelineService) report(ctx context.Context, d directive.Directive, result *capability.Result, start time.Time) {
	s.router.unregister(d.ID)

	if d.RequiresResponse && d.Origin == directive.OriginPeer && s.responder != nil {
		resp := message.Response{
			ResponseTo: d.ID,
			Status:     message.StatusCompleted,
			Result:     result.Data,
		}
		if resp.Result == nil {
			resp.Result = map[string]string{}
		}
		resp.Result["summary"] = result.Summary
		if err := s.responder.SendResponse(ctx, string(directive.OriginPeer), resp); err != nil {
			slog.Error("send directive response", "directive_id", d.ID, "error", err)
		}
	}

	s.auditor.Log(ctx, audit.ActionDirectiveCompleted, d.ID, "pipeline", result.Summary)
	s.observe(ctx, d, string(directive.OutcomeCompleted), start)
}

// fail records a terminal failure and answers the origin when required.
func (s *PipelineService) fail(ctx context.Context, d directive.Directive, outcome directive.Outcome, cause string, start time.Time) {
	s.auditor.Log(ctx, audit.ActionDirectiveFailed, d.ID, "pipeline", cause)
	s.router.Terminate(ctx, d, outcome, cause)

	if d.RequiresResponse && d.Origin == directive.OriginPeer && s.responder != nil {
		status := message.StatusFailed
		if outcome == directive.OutcomeRejected {
			status = message.StatusRejected
		}
		err := s.responder.SendResponse(ctx, string(directive.OriginPeer), message.Response{
			ResponseTo: d.ID,
			Status:     status,
			Error:      cause,
		})
		if err != nil {
			slog.Error("send failure response", "directive_id", d.ID, "error", err)
		}
	}

	s.observe(ctx, d, string(outcome), start)
}

func (s *PipelineService) observe(ctx context.Context, d directive.Directive, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.PipelineDuration.Record(ctx, s.now().Sub(start).Seconds())
	}
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventDirectiveRouted, ws.DirectiveEvent{
			DirectiveID: d.ID, Type: string(d.Type), Outcome: outcome,
		})
	}
}
