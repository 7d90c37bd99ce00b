package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afcen/overseer/internal/adapter/otel"
	"github.com/afcen/overseer/internal/adapter/ws"
	"github.com/afcen/overseer/internal/domain/audit"
	"github.com/afcen/overseer/internal/domain/directive"
	"github.com/afcen/overseer/internal/domain/message"
	"github.com/afcen/overseer/internal/port/database"
	"github.com/afcen/overseer/internal/port/ledger"
	"github.com/afcen/overseer/internal/port/messagebus"
)

// awaiting tracks one outbound directive that required a response.
type awaiting struct {
	d      directive.Directive
	sentAt time.Time
}

// PeerService brokers the durable channel with the peer system: it signs
// and sends outbound envelopes, and consumes the inbound side with
// signature verification, gap detection, and ledger-backed dedup.
type PeerService struct {
	bus        messagebus.Bus
	ledger     ledger.Ledger
	store      database.Store
	router     *RouterService
	conflicts  *ConflictService
	auditor    *AuditService
	hub        *ws.Hub
	metrics    *otel.Metrics
	signingKey []byte
	retention  time.Duration
	now        func() time.Time

	mu       sync.Mutex
	lastSeq  map[string]uint64   // highest seq seen per sender
	pending  map[string]awaiting // outbound directives awaiting a response
	cancelRx func()
}

// NewPeerService creates the peer broker. signingKey may be empty, which
// disables envelope MACs on both sides.
func NewPeerService(bus messagebus.Bus, led ledger.Ledger, store database.Store, router *RouterService, conflicts *ConflictService, auditor *AuditService, hub *ws.Hub, metrics *otel.Metrics, signingKey []byte, retention time.Duration) *PeerService {
	return &PeerService{
		bus:        bus,
		ledger:     led,
		store:      store,
		router:     router,
		conflicts:  conflicts,
		auditor:    auditor,
		hub:        hub,
		metrics:    metrics,
		signingKey: signingKey,
		retention:  retention,
		now:        time.Now,
		lastSeq:    make(map[string]uint64),
		pending:    make(map[string]awaiting),
	}
}

// Start subscribes to the inbound side of the channel. Delivery resumes
// from the last acknowledged offset, so an outage replays in order.
func (s *PeerService) Start(ctx context.Context) error {
	cancel, err := s.bus.Receive(ctx, messagebus.PartyCTO, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe inbound: %w", err)
	}
	s.mu.Lock()
	s.cancelRx = cancel
	s.mu.Unlock()
	return nil
}

// Stop cancels the inbound subscription.
func (s *PeerService) Stop() {
	s.mu.Lock()
	cancel := s.cancelRx
	s.cancelRx = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// handle processes one inbound envelope. Malformed or unauthenticated
// envelopes are dropped terminally (acked without a ledger claim, so they
// never block the stream); transient failures are left for redelivery.
func (s *PeerService) handle(ctx context.Context, env *message.Envelope) error {
	if len(s.signingKey) > 0 && !env.Verify(s.signingKey) {
		s.drop(ctx, env, "signature mismatch")
		return nil
	}
	if err := messagebus.ValidateBody(env); err != nil {
		s.drop(ctx, env, err.Error())
		return nil
	}

	s.trackSeq(env)

	claim, _, err := s.ledger.Claim(ctx, env.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("claim %s: %w", env.IdempotencyKey, err)
	}
	if claim == ledger.Duplicate {
		if s.metrics != nil {
			s.metrics.MessagesDeduped.Add(ctx, 1)
		}
		slog.Debug("duplicate peer message skipped", "message_id", env.MessageID, "sender", env.Sender)
		return nil
	}

	switch env.Kind {
	case message.KindDirective:
		s.handleDirective(ctx, env)
	case message.KindResponse:
		s.handleResponse(ctx, env)
	case message.KindPosition:
		s.handlePosition(ctx, env)
	case message.KindApproval:
		s.handleApprovalRequest(ctx, env)
	}
	return nil
}

// trackSeq records the per-sender high-water mark and logs gaps. A gap
// means the retention window dropped messages before we consumed them; the
// stream itself still delivers in order.
func (s *PeerService) trackSeq(env *message.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastSeq[env.Sender]
	if last != 0 && env.Seq > last+1 {
		slog.Warn("sequence gap on peer channel",
			"sender", env.Sender, "expected", last+1, "got", env.Seq)
	}
	if env.Seq > last {
		s.lastSeq[env.Sender] = env.Seq
	}
}

func (s *PeerService) drop(ctx context.Context, env *message.Envelope, reason string) {
	slog.Warn("peer message dropped", "message_id", env.MessageID, "sender", env.Sender, "reason", reason)
	s.auditor.Log(ctx, audit.ActionMessageDropped, "", "peer-channel",
		fmt.Sprintf("message %s from %s: %s", env.MessageID, env.Sender, reason))
}

func (s *PeerService) handleDirective(ctx context.Context, env *message.Envelope) {
	var body messagebus.DirectiveBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		s.drop(ctx, env, "decode directive: "+err.Error())
		return
	}
	d := body.Directive
	d.Origin = directive.OriginPeer

	outcome, err := s.router.Route(ctx, d)
	if err != nil {
		slog.Error("route peer directive", "directive_id", d.ID, "error", err)
		return
	}

	if d.RequiresResponse && outcome.Status == RouteApprovalOpened {
		err := s.SendResponse(ctx, env.Sender, message.Response{
			ResponseTo: d.ID,
			Status:     message.StatusPendingApproval,
			Result:     map[string]string{"request_id": outcome.RequestID},
		})
		if err != nil {
			slog.Error("send interim response", "directive_id", d.ID, "error", err)
		}
	}
	if d.RequiresResponse && outcome.Status == RouteRejected {
		err := s.SendResponse(ctx, env.Sender, message.Response{
			ResponseTo: d.ID,
			Status:     message.StatusRejected,
			Error:      outcome.Reason,
		})
		if err != nil {
			slog.Error("send rejection response", "directive_id", d.ID, "error", err)
		}
	}
}

// handleResponse closes the loop on a directive we sent to the peer.
func (s *PeerService) handleResponse(ctx context.Context, env *message.Envelope) {
	var resp message.Response
	if err := json.Unmarshal(env.Body, &resp); err != nil {
		s.drop(ctx, env, "decode response: "+err.Error())
		return
	}

	s.mu.Lock()
	sent, known := s.pending[resp.ResponseTo]
	if known && resp.Status != message.StatusPendingApproval {
		delete(s.pending, resp.ResponseTo)
	}
	s.mu.Unlock()

	action := audit.ActionDirectiveCompleted
	if resp.Status == message.StatusFailed || resp.Status == message.StatusRejected {
		action = audit.ActionDirectiveFailed
	}
	s.auditor.Log(ctx, action, resp.ResponseTo, env.Sender, string(resp.Status))

	if known && resp.Status != message.StatusPendingApproval {
		outcome := directive.OutcomeCompleted
		switch resp.Status {
		case message.StatusFailed:
			outcome = directive.OutcomeFailed
		case message.StatusRejected:
			outcome = directive.OutcomeRejected
		}
		err := s.store.RecordDirectiveOutcome(ctx, &database.DirectiveOutcome{
			Directive:  sent.d,
			Outcome:    outcome,
			Cause:      string(resp.Status),
			RecordedAt: s.now().UTC(),
		})
		if err != nil {
			slog.Error("record peer directive outcome", "directive_id", sent.d.ID, "error", err)
		}
	}
}

func (s *PeerService) handlePosition(ctx context.Context, env *message.Envelope) {
	var body messagebus.PositionBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		s.drop(ctx, env, "decode position: "+err.Error())
		return
	}
	if err := s.conflicts.HandlePosition(ctx, body.ConflictID, body.Position); err != nil {
		slog.Error("apply peer position", "conflict_id", body.ConflictID, "error", err)
	}
}

// handleApprovalRequest surfaces a peer-side approval ask to the human
// channel without taking over its lifecycle.
func (s *PeerService) handleApprovalRequest(ctx context.Context, env *message.Envelope) {
	var body messagebus.ApprovalBody
	if err := json.Unmarshal(env.Body, &body); err != nil {
		s.drop(ctx, env, "decode approval request: "+err.Error())
		return
	}
	s.auditor.Log(ctx, audit.ActionApprovalOpened, body.DirectiveID, env.Sender, body.ActionSummary)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventApprovalRequested, ws.ApprovalEvent{
			RequestID:     body.RequestID,
			DirectiveID:   body.DirectiveID,
			ActionSummary: body.ActionSummary,
			RiskLevel:     body.RiskLevel,
			Alternatives:  body.Alternatives,
			State:         "pending",
		})
	}
}

// SendDirective sends a directive to the peer. The idempotency key is
// derived from the directive id, so a retried send after a durability
// failure cannot double-deliver.
func (s *PeerService) SendDirective(ctx context.Context, d directive.Directive) error {
	if err := d.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(messagebus.DirectiveBody{Directive: d})
	if err != nil {
		return fmt.Errorf("encode directive: %w", err)
	}
	if err := s.send(ctx, messagebus.PartyPeer, message.KindDirective, "directive:"+d.ID, body); err != nil {
		return err
	}

	if d.RequiresResponse {
		s.mu.Lock()
		s.pending[d.ID] = awaiting{d: d, sentAt: s.now()}
		s.mu.Unlock()
	}
	return nil
}

// SendResponse sends a directive response. Implements Responder for the
// pipeline's report stage.
func (s *PeerService) SendResponse(ctx context.Context, recipient string, resp message.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	key := fmt.Sprintf("response:%s:%s", resp.ResponseTo, resp.Status)
	return s.send(ctx, recipient, message.KindResponse, key, body)
}

// SendPosition sends this side's revised stance in an open debate.
func (s *PeerService) SendPosition(ctx context.Context, conflictID string, pos messagebus.PositionBody) error {
	pos.ConflictID = conflictID
	body, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	key := fmt.Sprintf("position:%s:%s:%d", conflictID, pos.Position.Party, pos.Position.RevisedAt.UnixNano())
	return s.send(ctx, messagebus.PartyPeer, message.KindPosition, key, body)
}

// PublishApproval pushes an approval request onto the human channel.
func (s *PeerService) PublishApproval(ctx context.Context, body messagebus.ApprovalBody) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode approval request: %w", err)
	}
	return s.send(ctx, messagebus.PartyHuman, message.KindApproval, "approval:"+body.RequestID, raw)
}

func (s *PeerService) send(ctx context.Context, recipient string, kind message.Kind, idempotencyKey string, body []byte) error {
	env := &message.Envelope{
		MessageID:      uuid.NewString(),
		IdempotencyKey: idempotencyKey,
		Sender:         messagebus.PartyCTO,
		Recipient:      recipient,
		Kind:           kind,
		Body:           body,
	}
	if len(s.signingKey) > 0 {
		if err := env.Sign(s.signingKey); err != nil {
			return fmt.Errorf("sign envelope: %w", err)
		}
	}
	return s.bus.Send(ctx, env)
}

// StartResponseSweep fails outbound directives whose response never
// arrived within the retention window: past it the answer can no longer
// be replayed, so waiting longer cannot succeed.
func (s *PeerService) StartResponseSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepResponses(ctx)
		}
	}
}

func (s *PeerService) sweepResponses(ctx context.Context) {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	var overdue []awaiting
	for id, a := range s.pending {
		if a.sentAt.Before(cutoff) {
			overdue = append(overdue, a)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, a := range overdue {
		s.auditor.Log(ctx, audit.ActionDirectiveFailed, a.d.ID, "sweep", "no response within retention window")
		err := s.store.RecordDirectiveOutcome(ctx, &database.DirectiveOutcome{
			Directive:  a.d,
			Outcome:    directive.OutcomeFailed,
			Cause:      "response window elapsed",
			RecordedAt: s.now().UTC(),
		})
		if err != nil {
			slog.Error("record overdue directive", "directive_id", a.d.ID, "error", err)
		}
	}
}

// Connected reports bus reachability for health checks.
func (s *PeerService) Connected() bool { return s.bus.IsConnected() }
