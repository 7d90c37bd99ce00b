package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/afcen/overseer/internal/adapter/ws"
	"github.com/afcen/overseer/internal/domain/audit"
	"github.com/afcen/overseer/internal/port/auditlog"
	"github.com/afcen/overseer/internal/port/notifier"
	"github.com/afcen/overseer/internal/resilience"
)

// AuditService writes the append-only decision log. Append is
// fire-and-forget for callers: sink failures never fail a directive, but
// they are never silent either — a persistent failure trips the breaker
// and raises a degraded-mode alert.
type AuditService struct {
	sink      auditlog.Sink
	breaker   *resilience.Breaker
	hub       *ws.Hub
	notifiers []notifier.Notifier
	now       func() time.Time
}

// NewAuditService creates the audit writer.
func NewAuditService(sink auditlog.Sink, breaker *resilience.Breaker, hub *ws.Hub, notifiers []notifier.Notifier) *AuditService {
	return &AuditService{
		sink:      sink,
		breaker:   breaker,
		hub:       hub,
		notifiers: notifiers,
		now:       time.Now,
	}
}

// Log appends one entry. Errors are absorbed after alerting.
func (s *AuditService) Log(ctx context.Context, action audit.Action, directiveID, actor, details string) {
	entry := &audit.Entry{
		ID:          uuid.NewString(),
		DirectiveID: directiveID,
		Action:      action,
		Actor:       actor,
		Details:     details,
		CreatedAt:   s.now().UTC(),
	}

	err := s.breaker.Execute(func() error {
		return s.sink.Append(ctx, entry)
	})
	if err == nil {
		return
	}

	slog.Error("audit sink degraded", "action", action, "directive_id", directiveID, "error", err)
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, ws.EventAuditDegraded, map[string]string{"error": err.Error()})
	}
	for _, n := range s.notifiers {
		if sendErr := n.Send(ctx, notifier.Notification{
			Title:   "Audit log degraded",
			Message: "audit sink write failed: " + err.Error(),
			Level:   "warning",
			Source:  "audit.degraded",
		}); sendErr != nil {
			slog.Warn("degraded-mode alert failed", "notifier", n.Name(), "error", sendErr)
		}
	}
}

// Query returns audit entries matching the filter.
func (s *AuditService) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	return s.sink.Query(ctx, filter)
}

// Degraded reports whether the sink breaker is currently open.
func (s *AuditService) Degraded() bool {
	return s.breaker.Open()
}
