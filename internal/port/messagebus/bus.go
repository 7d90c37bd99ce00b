// Package messagebus defines the durable peer messaging port (interface).
package messagebus

import (
	"context"

	"github.com/afcen/overseer/internal/domain/message"
)

// Handler processes one envelope delivered from the bus. Returning nil
// acknowledges the message; returning an error leaves it for redelivery
// (at-least-once — dedup happens in the idempotency ledger).
type Handler func(ctx context.Context, env *message.Envelope) error

// Bus is the port interface for durable, ordered, replayable peer messaging.
type Bus interface {
	// Send durably records the envelope and returns once storage has
	// acknowledged it — not once the peer has consumed it. The adapter
	// assigns the per (sender, recipient) sequence number. A failed
	// durability write returns domain.ErrDelivery; callers retry with the
	// same idempotency key.
	Send(ctx context.Context, env *message.Envelope) error

	// Receive registers a handler for envelopes addressed to recipient.
	// Delivery resumes from the last acknowledged offset and preserves
	// per (sender, recipient) order. The returned function cancels the
	// subscription.
	Receive(ctx context.Context, recipient string, h Handler) (cancel func(), err error)

	// Drain processes pending deliveries then closes; no new messages are
	// accepted.
	Drain() error

	// Close shuts the bus connection down immediately.
	Close() error

	// IsConnected reports whether the bus is currently reachable.
	IsConnected() bool
}

// Party names used on the wire. The core is the CTO side; the peer is the
// CEO agent; the human channel is addressed for escalations.
const (
	PartyCTO   = "cto"
	PartyPeer  = "ceo"
	PartyHuman = "human"
)
