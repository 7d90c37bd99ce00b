// Package nats implements the peer message bus port using NATS JetStream.
//
// Each (sender, recipient) pair maps to its own subject, so JetStream's
// per-subject ordering gives the per-pair delivery order the protocol
// requires. The stream's age limit is the replay window: messages past it
// are dropped by the server and a warning is logged via the stream advisory.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/afcen/overseer/internal/domain"
	"github.com/afcen/overseer/internal/domain/message"
	"github.com/afcen/overseer/internal/port/messagebus"
)

// Bus implements messagebus.Bus using NATS JetStream.
type Bus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	name   string

	mu   sync.Mutex
	seqs map[string]uint64 // (sender,recipient) pair -> last assigned seq
}

// Connect establishes a connection to NATS and ensures the peer stream
// exists with the configured retention window.
func Connect(ctx context.Context, url, streamName string, retention time.Duration) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"peer.>"},
		MaxAge:   retention,
		Discard:  jetstream.DiscardOld,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName, "retention", retention)
	return &Bus{nc: nc, js: js, stream: stream, name: streamName, seqs: make(map[string]uint64)}, nil
}

// subjectFor builds the per-pair subject, e.g. peer.cto.ceo.
func subjectFor(sender, recipient string) string {
	return fmt.Sprintf("peer.%s.%s", sender, recipient)
}

// nextSeq assigns the next monotonic sequence number for the pair,
// initializing lazily from the stream's last stored message on the subject
// so numbering survives restarts.
func (b *Bus) nextSeq(ctx context.Context, subject string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.seqs[subject]; !ok {
		last, err := b.stream.GetLastMsgForSubject(ctx, subject)
		switch {
		case err == nil:
			var env message.Envelope
			if jsonErr := json.Unmarshal(last.Data, &env); jsonErr == nil {
				b.seqs[subject] = env.Seq
			}
		case errors.Is(err, jetstream.ErrMsgNotFound):
			b.seqs[subject] = 0
		default:
			return 0, fmt.Errorf("last msg for %s: %w", subject, err)
		}
	}

	b.seqs[subject]++
	return b.seqs[subject], nil
}

// Send durably records the envelope. It returns once JetStream has
// acknowledged storage; peer liveness is irrelevant.
func (b *Bus) Send(ctx context.Context, env *message.Envelope) error {
	subject := subjectFor(env.Sender, env.Recipient)

	seq, err := b.nextSeq(ctx, subject)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	env.Seq = seq
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.MessageID, err)
	}

	// Nats-Msg-Id gives server-side dedup within the duplicate window on
	// top of the downstream idempotency ledger.
	_, err = b.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{"Nats-Msg-Id": []string{env.IdempotencyKey}},
	})
	if err != nil {
		// Roll the counter back so the gap detector does not see a hole
		// for a message that was never stored.
		b.mu.Lock()
		b.seqs[subject]--
		b.mu.Unlock()
		return fmt.Errorf("%w: publish %s: %v", domain.ErrDelivery, subject, err)
	}
	return nil
}

// Receive registers a durable consumer for all envelopes addressed to
// recipient. Delivery resumes from the last acknowledged offset.
func (b *Bus) Receive(ctx context.Context, recipient string, h messagebus.Handler) (func(), error) {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.name, jetstream.ConsumerConfig{
		Durable:       "overseer-" + strings.ReplaceAll(recipient, ".", "-"),
		FilterSubject: fmt.Sprintf("peer.*.%s", recipient),
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var env message.Envelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			slog.Error("undecodable envelope, terminating delivery", "subject", msg.Subject(), "error", err)
			_ = msg.Term()
			return
		}
		if err := h(ctx, &env); err != nil {
			slog.Error("envelope handler failed", "message_id", env.MessageID, "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "message_id", env.MessageID, "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// Drain gracefully drains subscriptions before closing.
func (b *Bus) Drain() error {
	return b.nc.Drain()
}

// Close shuts down the NATS connection immediately.
func (b *Bus) Close() error {
	b.nc.Close()
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (b *Bus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// JetStream exposes the underlying JetStream context so sibling adapters
// (the KV ledger) can share one connection.
func (b *Bus) JetStream() jetstream.JetStream {
	return b.js
}
