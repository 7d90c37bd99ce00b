// Package natskv implements the idempotency ledger port using a NATS
// JetStream KeyValue bucket. KV Create is the atomic claim: exactly one
// caller wins a given key; everyone else observes the existing entry.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/afcen/overseer/internal/port/ledger"
)

// claimed is the placeholder stored by a successful claim before any
// result is recorded against the key.
var claimed = []byte{0}

// resultCache is an optional in-process cache of recorded results.
type resultCache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Ledger implements ledger.Ledger on a TTL-bounded KV bucket.
type Ledger struct {
	kv  jetstream.KeyValue
	l1  resultCache
	ttl time.Duration
}

// New ensures the ledger bucket exists with the given TTL and returns the
// ledger. The caller is responsible for choosing a TTL longer than the bus
// retention window (enforced by config validation).
func New(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration, l1 resultCache) (*Ledger, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger bucket %s: %w", bucket, err)
	}
	return &Ledger{kv: kv, l1: l1, ttl: ttl}, nil
}

// Claim atomically claims the key. The first caller gets FirstSeen; later
// callers get Duplicate plus the recorded result when one exists.
func (l *Ledger) Claim(ctx context.Context, key string) (ledger.Claim, []byte, error) {
	_, err := l.kv.Create(ctx, key, claimed)
	if err == nil {
		return ledger.FirstSeen, nil, nil
	}
	if !errors.Is(err, jetstream.ErrKeyExists) {
		return ledger.Duplicate, nil, fmt.Errorf("ledger claim %s: %w", key, err)
	}

	if l.l1 != nil {
		if data, ok, cacheErr := l.l1.Get(ctx, key); cacheErr == nil && ok {
			return ledger.Duplicate, data, nil
		}
	}

	entry, err := l.kv.Get(ctx, key)
	if err != nil {
		// Claimed but unreadable: still a duplicate, just without a result.
		return ledger.Duplicate, nil, nil //nolint:nilerr // duplicate status is authoritative
	}
	if data := entry.Value(); len(data) > 0 && data[0] != claimed[0] {
		return ledger.Duplicate, data[1:], nil
	}
	return ledger.Duplicate, nil, nil
}

// Record stores the processing result against a claimed key so duplicate
// deliveries can replay it instead of re-running side effects.
func (l *Ledger) Record(ctx context.Context, key string, result []byte) error {
	stored := append([]byte{1}, result...)
	if _, err := l.kv.Put(ctx, key, stored); err != nil {
		return fmt.Errorf("ledger record %s: %w", key, err)
	}
	if l.l1 != nil {
		_ = l.l1.Set(ctx, key, result, l.ttl)
	}
	return nil
}
