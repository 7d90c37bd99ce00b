// Package ledger defines the idempotency ledger port (interface).
package ledger

import "context"

// Claim is the outcome of claiming an idempotency key.
type Claim int

const (
	// FirstSeen means this caller won the claim and must perform the work.
	FirstSeen Claim = iota
	// Duplicate means the key was already claimed; skip side effects and
	// reuse the recorded result when one exists.
	Duplicate
)

// Ledger deduplicates message processing by idempotency key. Claim is
// atomic: exactly one caller observes FirstSeen per key. Entries expire
// after a fixed TTL which must exceed the bus retention window, else a
// replayed message could double-process.
type Ledger interface {
	// Claim atomically claims the key. On Duplicate the previously
	// recorded result is returned when available.
	Claim(ctx context.Context, key string) (Claim, []byte, error)

	// Record stores the processing result against an already claimed key
	// so duplicate deliveries can replay it.
	Record(ctx context.Context, key string, result []byte) error
}
