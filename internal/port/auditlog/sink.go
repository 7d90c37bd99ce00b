// Package auditlog defines the append-only decision log port (interface).
package auditlog

import (
	"context"

	"github.com/afcen/overseer/internal/domain/audit"
)

// Sink receives audit entries. Append is fire-and-forget from the core's
// perspective but must not silently drop: adapters surface persistent
// failures as a degraded-mode alert, never as a directive failure.
type Sink interface {
	// Append persists one audit entry.
	Append(ctx context.Context, entry *audit.Entry) error

	// Query returns entries matching the filter, newest first.
	Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}
