// Package workers provides the in-process worker set registered with the
// capability registry. Each worker owns exactly one directive type and
// produces a structured Result; heavy lifting is delegated to the systems
// named in the directive payload.
package workers

import (
	"github.com/afcen/overseer/internal/domain/capability"
)

// All returns the full worker set for registry construction.
func All() []capability.Worker {
	return []capability.Worker{
		NewCodeReview(),
		NewMarketScanner(),
		NewArchitectureAdvisor(),
		NewSprintPlanner(),
		NewDevOps(),
	}
}

// payloadOr returns the payload value for key, or fallback when absent.
func payloadOr(payload map[string]string, key, fallback string) string {
	if v, ok := payload[key]; ok && v != "" {
		return v
	}
	return fallback
}
