// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a malformed directive or request. Never retried.
var ErrValidation = errors.New("validation failed")

// ErrCapability indicates no registered worker accepts the directive type.
var ErrCapability = errors.New("no capable worker")

// ErrAlreadyDecided indicates a terminal approval request received a second decision.
var ErrAlreadyDecided = errors.New("approval already decided")

// ErrDelivery indicates the durable write of an outbound message failed.
// Callers retry with the same idempotency key; dedup happens downstream.
var ErrDelivery = errors.New("message delivery failed")

// ErrConflictUnresolved indicates a debate exhausted its rounds without consensus.
var ErrConflictUnresolved = errors.New("conflict unresolved after max rounds")
