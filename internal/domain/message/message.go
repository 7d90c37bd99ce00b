// Package message defines the wire envelope exchanged with the peer system.
package message

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Kind tags the payload variant carried by an envelope. The set is closed:
// unrecognized kinds are rejected at the boundary, never passed through.
type Kind string

const (
	KindDirective Kind = "directive"
	KindResponse  Kind = "response"
	KindPosition  Kind = "position"
	KindApproval  Kind = "approval_request"
)

// KnownKinds is the closed set of accepted message kinds.
var KnownKinds = map[Kind]bool{
	KindDirective: true,
	KindResponse:  true,
	KindPosition:  true,
	KindApproval:  true,
}

// ResponseStatus reports how a directive ended from the peer's perspective.
type ResponseStatus string

const (
	StatusCompleted       ResponseStatus = "completed"
	StatusFailed          ResponseStatus = "failed"
	StatusPendingApproval ResponseStatus = "pending_approval"
	StatusRejected        ResponseStatus = "rejected"
)

// Response is the reply to a directive that required one.
type Response struct {
	ResponseTo string            `json:"response_to"`
	Status     ResponseStatus    `json:"status"`
	Result     map[string]string `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Envelope is the durable wire unit. Seq is assigned monotonically per
// (sender, recipient) pair so the consumer can detect gaps.
type Envelope struct {
	MessageID      string          `json:"message_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Sender         string          `json:"sender"`
	Recipient      string          `json:"recipient"`
	Kind           Kind            `json:"kind"`
	Body           json.RawMessage `json:"body"`
	Seq            uint64          `json:"seq"`
	Signature      string          `json:"signature,omitempty"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
}

// Validate checks the envelope's required fields and variant tag.
func (e *Envelope) Validate() error {
	if e.MessageID == "" {
		return errors.New("message_id is required")
	}
	if e.IdempotencyKey == "" {
		return errors.New("idempotency_key is required")
	}
	if e.Sender == "" || e.Recipient == "" {
		return errors.New("sender and recipient are required")
	}
	if !KnownKinds[e.Kind] {
		return fmt.Errorf("unrecognized message kind %q", e.Kind)
	}
	if len(e.Body) == 0 {
		return errors.New("body is required")
	}
	return nil
}

// Sign computes a keyed BLAKE2b MAC over the envelope identity and body
// and stores it on the envelope.
func (e *Envelope) Sign(key []byte) error {
	mac, err := e.mac(key)
	if err != nil {
		return err
	}
	e.Signature = mac
	return nil
}

// Verify recomputes the MAC and compares it in constant time.
func (e *Envelope) Verify(key []byte) bool {
	mac, err := e.mac(key)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(mac), []byte(e.Signature)) == 1
}

func (e *Envelope) mac(key []byte) (string, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return "", fmt.Errorf("mac init: %w", err)
	}
	h.Write([]byte(e.MessageID))
	h.Write([]byte(e.IdempotencyKey))
	h.Write([]byte(e.Sender))
	h.Write([]byte(e.Recipient))
	h.Write([]byte(e.Kind))
	h.Write(e.Body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
