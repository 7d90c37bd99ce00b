package message

import (
	"testing"
)

func sampleEnvelope() *Envelope {
	return &Envelope{
		MessageID:      "m1",
		IdempotencyKey: "directive:d1",
		Sender:         "cto",
		Recipient:      "ceo",
		Kind:           KindDirective,
		Body:           []byte(`{"directive":{"id":"d1"}}`),
	}
}

func TestValidateEnvelope(t *testing.T) {
	if err := sampleEnvelope().Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"missing message id", func(e *Envelope) { e.MessageID = "" }},
		{"missing idempotency key", func(e *Envelope) { e.IdempotencyKey = "" }},
		{"missing sender", func(e *Envelope) { e.Sender = "" }},
		{"missing recipient", func(e *Envelope) { e.Recipient = "" }},
		{"unknown kind", func(e *Envelope) { e.Kind = "gossip" }},
		{"empty body", func(e *Envelope) { e.Body = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := sampleEnvelope()
			tc.mutate(env)
			if err := env.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	env := sampleEnvelope()

	if err := env.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if env.Signature == "" {
		t.Fatal("sign left the signature empty")
	}
	if !env.Verify(key) {
		t.Fatal("signature does not verify with the signing key")
	}
	if env.Verify([]byte("another-key-entirely-0123456789a")) {
		t.Fatal("signature verified under the wrong key")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	fields := []func(*Envelope){
		func(e *Envelope) { e.Body = []byte(`{"directive":{"id":"d-evil"}}`) },
		func(e *Envelope) { e.Sender = "impostor" },
		func(e *Envelope) { e.Recipient = "human" },
		func(e *Envelope) { e.IdempotencyKey = "directive:d2" },
		func(e *Envelope) { e.Kind = KindResponse },
	}
	for i, mutate := range fields {
		env := sampleEnvelope()
		if err := env.Sign(key); err != nil {
			t.Fatalf("sign: %v", err)
		}
		mutate(env)
		if env.Verify(key) {
			t.Fatalf("mutation %d went undetected", i)
		}
	}
}

func TestVerifyUnsignedEnvelope(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	if sampleEnvelope().Verify(key) {
		t.Fatal("unsigned envelope verified")
	}
}
