package messagebus

import (
	"encoding/json"
	"fmt"

	"github.com/afcen/overseer/internal/domain/message"
)

// ValidateBody checks that an envelope's body parses against the schema for
// its kind. Unrecognized kinds are rejected, not passed through.
func ValidateBody(env *message.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	var target any
	switch env.Kind {
	case message.KindDirective:
		body := &DirectiveBody{}
		if err := json.Unmarshal(env.Body, body); err != nil {
			return fmt.Errorf("decode %s body: %w", env.Kind, err)
		}
		return body.Directive.Validate()
	case message.KindResponse:
		target = &message.Response{}
	case message.KindPosition:
		target = &PositionBody{}
	case message.KindApproval:
		target = &ApprovalBody{}
	default:
		return fmt.Errorf("unrecognized message kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Body, target); err != nil {
		return fmt.Errorf("decode %s body: %w", env.Kind, err)
	}
	return nil
}
