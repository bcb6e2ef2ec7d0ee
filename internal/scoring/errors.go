package scoring

import (
	"errors"
	"fmt"
)

// GenericMessage is shown for failures that carry no service message.
const GenericMessage = "An error occurred while processing the transaction"

// ValidationError reports a record rejected before any request was sent.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransportError covers failures to reach the service or read its reply:
// dial errors, resets, timeouts and cancellation.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("scoring service unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServiceError is a non-2xx reply.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("scoring service returned %d: %s", e.Status, e.Message)
}

// ProtocolError is a 2xx reply that cannot be read as a score.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed scoring response: %s: %v", e.Reason, e.Err)
	}
	return "malformed scoring response: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// UserMessage returns the text to surface for a scoring failure.
// Service messages are passed through verbatim.
func UserMessage(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		return svcErr.Message
	}
	return GenericMessage
}
