package internaltypes

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")

	ErrInvalidInput      = errors.New("invalid input")
	ErrNotRegistered     = fmt.Errorf("%w: requester is not registered", ErrInvalidInput)
	ErrSlotAlreadyBooked = errors.New("slot already booked")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrPersistence       = errors.New("persistence error")
)

// Invalid wraps a validation failure so callers can match ErrInvalidInput.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// DeliveryError is a per-recipient notification failure. It is logged, never returned to callers.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
