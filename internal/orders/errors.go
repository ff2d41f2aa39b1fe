package orders

import (
	"errors"
	"fmt"
)

var (
	ErrStateViolation          = errors.New("state violation")
	ErrIncompleteAppraisal     = errors.New("incomplete appraisal")
	ErrSettlementInconsistency = errors.New("settlement inconsistency")
	ErrDownstreamFailure       = errors.New("downstream failure")
	ErrNotFound                = errors.New("order not found")
	ErrInvalidInput            = errors.New("invalid input")
	ErrNotDelivered            = errors.New("shipment not delivered")
	ErrAlreadyExists           = errors.New("already exists")

	// Refiner snapshot edits on a settled order report the same class of
	// failure as an out-of-order transition.
	ErrInvalidTransition = ErrStateViolation
)

type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrStateViolation }

// Downstream wraps a collaborator failure so that callers can match it with
// errors.Is(err, ErrDownstreamFailure) while keeping the cause.
func Downstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDownstreamFailure, op, err)
}
