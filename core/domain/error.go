package domain

import (
	"errors"
	"fmt"
)

var (
	// Record invariant errors.
	ErrEmptyPlan        = errors.New("order has no plan")
	ErrNegativePrice    = errors.New("order price is negative")
	ErrEmptyCorrelation = errors.New("order has no correlation id")
	ErrUnknownStatus    = errors.New("order status is not valid")

	// Lookup errors.
	ErrOrderNotFound = errors.New("order not found")

	// Privilege errors. Handled like validation errors: the menu stays
	// hidden, nothing is surfaced as a system failure.
	ErrNotAdmin = errors.New("caller is not an admin")

	// Reconciliation errors. A duplicate event is treated as success by the
	// IPN endpoint so the provider does not retry-storm.
	ErrDuplicateEvent = errors.New("payment event already processed")
)

// StorageFault wraps a failure of the durable medium backing the ledger or
// the settings store. It is logged and the current step fails gracefully;
// state stays unchanged and the process keeps serving events.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string {
	return fmt.Sprintf("storage fault during %s: %v", e.Op, e.Err)
}

func (e *StorageFault) Unwrap() error { return e.Err }

// NewStorageFault tags an underlying I/O error with the failed operation.
func NewStorageFault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageFault{Op: op, Err: err}
}

// IsStorageFault reports whether err is (or wraps) a StorageFault.
func IsStorageFault(err error) bool {
	var sf *StorageFault
	return errors.As(err, &sf)
}

// ValidationError marks bad user input. It is local to one conversation step:
// the machine re-prompts and keeps the state unchanged.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// NewValidationError builds a ValidationError with the given reason.
func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
