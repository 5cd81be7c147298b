package service

import (
	"errors"
	"fmt"
)

// Validation errors, rejected before any lock is taken
var (
	ErrInvalidQR    = errors.New("invalid QR code")
	ErrInvalidActor = errors.New("actor is required")
	ErrInvalidBill  = errors.New("invalid bill definition")
	ErrKindMismatch = errors.New("bag kind mismatch")
)

// Business-rule conflicts, surfaced verbatim for user-facing messaging
var (
	ErrBillClosed        = errors.New("bill is closed")
	ErrBillAlreadyClosed = errors.New("bill is already closed")
	ErrBillAtCapacity    = errors.New("bill is at its target capacity")
	ErrBillExists        = errors.New("bill number already exists")
)

// Not-found errors
var (
	ErrBagNotFound  = errors.New("bag not found")
	ErrBillNotFound = errors.New("bill not found")
)

// Undo window outcomes
var (
	ErrNothingToUndo   = errors.New("nothing to undo")
	ErrAlreadyReversed = errors.New("link already reversed")
)

// ErrBusy signals transient lock contention. Callers retry with backoff;
// every operation is idempotent by construction so a retry is safe.
var ErrBusy = errors.New("resource busy, retry")

// ChildAlreadyLinkedError is returned when a child bag already has an
// active link to a different parent.
type ChildAlreadyLinkedError struct {
	ExistingParentQR string
}

func (e *ChildAlreadyLinkedError) Error() string {
	return fmt.Sprintf("child is already linked to parent %s", e.ExistingParentQR)
}

// ParentAtCapacityError is returned when a parent bag has reached its
// configured child link capacity.
type ParentAtCapacityError struct {
	Capacity int
}

func (e *ParentAtCapacityError) Error() string {
	return fmt.Sprintf("parent is at capacity (%d)", e.Capacity)
}

// ParentOnOtherBillError is returned when a parent bag is already attached
// to a different open bill.
type ParentOnOtherBillError struct {
	BillNumber string
}

func (e *ParentOnOtherBillError) Error() string {
	return fmt.Sprintf("parent is already on open bill %s", e.BillNumber)
}

// IsConflict reports whether an error is a business-rule conflict rather
// than a validation or infrastructure failure.
func IsConflict(err error) bool {
	var linked *ChildAlreadyLinkedError
	var capacity *ParentAtCapacityError
	var otherBill *ParentOnOtherBillError
	if errors.As(err, &linked) || errors.As(err, &capacity) || errors.As(err, &otherBill) {
		return true
	}
	return errors.Is(err, ErrBillClosed) ||
		errors.Is(err, ErrBillAlreadyClosed) ||
		errors.Is(err, ErrBillAtCapacity) ||
		errors.Is(err, ErrBillExists)
}
