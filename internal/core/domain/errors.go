package domain

import (
	"errors"
	"fmt"
)

// Validation errors are returned to the caller for correction and are never
// worth retrying. ErrConcurrentModification and ErrPersistence are transient.
var (
	ErrUnknownSKU             = errors.New("unknown sku")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrMalformedPayload       = errors.New("malformed scan payload")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrPersistence            = errors.New("persistence failure")

	ErrInvalidEvent      = errors.New("invalid ledger event")
	ErrDuplicateEvent    = errors.New("duplicate ledger event")
	ErrInvalidItem       = errors.New("invalid item")
	ErrItemExists        = errors.New("item already exists")
	ErrInvalidCount      = errors.New("invalid audit count")
	ErrNotFound          = errors.New("not found")
	ErrSessionInProgress = errors.New("audit session already in progress")
	ErrSessionNotFound   = errors.New("audit session not found")
	ErrSessionNotOpen    = errors.New("audit session is not open")
	ErrSessionNotClosing = errors.New("audit session is not awaiting review")
	ErrSessionClosed     = errors.New("audit session is closed")
)

type UnknownSkuError struct {
	SKU string
}

func (e *UnknownSkuError) Error() string {
	return fmt.Sprintf("unknown sku %q", e.SKU)
}

func (e *UnknownSkuError) Is(target error) bool {
	return target == ErrUnknownSKU
}

type InsufficientStockError struct {
	SKU       string
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d, requested %d", e.SKU, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type MalformedPayloadError struct {
	Payload string
	Reason  string
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed scan payload %q: %s", e.Payload, e.Reason)
}

func (e *MalformedPayloadError) Is(target error) bool {
	return target == ErrMalformedPayload
}

// ConcurrentModificationError is raised when the per-SKU serialization point
// could not order a write, e.g. a lock wait timed out or the store deadlocked.
type ConcurrentModificationError struct {
	SKU string
	Err error
}

func (e *ConcurrentModificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("concurrent modification of %q", e.SKU)
	}
	return fmt.Sprintf("concurrent modification of %q: %v", e.SKU, e.Err)
}

func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

func (e *ConcurrentModificationError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a backing-store I/O failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether resubmitting the same operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrConcurrentModification)
}
