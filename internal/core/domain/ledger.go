package domain

import (
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventReceive         EventType = "receive"
	EventPick            EventType = "pick"
	EventAuditAdjustment EventType = "audit_adjustment"
)

// ParseEventType accepts the wire names used by imports and transports.
func ParseEventType(s string) (EventType, error) {
	switch EventType(strings.ToLower(strings.TrimSpace(s))) {
	case EventReceive:
		return EventReceive, nil
	case EventPick:
		return EventPick, nil
	case EventAuditAdjustment, "auditadjustment", "adjustment":
		return EventAuditAdjustment, nil
	}
	return "", fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, s)
}

// Bounds shared by every ledger backend. MaxQuantity caps a single delta and
// any SKU's folded quantity so SUM folds never leave int64. The text limits
// match the narrowest column that stores them.
const (
	MaxQuantity          int64 = 1_000_000_000_000
	MaxActorLen                = 128
	MaxReferenceLen            = 128
	MaxIdempotencyKeyLen       = 191
)

// LedgerEvent is one immutable stock movement. ID is assigned by the ledger
// repository on append and is strictly increasing across the whole log.
type LedgerEvent struct {
	ID             int64
	SKU            string
	Type           EventType
	Delta          int64
	Timestamp      time.Time
	Actor          string
	Reference      string
	IdempotencyKey string
}

// Validate checks the event's shape: sign rules per type, SKU syntax and actor.
func (e LedgerEvent) Validate() error {
	if !ValidSKU(e.SKU) {
		return fmt.Errorf("%w: invalid sku %q", ErrInvalidEvent, e.SKU)
	}
	if strings.TrimSpace(e.Actor) == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidEvent)
	}
	if len(e.Actor) > MaxActorLen {
		return fmt.Errorf("%w: actor longer than %d bytes", ErrInvalidEvent, MaxActorLen)
	}
	if len(e.Reference) > MaxReferenceLen {
		return fmt.Errorf("%w: reference longer than %d bytes", ErrInvalidEvent, MaxReferenceLen)
	}
	if len(e.IdempotencyKey) > MaxIdempotencyKeyLen {
		return fmt.Errorf("%w: idempotency key longer than %d bytes", ErrInvalidEvent, MaxIdempotencyKeyLen)
	}
	if e.Delta > MaxQuantity || e.Delta < -MaxQuantity {
		return fmt.Errorf("%w: delta %d exceeds %d in magnitude", ErrInvalidEvent, e.Delta, MaxQuantity)
	}
	switch e.Type {
	case EventReceive:
		if e.Delta <= 0 {
			return fmt.Errorf("%w: receive delta must be positive, got %d", ErrInvalidEvent, e.Delta)
		}
	case EventPick:
		if e.Delta >= 0 {
			return fmt.Errorf("%w: pick delta must be negative, got %d", ErrInvalidEvent, e.Delta)
		}
	case EventAuditAdjustment:
		if e.Delta == 0 {
			return fmt.Errorf("%w: audit adjustment delta must be non-zero", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// CheckFold rejects an append that would move sku's quantity from current
// outside [-MaxQuantity, MaxQuantity]. It is safe for any int64 inputs.
func CheckFold(sku string, current, delta int64) error {
	next := current + delta
	wrapped := (delta > 0 && next < current) || (delta < 0 && next > current)
	if wrapped || next > MaxQuantity || next < -MaxQuantity {
		return fmt.Errorf("%w: quantity of %q is %d, adding %d leaves [-%d, %d]", ErrInvalidEvent, sku, current, delta, MaxQuantity, MaxQuantity)
	}
	return nil
}

// EventFilter selects a page of the log in ascending ID order. An empty SKU
// selects every SKU.
type EventFilter struct {
	SKU     string
	AfterID int64
	Limit   int
}

// StockSnapshot is the quantity projection folded from the log up to and
// including Watermark. SKUs with zero quantity are omitted.
type StockSnapshot struct {
	Quantities map[string]int64
	Watermark  int64
}

// Quantity returns the folded quantity for sku, zero when absent.
func (s StockSnapshot) Quantity(sku string) int64 {
	return s.Quantities[sku]
}

// Fold replays events from empty state.
func Fold(events []LedgerEvent) StockSnapshot {
	snap := StockSnapshot{Quantities: make(map[string]int64)}
	for _, ev := range events {
		snap.Apply(ev)
	}
	return snap
}

// Apply folds one event into the snapshot.
func (s *StockSnapshot) Apply(ev LedgerEvent) {
	if s.Quantities == nil {
		s.Quantities = make(map[string]int64)
	}
	q := s.Quantities[ev.SKU] + ev.Delta
	if q == 0 {
		delete(s.Quantities, ev.SKU)
	} else {
		s.Quantities[ev.SKU] = q
	}
	if ev.ID > s.Watermark {
		s.Watermark = ev.ID
	}
}

// ImportRow is one bulk-import record; it goes through the same append path as any event.
type ImportRow struct {
	Line      int
	SKU       string
	Delta     int64
	Type      EventType
	Reference string
}

// ImportResult reports the outcome of one ImportRow.
type ImportResult struct {
	Line    int
	SKU     string
	EventID int64
	Err     error
}

type ImportReport struct {
	Results  []ImportResult
	Imported int
	Failed   int
}
