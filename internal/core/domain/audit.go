package domain

import (
	"errors"
	"fmt"
	"time"
)

type SessionState string

const (
	SessionOpen    SessionState = "open"
	SessionClosing SessionState = "closing"
	SessionClosed  SessionState = "closed"
)

type SessionOutcome string

const (
	OutcomeApplied   SessionOutcome = "applied"
	OutcomeDiscarded SessionOutcome = "discarded"
	// OutcomePartial closes a session that was discarded after some of its
	// adjustments had already been committed.
	OutcomePartial SessionOutcome = "partial"
)

// AuditSession is one physical counting pass. Counts accumulate while Open;
// Discrepancies are fixed when the session moves to Closing; a Closed session
// is never modified again.
type AuditSession struct {
	ID              string
	State           SessionState
	OpenedBy        string
	OpenedAt        time.Time
	ClosedAt        *time.Time
	Counts          map[string]int64
	Locations       map[string]string // last bin each SKU was scanned at
	Discrepancies   []Discrepancy
	AppliedEventIDs []int64
	Unapplied       []string // SKUs whose adjustment failed on the last commit
	Outcome         SessionOutcome
}

// Active reports whether the session still blocks a new one from opening.
func (s AuditSession) Active() bool {
	return s.State == SessionOpen || s.State == SessionClosing
}

// Clone returns a deep copy so callers never share the count maps.
func (s AuditSession) Clone() AuditSession {
	out := s
	out.Counts = make(map[string]int64, len(s.Counts))
	for k, v := range s.Counts {
		out.Counts[k] = v
	}
	out.Locations = make(map[string]string, len(s.Locations))
	for k, v := range s.Locations {
		out.Locations[k] = v
	}
	out.Discrepancies = append([]Discrepancy(nil), s.Discrepancies...)
	out.AppliedEventIDs = append([]int64(nil), s.AppliedEventIDs...)
	out.Unapplied = append([]string(nil), s.Unapplied...)
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

// Discrepancy is the signed difference between counted and recorded stock for one SKU.
type Discrepancy struct {
	SKU      string
	Recorded int64
	Counted  int64
	Delta    int64
}

func (d Discrepancy) Magnitude() int64 {
	if d.Delta < 0 {
		return -d.Delta
	}
	return d.Delta
}

type ApplyFailure struct {
	SKU    string
	Reason string
	Err    error
}

// ApplyResult lists what an apply pass committed and what it could not.
type ApplyResult struct {
	SessionID string
	Committed []LedgerEvent
	Failed    []ApplyFailure
}

// Err joins the per-SKU failures, nil when every discrepancy was committed.
func (r ApplyResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", f.SKU, f.Err))
	}
	return errors.Join(errs...)
}

// AuditProgress summarises scanning coverage against the catalog.
type AuditProgress struct {
	SessionID string
	Verified  int
	Total     int
	Remaining []string
}
