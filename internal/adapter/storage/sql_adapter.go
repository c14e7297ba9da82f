package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

type errClass int

const (
	errOther errClass = iota
	errConflict
	errUnique
	errForeignKey
)

// dialect holds what differs between the SQL backends. Both drivers use ?
// placeholders so the statements themselves are shared.
type dialect struct {
	name   string
	schema []string
	// lockItem takes the per-SKU row lock inside the append transaction. Empty
	// when the transaction already serializes all writers.
	lockItem      string
	upsertSession string
	classify      func(error) errClass
}

// sqlStore implements the ledger, catalog and session repositories on
// database/sql. Quantities are always SUM(delta) folds over ledger_events.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

type rowScanner interface {
	Scan(dest ...any) error
}

const eventColumns = `id, sku, event_type, delta, occurred_at, actor, reference_id, idempotency_key`

const itemColumns = `sku, description, unit_of_measure, reorder_threshold, make, model, part_number,
	serial_number, bin_location, notes, code_type, stub, created_at, updated_at`

func (s *sqlStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s schema: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) translate(op, sku string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch s.d.classify(err) {
	case errConflict:
		return &domain.ConcurrentModificationError{SKU: sku, Err: err}
	case errForeignKey:
		return &domain.UnknownSkuError{SKU: sku}
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

func (s *sqlStore) Append(ctx context.Context, ev domain.LedgerEvent, enforceFloor bool) (domain.LedgerEvent, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.LedgerEvent{}, 0, s.translate("begin append", ev.SKU, err)
	}
	defer tx.Rollback()

	if s.d.lockItem != "" {
		var locked string
		if err := tx.QueryRowContext(ctx, s.d.lockItem, ev.SKU).Scan(&locked); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.LedgerEvent{}, 0, &domain.UnknownSkuError{SKU: ev.SKU}
			}
			return domain.LedgerEvent{}, 0, s.translate("lock item", ev.SKU, err)
		}
	}

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(delta), 0) FROM ledger_events WHERE sku = ?`, ev.SKU).Scan(&current)
	if err != nil {
		return domain.LedgerEvent{}, 0, s.translate("fold quantity", ev.SKU, err)
	}

	if ev.IdempotencyKey != "" {
		existing, err := scanEvent(tx.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM ledger_events WHERE idempotency_key = ?`, ev.IdempotencyKey))
		if err == nil {
			return existing, current, domain.ErrDuplicateEvent
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerEvent{}, 0, s.translate("lookup idempotency key", ev.SKU, err)
		}
	}

	if enforceFloor && ev.Delta < 0 && current+ev.Delta < 0 {
		return domain.LedgerEvent{}, current, &domain.InsufficientStockError{
			SKU:       ev.SKU,
			Available: current,
			Requested: -ev.Delta,
		}
	}

	if err := domain.CheckFold(ev.SKU, current, ev.Delta); err != nil {
		return domain.LedgerEvent{}, current, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_events (sku, event_type, delta, occurred_at, actor, reference_id, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.SKU, string(ev.Type), ev.Delta, ev.Timestamp.UnixMicro(), ev.Actor, ev.Reference,
		nullString(ev.IdempotencyKey),
	)
	if err != nil {
		if s.d.classify(err) == errUnique {
			return domain.LedgerEvent{}, current, domain.ErrDuplicateEvent
		}
		return domain.LedgerEvent{}, 0, s.translate("insert event", ev.SKU, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.LedgerEvent{}, 0, s.translate("read event id", ev.SKU, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.LedgerEvent{}, 0, s.translate("commit append", ev.SKU, err)
	}

	ev.ID = id
	return ev, current + ev.Delta, nil
}

func (s *sqlStore) Quantity(ctx context.Context, sku string) (int64, int64, error) {
	var quantity, watermark int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0), COALESCE(MAX(id), 0)
		FROM ledger_events WHERE sku = ?`, sku,
	).Scan(&quantity, &watermark)
	if err != nil {
		return 0, 0, s.translate("query quantity", sku, err)
	}
	return quantity, watermark, nil
}

func (s *sqlStore) Quantities(ctx context.Context) (domain.StockSnapshot, error) {
	snap := domain.StockSnapshot{Quantities: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM ledger_events`).Scan(&snap.Watermark); err != nil {
		return snap, s.translate("query watermark", "", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, SUM(delta)
		FROM ledger_events
		WHERE id <= ?
		GROUP BY sku
		HAVING SUM(delta) <> 0`, snap.Watermark)
	if err != nil {
		return snap, s.translate("query quantities", "", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sku string
		var q int64
		if err := rows.Scan(&sku, &q); err != nil {
			return snap, s.translate("scan quantity", sku, err)
		}
		snap.Quantities[sku] = q
	}
	if err := rows.Err(); err != nil {
		return snap, s.translate("iterate quantities", "", err)
	}
	return snap, nil
}

func (s *sqlStore) Events(ctx context.Context, filter domain.EventFilter) ([]domain.LedgerEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	query := `SELECT ` + eventColumns + ` FROM ledger_events WHERE id > ?`
	args := []any{filter.AfterID}
	if filter.SKU != "" {
		query += ` AND sku = ?`
		args = append(args, filter.SKU)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.translate("query events", filter.SKU, err)
	}
	defer rows.Close()

	var events []domain.LedgerEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, s.translate("scan event", filter.SKU, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, s.translate("iterate events", filter.SKU, err)
	}
	return events, nil
}

func scanEvent(row rowScanner) (domain.LedgerEvent, error) {
	var (
		ev         domain.LedgerEvent
		eventType  string
		occurredAt int64
		key        sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.SKU, &eventType, &ev.Delta, &occurredAt, &ev.Actor, &ev.Reference, &key)
	if err != nil {
		return domain.LedgerEvent{}, err
	}
	ev.Type = domain.EventType(eventType)
	ev.Timestamp = time.UnixMicro(occurredAt).UTC()
	ev.IdempotencyKey = key.String
	return ev, nil
}

func (s *sqlStore) CreateItem(ctx context.Context, item domain.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.SKU, item.Description, item.UnitOfMeasure, item.ReorderThreshold, item.Make, item.Model,
		item.PartNumber, item.SerialNumber, item.BinLocation, item.Notes, string(item.CodeType), item.Stub,
		item.CreatedAt.UnixMicro(), item.UpdatedAt.UnixMicro(),
	)
	if err != nil {
		if s.d.classify(err) == errUnique {
			return domain.ErrItemExists
		}
		return s.translate("insert item", item.SKU, err)
	}
	return nil
}

func (s *sqlStore) GetItem(ctx context.Context, sku string) (domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE sku = ?`, sku))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Item{}, s.translate("query item", sku, err)
	}
	return item, nil
}

func (s *sqlStore) UpdateItem(ctx context.Context, item domain.Item) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET description = ?, reorder_threshold = ?, make = ?, model = ?, part_number = ?,
			serial_number = ?, bin_location = ?, notes = ?, code_type = ?, stub = ?, updated_at = ?
		WHERE sku = ?`,
		item.Description, item.ReorderThreshold, item.Make, item.Model, item.PartNumber,
		item.SerialNumber, item.BinLocation, item.Notes, string(item.CodeType), item.Stub,
		item.UpdatedAt.UnixMicro(), item.SKU,
	)
	if err != nil {
		return s.translate("update item", item.SKU, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *sqlStore) ListItems(ctx context.Context) ([]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY sku`)
	if err != nil {
		return nil, s.translate("query items", "", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, s.translate("scan item", "", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, s.translate("iterate items", "", err)
	}
	return items, nil
}

func scanItem(row rowScanner) (domain.Item, error) {
	var (
		item                 domain.Item
		codeType             string
		createdAt, updatedAt int64
	)
	err := row.Scan(&item.SKU, &item.Description, &item.UnitOfMeasure, &item.ReorderThreshold, &item.Make,
		&item.Model, &item.PartNumber, &item.SerialNumber, &item.BinLocation, &item.Notes, &codeType,
		&item.Stub, &createdAt, &updatedAt)
	if err != nil {
		return domain.Item{}, err
	}
	item.CodeType = domain.CodeType(codeType)
	item.CreatedAt = time.UnixMicro(createdAt).UTC()
	item.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return item, nil
}

// sessionBody is the JSON column holding the session's collections.
type sessionBody struct {
	Counts          map[string]int64     `json:"counts"`
	Locations       map[string]string    `json:"locations,omitempty"`
	Discrepancies   []domain.Discrepancy `json:"discrepancies,omitempty"`
	AppliedEventIDs []int64              `json:"applied_event_ids,omitempty"`
	Unapplied       []string             `json:"unapplied,omitempty"`
}

func (s *sqlStore) SaveSession(ctx context.Context, session domain.AuditSession) error {
	body, err := json.Marshal(sessionBody{
		Counts:          session.Counts,
		Locations:       session.Locations,
		Discrepancies:   session.Discrepancies,
		AppliedEventIDs: session.AppliedEventIDs,
		Unapplied:       session.Unapplied,
	})
	if err != nil {
		return fmt.Errorf("marshal session body: %w", err)
	}

	var closedAt sql.NullInt64
	if session.ClosedAt != nil {
		closedAt = sql.NullInt64{Int64: session.ClosedAt.UnixMicro(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.d.upsertSession,
		session.ID, string(session.State), session.OpenedBy, session.OpenedAt.UnixMicro(),
		closedAt, string(session.Outcome), string(body),
	)
	if err != nil {
		return s.translate("save session", "", err)
	}
	return nil
}

const sessionColumns = `id, state, opened_by, opened_at, closed_at, outcome, body`

func (s *sqlStore) GetSession(ctx context.Context, id string) (domain.AuditSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM audit_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AuditSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.AuditSession{}, s.translate("query session", "", err)
	}
	return session, nil
}

func (s *sqlStore) ActiveSession(ctx context.Context) (*domain.AuditSession, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM audit_sessions
		WHERE state IN (?, ?)
		ORDER BY opened_at DESC
		LIMIT 1`, string(domain.SessionOpen), string(domain.SessionClosing)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.translate("query active session", "", err)
	}
	return &session, nil
}

func scanSession(row rowScanner) (domain.AuditSession, error) {
	var (
		session  domain.AuditSession
		state    string
		outcome  string
		openedAt int64
		closedAt sql.NullInt64
		body     string
	)
	if err := row.Scan(&session.ID, &state, &session.OpenedBy, &openedAt, &closedAt, &outcome, &body); err != nil {
		return domain.AuditSession{}, err
	}

	var b sessionBody
	if err := json.NewDecoder(strings.NewReader(body)).Decode(&b); err != nil {
		return domain.AuditSession{}, fmt.Errorf("decode session body: %w", err)
	}

	session.State = domain.SessionState(state)
	session.Outcome = domain.SessionOutcome(outcome)
	session.OpenedAt = time.UnixMicro(openedAt).UTC()
	if closedAt.Valid {
		t := time.UnixMicro(closedAt.Int64).UTC()
		session.ClosedAt = &t
	}
	session.Counts = b.Counts
	if session.Counts == nil {
		session.Counts = make(map[string]int64)
	}
	session.Locations = b.Locations
	if session.Locations == nil {
		session.Locations = make(map[string]string)
	}
	session.Discrepancies = b.Discrepancies
	session.AppliedEventIDs = b.AppliedEventIDs
	session.Unapplied = b.Unapplied
	return session, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
