package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

// MemoryLedger keeps the event log in process. Every quantity is a fold over
// the SKU's events taken under the same mutex that guards appends.
type MemoryLedger struct {
	mu     sync.RWMutex
	events []domain.LedgerEvent // events[i].ID == i+1
	bySKU  map[string][]int
	byKey  map[string]int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		bySKU: make(map[string][]int),
		byKey: make(map[string]int),
	}
}

func (m *MemoryLedger) Append(ctx context.Context, ev domain.LedgerEvent, enforceFloor bool) (domain.LedgerEvent, int64, error) {
	if err := ctx.Err(); err != nil {
		return domain.LedgerEvent{}, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.foldLocked(ev.SKU)

	if ev.IdempotencyKey != "" {
		if idx, ok := m.byKey[ev.IdempotencyKey]; ok {
			return m.events[idx], current, domain.ErrDuplicateEvent
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

	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	idx := len(m.events) - 1
	m.bySKU[ev.SKU] = append(m.bySKU[ev.SKU], idx)
	if ev.IdempotencyKey != "" {
		m.byKey[ev.IdempotencyKey] = idx
	}

	return ev, current + ev.Delta, nil
}

func (m *MemoryLedger) foldLocked(sku string) int64 {
	var q int64
	for _, idx := range m.bySKU[sku] {
		q += m.events[idx].Delta
	}
	return q
}

func (m *MemoryLedger) Quantity(_ context.Context, sku string) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var watermark int64
	if idx := m.bySKU[sku]; len(idx) > 0 {
		watermark = m.events[idx[len(idx)-1]].ID
	}
	return m.foldLocked(sku), watermark, nil
}

func (m *MemoryLedger) Quantities(_ context.Context) (domain.StockSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return domain.Fold(m.events), nil
}

func (m *MemoryLedger) Events(ctx context.Context, filter domain.EventFilter) ([]domain.LedgerEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	var out []domain.LedgerEvent
	if filter.SKU == "" {
		for i := int(max(filter.AfterID, 0)); i < len(m.events) && len(out) < limit; i++ {
			out = append(out, m.events[i])
		}
		return out, nil
	}

	idx := m.bySKU[filter.SKU]
	start := sort.Search(len(idx), func(i int) bool {
		return m.events[idx[i]].ID > filter.AfterID
	})
	for _, i := range idx[start:] {
		if len(out) == limit {
			break
		}
		out = append(out, m.events[i])
	}
	return out, nil
}

type MemoryCatalog struct {
	mu    sync.RWMutex
	items map[string]domain.Item
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{items: make(map[string]domain.Item)}
}

func (c *MemoryCatalog) CreateItem(_ context.Context, item domain.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[item.SKU]; ok {
		return domain.ErrItemExists
	}
	c.items[item.SKU] = item
	return nil
}

func (c *MemoryCatalog) GetItem(_ context.Context, sku string) (domain.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[sku]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	return item, nil
}

func (c *MemoryCatalog) UpdateItem(_ context.Context, item domain.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[item.SKU]; !ok {
		return domain.ErrNotFound
	}
	c.items[item.SKU] = item
	return nil
}

func (c *MemoryCatalog) ListItems(_ context.Context) ([]domain.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]domain.Item, 0, len(c.items))
	for _, item := range c.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })
	return items, nil
}

type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.AuditSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domain.AuditSession)}
}

func (s *MemorySessionStore) SaveSession(_ context.Context, session domain.AuditSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemorySessionStore) GetSession(_ context.Context, id string) (domain.AuditSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return domain.AuditSession{}, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *MemorySessionStore) ActiveSession(_ context.Context) (*domain.AuditSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.Active() {
			active := session.Clone()
			return &active, nil
		}
	}
	return nil, nil
}
