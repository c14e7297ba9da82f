package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
	"github.com/rl1809/warehouse-ledger/internal/platform/metrics"
	"github.com/rl1809/warehouse-ledger/internal/port"
)

// AuditService drives the counting workflow: Open, scan, Close for review,
// then Commit or Discard. At most one session is open or closing at a time.
type AuditService struct {
	mu         sync.Mutex
	sessions   port.SessionRepository
	catalog    *CatalogService
	resolver   *ScanResolver
	reconciler *ReconciliationService
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewAuditService(
	sessions port.SessionRepository,
	catalog *CatalogService,
	resolver *ScanResolver,
	reconciler *ReconciliationService,
	logger *zap.Logger,
	m *metrics.Metrics,
) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		sessions:   sessions,
		catalog:    catalog,
		resolver:   resolver,
		reconciler: reconciler,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

func (s *AuditService) Open(ctx context.Context, actor string) (domain.AuditSession, error) {
	if strings.TrimSpace(actor) == "" {
		return domain.AuditSession{}, fmt.Errorf("%w: actor is required", domain.ErrInvalidEvent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.sessions.ActiveSession(ctx)
	if err != nil {
		return domain.AuditSession{}, err
	}
	if active != nil {
		return domain.AuditSession{}, fmt.Errorf("%w: %s", domain.ErrSessionInProgress, active.ID)
	}

	session := domain.AuditSession{
		ID:        uuid.NewString(),
		State:     domain.SessionOpen,
		OpenedBy:  actor,
		OpenedAt:  s.now().UTC(),
		Counts:    make(map[string]int64),
		Locations: make(map[string]string),
	}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return domain.AuditSession{}, err
	}

	s.metrics.SetOpenAuditSessions(1)
	s.logger.Info("audit session opened", zap.String("session_id", session.ID), zap.String("actor", actor))
	return session, nil
}

// load fetches the session and checks it is in want.
func (s *AuditService) load(ctx context.Context, id string, want domain.SessionState) (domain.AuditSession, error) {
	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return domain.AuditSession{}, err
	}
	if session.State == want {
		return session, nil
	}
	if session.State == domain.SessionClosed {
		return domain.AuditSession{}, domain.ErrSessionClosed
	}
	if want == domain.SessionOpen {
		return domain.AuditSession{}, domain.ErrSessionNotOpen
	}
	return domain.AuditSession{}, domain.ErrSessionNotClosing
}

// Scan resolves payload and adds one to the SKU's count. Malformed and
// unknown payloads return their resolution with its error and leave counts
// untouched.
func (s *AuditService) Scan(ctx context.Context, sessionID, payload string) (domain.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(ctx, sessionID, domain.SessionOpen)
	if err != nil {
		return domain.Resolution{}, err
	}

	res, err := s.resolver.Resolve(ctx, payload)
	if err != nil {
		return domain.Resolution{}, err
	}
	if res.Kind != domain.Resolved {
		return res, res.Err()
	}

	session.Counts[res.SKU]++
	if res.Location != "" {
		session.Locations[res.SKU] = res.Location
	}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return domain.Resolution{}, err
	}
	return res, nil
}

// SetCount records a manual count for items that are not scanned one by one.
func (s *AuditService) SetCount(ctx context.Context, sessionID, sku string, count int64) error {
	if count < 0 {
		return fmt.Errorf("%w: count for %q must be non-negative, got %d", domain.ErrInvalidCount, sku, count)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(ctx, sessionID, domain.SessionOpen)
	if err != nil {
		return err
	}
	if _, err := s.catalog.Get(ctx, sku); err != nil {
		return err
	}

	session.Counts[sku] = count
	return s.sessions.SaveSession(ctx, session)
}

// Close freezes the counts, reconciles them and parks the session for review.
func (s *AuditService) Close(ctx context.Context, sessionID string) ([]domain.Discrepancy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(ctx, sessionID, domain.SessionOpen)
	if err != nil {
		return nil, err
	}

	discrepancies, err := s.reconciler.Reconcile(ctx, session)
	if err != nil {
		return nil, err
	}

	session.State = domain.SessionClosing
	session.Discrepancies = discrepancies
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("audit session closed for review",
		zap.String("session_id", sessionID),
		zap.Int("counted_skus", len(session.Counts)),
		zap.Int("discrepancies", len(discrepancies)),
	)
	return discrepancies, nil
}

// Commit applies the reviewed discrepancies. With any failure the session
// stays closing and Commit may be repeated; adjustments already made are not
// appended twice.
func (s *AuditService) Commit(ctx context.Context, sessionID, actor string) (domain.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(ctx, sessionID, domain.SessionClosing)
	if err != nil {
		return domain.ApplyResult{SessionID: sessionID}, err
	}

	result, applyErr := s.reconciler.Apply(ctx, sessionID, session.Discrepancies, actor)

	applied := make(map[int64]bool, len(session.AppliedEventIDs))
	for _, id := range session.AppliedEventIDs {
		applied[id] = true
	}
	for _, ev := range result.Committed {
		if !applied[ev.ID] {
			session.AppliedEventIDs = append(session.AppliedEventIDs, ev.ID)
		}
	}

	session.Unapplied = nil
	for _, f := range result.Failed {
		session.Unapplied = append(session.Unapplied, f.SKU)
	}

	if applyErr == nil {
		closedAt := s.now().UTC()
		session.State = domain.SessionClosed
		session.Outcome = domain.OutcomeApplied
		session.ClosedAt = &closedAt
	}

	// Adjustments are already durable, so record them even if ctx was cancelled.
	if err := s.sessions.SaveSession(context.WithoutCancel(ctx), session); err != nil {
		return result, err
	}

	if applyErr != nil {
		s.logger.Warn("audit commit incomplete",
			zap.String("session_id", sessionID),
			zap.Int("failed", len(result.Failed)),
			zap.Error(applyErr),
		)
		return result, applyErr
	}

	s.metrics.SetOpenAuditSessions(0)
	s.logger.Info("audit session committed", zap.String("session_id", sessionID), zap.String("actor", actor))
	return result, nil
}

// Discard closes a session under review without further adjustments. If an
// earlier Commit already applied some of them the outcome is partial and the
// SKUs left unadjusted stay recorded on the session.
func (s *AuditService) Discard(ctx context.Context, sessionID, actor string) (domain.AuditSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.load(ctx, sessionID, domain.SessionClosing)
	if err != nil {
		return domain.AuditSession{}, err
	}

	closedAt := s.now().UTC()
	session.State = domain.SessionClosed
	session.Outcome = domain.OutcomeDiscarded
	if len(session.AppliedEventIDs) > 0 {
		session.Outcome = domain.OutcomePartial
	}
	session.ClosedAt = &closedAt
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return domain.AuditSession{}, err
	}

	s.metrics.SetOpenAuditSessions(0)
	s.logger.Info("audit session discarded",
		zap.String("session_id", sessionID),
		zap.String("actor", actor),
		zap.String("outcome", string(session.Outcome)),
		zap.Strings("unapplied", session.Unapplied),
	)
	return session, nil
}

func (s *AuditService) Get(ctx context.Context, sessionID string) (domain.AuditSession, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

// Current returns the open or closing session, nil when there is none.
func (s *AuditService) Current(ctx context.Context) (*domain.AuditSession, error) {
	return s.sessions.ActiveSession(ctx)
}

// Progress reports how much of the catalog the session has counted.
func (s *AuditService) Progress(ctx context.Context, sessionID string) (domain.AuditProgress, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.AuditProgress{}, err
	}
	items, err := s.catalog.List(ctx)
	if err != nil {
		return domain.AuditProgress{}, err
	}

	progress := domain.AuditProgress{SessionID: sessionID, Total: len(items)}
	for _, item := range items {
		if _, ok := session.Counts[item.SKU]; ok {
			progress.Verified++
		} else {
			progress.Remaining = append(progress.Remaining, item.SKU)
		}
	}
	return progress, nil
}
