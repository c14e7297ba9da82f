package service

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
	"github.com/rl1809/warehouse-ledger/internal/platform/metrics"
)

// ReconciliationService compares audit counts with the ledger. Reconcile is
// read-only; Apply is the only path by which an audit changes stock.
type ReconciliationService struct {
	ledger  *LedgerService
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewReconciliationService(ledger *LedgerService, logger *zap.Logger, m *metrics.Metrics) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{ledger: ledger, logger: logger, metrics: m}
}

func (r *ReconciliationService) Reconcile(ctx context.Context, session domain.AuditSession) ([]domain.Discrepancy, error) {
	ctx, span := tracer.Start(ctx, "reconcile.run", trace.WithAttributes(
		attribute.String("audit.session_id", session.ID),
		attribute.Int("audit.counted_skus", len(session.Counts)),
	))
	defer span.End()

	snap, err := r.ledger.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	discrepancies := ComputeDiscrepancies(snap.Quantities, session.Counts)
	r.metrics.AddDiscrepancies(len(discrepancies))
	span.SetAttributes(
		attribute.Int("audit.discrepancies", len(discrepancies)),
		attribute.Int64("ledger.watermark", snap.Watermark),
	)
	return discrepancies, nil
}

// ComputeDiscrepancies covers every counted SKU plus every SKU with non-zero
// recorded stock that was not counted. Zero deltas are dropped; the rest are
// ordered by magnitude descending, then SKU ascending.
func ComputeDiscrepancies(recorded, counted map[string]int64) []domain.Discrepancy {
	var out []domain.Discrepancy
	add := func(sku string, rec, cnt int64) {
		if delta := cnt - rec; delta != 0 {
			out = append(out, domain.Discrepancy{SKU: sku, Recorded: rec, Counted: cnt, Delta: delta})
		}
	}

	for sku, cnt := range counted {
		add(sku, recorded[sku], cnt)
	}
	for sku, rec := range recorded {
		if _, ok := counted[sku]; !ok {
			add(sku, rec, 0)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		mi, mj := out[i].Magnitude(), out[j].Magnitude()
		if mi != mj {
			return mi > mj
		}
		return out[i].SKU < out[j].SKU
	})
	return out
}

// AdjustmentKey is the idempotency key of the adjustment a session makes to sku.
func AdjustmentKey(sessionID, sku string) string {
	return "audit:" + sessionID + ":" + sku
}

// Apply appends one audit adjustment per discrepancy, continuing past
// per-SKU failures. Once ctx is done no further appends start and the
// remaining SKUs are reported as failed. The returned error joins every
// failure and is nil when everything committed.
func (r *ReconciliationService) Apply(ctx context.Context, sessionID string, discrepancies []domain.Discrepancy, actor string) (domain.ApplyResult, error) {
	ctx, span := tracer.Start(ctx, "reconcile.apply", trace.WithAttributes(
		attribute.String("audit.session_id", sessionID),
		attribute.Int("audit.discrepancies", len(discrepancies)),
	))
	defer span.End()

	result := domain.ApplyResult{SessionID: sessionID}
	for i, d := range discrepancies {
		if d.Delta == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			for _, rest := range discrepancies[i:] {
				if rest.Delta != 0 {
					result.Failed = append(result.Failed, domain.ApplyFailure{SKU: rest.SKU, Reason: "cancelled", Err: err})
				}
			}
			break
		}

		ev, err := r.ledger.Append(ctx, domain.LedgerEvent{
			SKU:            d.SKU,
			Type:           domain.EventAuditAdjustment,
			Delta:          d.Delta,
			Actor:          actor,
			Reference:      sessionID,
			IdempotencyKey: AdjustmentKey(sessionID, d.SKU),
		})
		switch {
		case errors.Is(err, domain.ErrDuplicateEvent):
			if ev.ID != 0 {
				result.Committed = append(result.Committed, ev)
			}
		case err != nil:
			result.Failed = append(result.Failed, domain.ApplyFailure{SKU: d.SKU, Reason: failureReason(err), Err: err})
			r.logger.Warn("audit adjustment failed",
				zap.String("session_id", sessionID),
				zap.String("sku", d.SKU),
				zap.Int64("delta", d.Delta),
				zap.Error(err),
			)
		default:
			result.Committed = append(result.Committed, ev)
		}
	}

	span.SetAttributes(
		attribute.Int("audit.committed", len(result.Committed)),
		attribute.Int("audit.failed", len(result.Failed)),
	)
	r.logger.Info("audit adjustments applied",
		zap.String("session_id", sessionID),
		zap.Int("committed", len(result.Committed)),
		zap.Int("failed", len(result.Failed)),
	)
	return result, result.Err()
}
