package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
	"github.com/rl1809/warehouse-ledger/internal/core/service"
)

// Services bundles the workflows exposed by both transports.
type Services struct {
	Catalog   *service.CatalogService
	Ledger    *service.LedgerService
	Inventory *service.InventoryService
	Resolver  *service.ScanResolver
	Audit     *service.AuditService
	Importer  *service.Importer
	Exporter  *service.Exporter
}

type HTTPHandler struct {
	svc    Services
	logger *zap.Logger
}

func NewHTTPHandler(svc Services, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{svc: svc, logger: logger}
}

// Routes builds the API router. Callers may mount more handlers (metrics) on it.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/items", h.CreateItem)
		r.Get("/items", h.SearchItems)
		r.Get("/items/{sku}", h.GetItem)
		r.Patch("/items/{sku}", h.UpdateItem)
		r.Get("/items/{sku}/quantity", h.Quantity)
		r.Get("/items/{sku}/history", h.History)

		r.Post("/receive", h.Receive)
		r.Post("/pick", h.Pick)
		r.Post("/scan/resolve", h.Resolve)

		r.Get("/stock", h.Stock)
		r.Post("/stock/replay", h.Replay)
		r.Post("/stock/invalidate", h.Invalidate)
		r.Get("/reorder", h.Reorder)
		r.Get("/labels", h.Labels)

		r.Post("/audits", h.OpenAudit)
		r.Get("/audits/current", h.CurrentAudit)
		r.Get("/audits/{id}", h.GetAudit)
		r.Get("/audits/{id}/progress", h.AuditProgress)
		r.Post("/audits/{id}/scans", h.ScanAudit)
		r.Put("/audits/{id}/counts/{sku}", h.SetAuditCount)
		r.Post("/audits/{id}/close", h.CloseAudit)
		r.Post("/audits/{id}/commit", h.CommitAudit)
		r.Post("/audits/{id}/discard", h.DiscardAudit)
		r.Get("/audits/{id}/export", h.ExportAudit)

		r.Post("/import", h.Import)
		r.Post("/import/items", h.ImportItems)
		r.Get("/export/history", h.ExportHistory)
		r.Get("/export/stock", h.ExportStock)
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemJSON
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.svc.Catalog.Create(r.Context(), req.toDomain())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, itemJSON(item))
}

func (h *HTTPHandler) SearchItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.svc.Catalog.Search(r.Context(), domain.ItemQuery{
		Text:       q.Get("q"),
		Make:       q.Get("make"),
		Model:      q.Get("model"),
		PartNumber: q.Get("part_number"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemsJSON(items))
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Catalog.Get(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemJSON(item))
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemPatchJSON
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.svc.Catalog.Update(r.Context(), chi.URLParam(r, "sku"), req.toDomain())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemJSON(item))
}

func (h *HTTPHandler) Quantity(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	if _, err := h.svc.Catalog.Get(r.Context(), sku); err != nil {
		h.writeError(w, r, err)
		return
	}
	q, err := h.svc.Ledger.CurrentQuantity(r.Context(), sku)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QuantityResponse{SKU: sku, Quantity: q})
}

func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	since, ok := h.sinceParam(w, r)
	if !ok {
		return
	}
	events := []EventJSON{}
	for ev, err := range h.svc.Ledger.History(r.Context(), chi.URLParam(r, "sku"), since) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		events = append(events, eventJSON(ev))
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *HTTPHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req ReceiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	sreq := service.ReceiveRequest{
		SKU:       req.SKU,
		Quantity:  req.Quantity,
		Actor:     req.Actor,
		Reference: req.Reference,
		RequestID: req.RequestID,
	}
	if req.Item != nil {
		item := req.Item.toDomain()
		sreq.Item = &item
	}

	ev, err := h.svc.Inventory.Receive(r.Context(), sreq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, eventJSON(ev))
}

func (h *HTTPHandler) Pick(w http.ResponseWriter, r *http.Request) {
	var req PickRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.svc.Inventory.Pick(r.Context(), service.PickRequest{
		Payload:   req.Payload,
		Quantity:  req.Quantity,
		Actor:     req.Actor,
		Reference: req.Reference,
		RequestID: req.RequestID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ev := eventJSON(result.Event)
	writeJSON(w, http.StatusCreated, PickResponse{Resolution: resolutionJSON(result.Resolution), Event: &ev})
}

func (h *HTTPHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Resolver.Resolve(r.Context(), req.Payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolutionJSON(res))
}

func (h *HTTPHandler) Stock(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Ledger.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quantities": snap.Quantities, "watermark": snap.Watermark})
}

func (h *HTTPHandler) Replay(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Ledger.Replay(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quantities": snap.Quantities, "watermark": snap.Watermark})
}

// Invalidate drops the cached quantities of the sku query parameters. The next
// read folds from the ledger again.
func (h *HTTPHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	skus := r.URL.Query()["sku"]
	if len(skus) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "at least one sku query parameter is required"})
		return
	}
	if err := h.svc.Ledger.Invalidate(r.Context(), skus...); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	lines, err := h.svc.Inventory.ReorderReport(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	type reorderJSON struct {
		SKU              string `json:"sku"`
		Description      string `json:"description"`
		Quantity         int64  `json:"quantity"`
		ReorderThreshold int64  `json:"reorder_threshold"`
	}
	out := make([]reorderJSON, 0, len(lines))
	for _, l := range lines {
		out = append(out, reorderJSON{l.SKU, l.Description, l.Quantity, l.ReorderThreshold})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) Labels(w http.ResponseWriter, r *http.Request) {
	labels, err := h.svc.Catalog.Labels(r.Context(), r.URL.Query()["sku"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, labelsJSON(labels))
}

func (h *HTTPHandler) OpenAudit(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.svc.Audit.Open(r.Context(), req.Actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionJSON(session))
}

func (h *HTTPHandler) CurrentAudit(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.Audit.Current(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if session == nil {
		h.writeError(w, r, domain.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(*session))
}

func (h *HTTPHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.Audit.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (h *HTTPHandler) AuditProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Audit.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": p.SessionID,
		"verified":   p.Verified,
		"total":      p.Total,
		"remaining":  p.Remaining,
	})
}

func (h *HTTPHandler) ScanAudit(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	res, err := h.svc.Audit.Scan(r.Context(), id, req.Payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := ScanResponse{Resolution: resolutionJSON(res)}
	if session, err := h.svc.Audit.Get(r.Context(), id); err == nil {
		resp.Count = session.Counts[res.SKU]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) SetAuditCount(w http.ResponseWriter, r *http.Request) {
	var req CountRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Audit.SetCount(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "sku"), req.Count); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) CloseAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ds, err := h.svc.Audit.Close(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CloseAuditResponse{SessionID: id, Discrepancies: discrepanciesJSON(ds)})
}

// CommitAudit answers 207 when some adjustments failed; the body lists both sides.
func (h *HTTPHandler) CommitAudit(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.svc.Audit.Commit(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil && len(result.Committed)+len(result.Failed) == 0 {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, applyResponse(result))
}

func (h *HTTPHandler) DiscardAudit(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.svc.Audit.Discard(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionJSON(session))
}

func (h *HTTPHandler) Import(w http.ResponseWriter, r *http.Request) {
	h.importWith(w, r, h.svc.Importer.ImportCSV)
}

// ImportItems creates catalog items with their opening stock from a CSV body.
func (h *HTTPHandler) ImportItems(w http.ResponseWriter, r *http.Request) {
	h.importWith(w, r, h.svc.Importer.ImportItemsCSV)
}

func (h *HTTPHandler) importWith(w http.ResponseWriter, r *http.Request,
	run func(ctx context.Context, body io.Reader, actor string) (domain.ImportReport, error),
) {
	actor := r.URL.Query().Get("actor")
	if actor == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "actor query parameter is required"})
		return
	}
	report, err := run(r.Context(), r.Body, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse(report))
}

func (h *HTTPHandler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Audit.Get(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_`+id+`.csv"`)
	if _, err := h.svc.Exporter.WriteAuditCSV(r.Context(), w, id); err != nil {
		h.logger.Error("audit export failed", zap.String("session_id", id), zap.Error(err))
	}
}

func (h *HTTPHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	since, ok := h.sinceParam(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger_history.csv"`)
	if _, err := h.svc.Exporter.WriteHistoryCSV(r.Context(), w, r.URL.Query().Get("sku"), since); err != nil {
		// Headers are gone once rows are streamed; the truncated body is all we can signal.
		h.logger.Error("history export failed", zap.Error(err))
	}
}

func (h *HTTPHandler) ExportStock(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="stock.csv"`)
	if _, err := h.svc.Exporter.WriteStockCSV(r.Context(), w); err != nil {
		h.logger.Error("stock export failed", zap.Error(err))
	}
}

func (h *HTTPHandler) sinceParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, true
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "since must be a non-negative event id"})
		return 0, false
	}
	return since, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "invalid request body"})
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	class := classify(err)
	if class == classInternal || class == classUnavailable {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}

	message := err.Error()
	if class == classInternal {
		message = "internal error"
	}
	writeJSON(w, class.status, ErrorResponse{Error: class.label, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
