package handler

import (
	"bytes"
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
	"github.com/rl1809/warehouse-ledger/internal/core/service"
)

type GRPCHandler struct {
	svc    Services
	logger *zap.Logger
}

func NewGRPCHandler(svc Services, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{svc: svc, logger: logger}
}

func (h *GRPCHandler) toStatus(method string, err error) error {
	class := classify(err)
	if class == classInternal || class == classUnavailable {
		h.logger.Error("rpc failed", zap.String("method", method), zap.Error(err))
	}
	return status.Error(class.code, err.Error())
}

func (h *GRPCHandler) Receive(ctx context.Context, req *ReceiveRequest) (*EventJSON, error) {
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

	ev, err := h.svc.Inventory.Receive(ctx, sreq)
	if err != nil {
		return nil, h.toStatus("Receive", err)
	}
	out := eventJSON(ev)
	return &out, nil
}

func (h *GRPCHandler) Pick(ctx context.Context, req *PickRequest) (*PickResponse, error) {
	result, err := h.svc.Inventory.Pick(ctx, service.PickRequest{
		Payload:   req.Payload,
		Quantity:  req.Quantity,
		Actor:     req.Actor,
		Reference: req.Reference,
		RequestID: req.RequestID,
	})
	if err != nil {
		return nil, h.toStatus("Pick", err)
	}
	ev := eventJSON(result.Event)
	return &PickResponse{Resolution: resolutionJSON(result.Resolution), Event: &ev}, nil
}

func (h *GRPCHandler) Quantity(ctx context.Context, req *QuantityRequest) (*QuantityResponse, error) {
	if _, err := h.svc.Catalog.Get(ctx, req.SKU); err != nil {
		return nil, h.toStatus("Quantity", err)
	}
	q, err := h.svc.Ledger.CurrentQuantity(ctx, req.SKU)
	if err != nil {
		return nil, h.toStatus("Quantity", err)
	}
	return &QuantityResponse{SKU: req.SKU, Quantity: q}, nil
}

// History streams events as the ledger pages them in.
func (h *GRPCHandler) History(req *HistoryRequest, stream grpc.ServerStreamingServer[EventJSON]) error {
	for ev, err := range h.svc.Ledger.History(stream.Context(), req.SKU, req.SinceID) {
		if err != nil {
			return h.toStatus("History", err)
		}
		out := eventJSON(ev)
		if err := stream.Send(&out); err != nil {
			return err
		}
	}
	return nil
}

func (h *GRPCHandler) OpenAudit(ctx context.Context, req *ActorRequest) (*SessionJSON, error) {
	session, err := h.svc.Audit.Open(ctx, req.Actor)
	if err != nil {
		return nil, h.toStatus("OpenAudit", err)
	}
	out := sessionJSON(session)
	return &out, nil
}

func (h *GRPCHandler) ScanAudit(ctx context.Context, req *AuditScanRequest) (*ScanResponse, error) {
	res, err := h.svc.Audit.Scan(ctx, req.SessionID, req.Payload)
	if err != nil {
		return nil, h.toStatus("ScanAudit", err)
	}

	resp := &ScanResponse{Resolution: resolutionJSON(res)}
	if session, err := h.svc.Audit.Get(ctx, req.SessionID); err == nil {
		resp.Count = session.Counts[res.SKU]
	}
	return resp, nil
}

func (h *GRPCHandler) CloseAudit(ctx context.Context, req *SessionRequest) (*CloseAuditResponse, error) {
	ds, err := h.svc.Audit.Close(ctx, req.SessionID)
	if err != nil {
		return nil, h.toStatus("CloseAudit", err)
	}
	return &CloseAuditResponse{SessionID: req.SessionID, Discrepancies: discrepanciesJSON(ds)}, nil
}

// CommitAudit returns per-SKU failures in the body rather than as an RPC error.
func (h *GRPCHandler) CommitAudit(ctx context.Context, req *ActorRequest) (*ApplyResponse, error) {
	result, err := h.svc.Audit.Commit(ctx, req.SessionID, req.Actor)
	if err != nil && len(result.Committed)+len(result.Failed) == 0 {
		return nil, h.toStatus("CommitAudit", err)
	}
	out := applyResponse(result)
	return &out, nil
}

func (h *GRPCHandler) DiscardAudit(ctx context.Context, req *ActorRequest) (*SessionJSON, error) {
	session, err := h.svc.Audit.Discard(ctx, req.SessionID, req.Actor)
	if err != nil {
		return nil, h.toStatus("DiscardAudit", err)
	}
	out := sessionJSON(session)
	return &out, nil
}

func (h *GRPCHandler) CreateItem(ctx context.Context, req *ItemJSON) (*ItemJSON, error) {
	item, err := h.svc.Catalog.Create(ctx, req.toDomain())
	if err != nil {
		return nil, h.toStatus("CreateItem", err)
	}
	out := itemJSON(item)
	return &out, nil
}

func (h *GRPCHandler) GetItem(ctx context.Context, req *ItemRequest) (*ItemJSON, error) {
	item, err := h.svc.Catalog.Get(ctx, req.SKU)
	if err != nil {
		return nil, h.toStatus("GetItem", err)
	}
	out := itemJSON(item)
	return &out, nil
}

func (h *GRPCHandler) SearchItems(ctx context.Context, req *ItemSearchRequest) (*ItemsResponse, error) {
	items, err := h.svc.Catalog.Search(ctx, domain.ItemQuery{
		Text:       req.Text,
		Make:       req.Make,
		Model:      req.Model,
		PartNumber: req.PartNumber,
	})
	if err != nil {
		return nil, h.toStatus("SearchItems", err)
	}
	return &ItemsResponse{Items: itemsJSON(items)}, nil
}

func (h *GRPCHandler) Labels(ctx context.Context, req *LabelsRequest) (*LabelsResponse, error) {
	labels, err := h.svc.Catalog.Labels(ctx, req.SKUs)
	if err != nil {
		return nil, h.toStatus("Labels", err)
	}
	return &LabelsResponse{Labels: labelsJSON(labels)}, nil
}

func (h *GRPCHandler) Import(ctx context.Context, req *ImportRequest) (*ImportResponse, error) {
	report, err := h.svc.Importer.ImportCSV(ctx, strings.NewReader(req.CSV), req.Actor)
	if err != nil {
		return nil, h.toStatus("Import", err)
	}
	out := importResponse(report)
	return &out, nil
}

func (h *GRPCHandler) ImportItems(ctx context.Context, req *ImportRequest) (*ImportResponse, error) {
	report, err := h.svc.Importer.ImportItemsCSV(ctx, strings.NewReader(req.CSV), req.Actor)
	if err != nil {
		return nil, h.toStatus("ImportItems", err)
	}
	out := importResponse(report)
	return &out, nil
}

func (h *GRPCHandler) ExportStock(ctx context.Context, _ *ExportRequest) (*CSVResponse, error) {
	var buf bytes.Buffer
	n, err := h.svc.Exporter.WriteStockCSV(ctx, &buf)
	if err != nil {
		return nil, h.toStatus("ExportStock", err)
	}
	return &CSVResponse{Rows: n, CSV: buf.String()}, nil
}

func (h *GRPCHandler) ExportAudit(ctx context.Context, req *ExportRequest) (*CSVResponse, error) {
	var buf bytes.Buffer
	n, err := h.svc.Exporter.WriteAuditCSV(ctx, &buf, req.SessionID)
	if err != nil {
		return nil, h.toStatus("ExportAudit", err)
	}
	return &CSVResponse{Rows: n, CSV: buf.String()}, nil
}
