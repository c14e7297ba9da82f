package handler

import (
	"time"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

// Wire types shared by the HTTP API and the JSON-coded gRPC service.

type ItemJSON struct {
	SKU              string    `json:"sku"`
	Description      string    `json:"description"`
	UnitOfMeasure    string    `json:"unit_of_measure,omitempty"`
	ReorderThreshold int64     `json:"reorder_threshold"`
	Make             string    `json:"make,omitempty"`
	Model            string    `json:"model,omitempty"`
	PartNumber       string    `json:"part_number,omitempty"`
	SerialNumber     string    `json:"serial_number,omitempty"`
	BinLocation      string    `json:"bin_location,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	CodeType         string    `json:"code_type,omitempty"`
	Stub             bool      `json:"stub,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitzero"`
	UpdatedAt        time.Time `json:"updated_at,omitzero"`
}

func (i ItemJSON) toDomain() domain.Item {
	return domain.Item{
		SKU:              i.SKU,
		Description:      i.Description,
		UnitOfMeasure:    i.UnitOfMeasure,
		ReorderThreshold: i.ReorderThreshold,
		Make:             i.Make,
		Model:            i.Model,
		PartNumber:       i.PartNumber,
		SerialNumber:     i.SerialNumber,
		BinLocation:      i.BinLocation,
		Notes:            i.Notes,
		CodeType:         domain.CodeType(i.CodeType),
	}
}

func itemJSON(item domain.Item) ItemJSON {
	return ItemJSON{
		SKU:              item.SKU,
		Description:      item.Description,
		UnitOfMeasure:    item.UnitOfMeasure,
		ReorderThreshold: item.ReorderThreshold,
		Make:             item.Make,
		Model:            item.Model,
		PartNumber:       item.PartNumber,
		SerialNumber:     item.SerialNumber,
		BinLocation:      item.BinLocation,
		Notes:            item.Notes,
		CodeType:         string(item.CodeType),
		Stub:             item.Stub,
		CreatedAt:        item.CreatedAt,
		UpdatedAt:        item.UpdatedAt,
	}
}

type ItemPatchJSON struct {
	Description      *string `json:"description"`
	ReorderThreshold *int64  `json:"reorder_threshold"`
	Make             *string `json:"make"`
	Model            *string `json:"model"`
	PartNumber       *string `json:"part_number"`
	SerialNumber     *string `json:"serial_number"`
	BinLocation      *string `json:"bin_location"`
	Notes            *string `json:"notes"`
	CodeType         *string `json:"code_type"`
}

func (p ItemPatchJSON) toDomain() domain.ItemPatch {
	patch := domain.ItemPatch{
		Description:      p.Description,
		ReorderThreshold: p.ReorderThreshold,
		Make:             p.Make,
		Model:            p.Model,
		PartNumber:       p.PartNumber,
		SerialNumber:     p.SerialNumber,
		BinLocation:      p.BinLocation,
		Notes:            p.Notes,
	}
	if p.CodeType != nil {
		ct := domain.CodeType(*p.CodeType)
		patch.CodeType = &ct
	}
	return patch
}

type EventJSON struct {
	ID        int64     `json:"event_id"`
	SKU       string    `json:"sku"`
	Type      string    `json:"event_type"`
	Delta     int64     `json:"delta"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Reference string    `json:"reference,omitempty"`
}

func eventJSON(ev domain.LedgerEvent) EventJSON {
	return EventJSON{
		ID:        ev.ID,
		SKU:       ev.SKU,
		Type:      string(ev.Type),
		Delta:     ev.Delta,
		Timestamp: ev.Timestamp,
		Actor:     ev.Actor,
		Reference: ev.Reference,
	}
}

type ReceiveRequest struct {
	RequestID string    `json:"request_id"`
	SKU       string    `json:"sku"`
	Quantity  int64     `json:"quantity"`
	Actor     string    `json:"actor"`
	Reference string    `json:"reference"`
	Item      *ItemJSON `json:"item,omitempty"`
}

type PickRequest struct {
	RequestID string `json:"request_id"`
	Payload   string `json:"payload"`
	Quantity  int64  `json:"quantity"`
	Actor     string `json:"actor"`
	Reference string `json:"reference"`
}

type ResolutionJSON struct {
	Result   string `json:"result"`
	SKU      string `json:"sku,omitempty"`
	Location string `json:"location,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func resolutionJSON(res domain.Resolution) ResolutionJSON {
	return ResolutionJSON{
		Result:   res.Kind.String(),
		SKU:      res.SKU,
		Location: res.Location,
		Reason:   res.Reason,
	}
}

type PickResponse struct {
	Resolution ResolutionJSON `json:"resolution"`
	Event      *EventJSON     `json:"event,omitempty"`
}

type ItemRequest struct {
	SKU string `json:"sku"`
}

type ItemSearchRequest struct {
	Text       string `json:"q,omitempty"`
	Make       string `json:"make,omitempty"`
	Model      string `json:"model,omitempty"`
	PartNumber string `json:"part_number,omitempty"`
}

type ItemsResponse struct {
	Items []ItemJSON `json:"items"`
}

func itemsJSON(items []domain.Item) []ItemJSON {
	out := make([]ItemJSON, 0, len(items))
	for _, item := range items {
		out = append(out, itemJSON(item))
	}
	return out
}

type LabelJSON struct {
	SKU         string `json:"sku"`
	Description string `json:"description"`
	Location    string `json:"location"`
	CodeType    string `json:"code_type"`
}

func labelsJSON(labels []domain.LabelRecord) []LabelJSON {
	out := make([]LabelJSON, 0, len(labels))
	for _, l := range labels {
		out = append(out, LabelJSON{SKU: l.SKU, Description: l.Description, Location: l.Location, CodeType: string(l.CodeType)})
	}
	return out
}

type LabelsRequest struct {
	SKUs []string `json:"skus"`
}

type LabelsResponse struct {
	Labels []LabelJSON `json:"labels"`
}

type QuantityRequest struct {
	SKU string `json:"sku"`
}

type QuantityResponse struct {
	SKU      string `json:"sku"`
	Quantity int64  `json:"quantity"`
}

type HistoryRequest struct {
	SKU     string `json:"sku"`
	SinceID int64  `json:"since_id"`
}

type ScanRequest struct {
	Payload string `json:"payload"`
}

type ActorRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Actor     string `json:"actor"`
}

type AuditScanRequest struct {
	SessionID string `json:"session_id"`
	Payload   string `json:"payload"`
}

type CountRequest struct {
	Count int64 `json:"count"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type DiscrepancyJSON struct {
	SKU      string `json:"sku"`
	Recorded int64  `json:"recorded"`
	Counted  int64  `json:"counted"`
	Delta    int64  `json:"delta"`
}

func discrepanciesJSON(ds []domain.Discrepancy) []DiscrepancyJSON {
	out := make([]DiscrepancyJSON, 0, len(ds))
	for _, d := range ds {
		out = append(out, DiscrepancyJSON{SKU: d.SKU, Recorded: d.Recorded, Counted: d.Counted, Delta: d.Delta})
	}
	return out
}

type SessionJSON struct {
	ID              string            `json:"session_id"`
	State           string            `json:"state"`
	OpenedBy        string            `json:"opened_by"`
	OpenedAt        time.Time         `json:"opened_at"`
	ClosedAt        *time.Time        `json:"closed_at,omitempty"`
	Counts          map[string]int64  `json:"counts"`
	Locations       map[string]string `json:"locations,omitempty"`
	Discrepancies   []DiscrepancyJSON `json:"discrepancies,omitempty"`
	AppliedEventIDs []int64           `json:"applied_event_ids,omitempty"`
	Unapplied       []string          `json:"unapplied,omitempty"`
	Outcome         string            `json:"outcome,omitempty"`
}

func sessionJSON(s domain.AuditSession) SessionJSON {
	out := SessionJSON{
		ID:              s.ID,
		State:           string(s.State),
		OpenedBy:        s.OpenedBy,
		OpenedAt:        s.OpenedAt,
		ClosedAt:        s.ClosedAt,
		Counts:          s.Counts,
		Locations:       s.Locations,
		AppliedEventIDs: s.AppliedEventIDs,
		Unapplied:       s.Unapplied,
		Outcome:         string(s.Outcome),
	}
	if len(s.Discrepancies) > 0 {
		out.Discrepancies = discrepanciesJSON(s.Discrepancies)
	}
	return out
}

type ScanResponse struct {
	Resolution ResolutionJSON `json:"resolution"`
	Count      int64          `json:"count,omitempty"`
}

type CloseAuditResponse struct {
	SessionID     string            `json:"session_id"`
	Discrepancies []DiscrepancyJSON `json:"discrepancies"`
}

type ApplyFailureJSON struct {
	SKU    string `json:"sku"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

type ApplyResponse struct {
	SessionID string             `json:"session_id"`
	Committed []EventJSON        `json:"committed"`
	Failed    []ApplyFailureJSON `json:"failed,omitempty"`
}

func applyResponse(r domain.ApplyResult) ApplyResponse {
	out := ApplyResponse{SessionID: r.SessionID, Committed: make([]EventJSON, 0, len(r.Committed))}
	for _, ev := range r.Committed {
		out.Committed = append(out.Committed, eventJSON(ev))
	}
	for _, f := range r.Failed {
		out.Failed = append(out.Failed, ApplyFailureJSON{SKU: f.SKU, Reason: f.Reason, Error: f.Err.Error()})
	}
	return out
}

type ImportResultJSON struct {
	Line    int    `json:"line"`
	SKU     string `json:"sku"`
	EventID int64  `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ImportResponse struct {
	Imported int                `json:"imported"`
	Failed   int                `json:"failed"`
	Results  []ImportResultJSON `json:"results"`
}

func importResponse(r domain.ImportReport) ImportResponse {
	out := ImportResponse{Imported: r.Imported, Failed: r.Failed, Results: make([]ImportResultJSON, 0, len(r.Results))}
	for _, res := range r.Results {
		row := ImportResultJSON{Line: res.Line, SKU: res.SKU, EventID: res.EventID}
		if res.Err != nil {
			row.Error = res.Err.Error()
		}
		out.Results = append(out.Results, row)
	}
	return out
}

// ImportRequest carries a whole CSV file for the gRPC import calls.
type ImportRequest struct {
	Actor string `json:"actor"`
	CSV   string `json:"csv"`
}

type ExportRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

type CSVResponse struct {
	Rows int    `json:"rows"`
	CSV  string `json:"csv"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
