package handler

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type httpFixture struct {
	t      *testing.T
	router http.Handler
}

func newHTTPFixture(t *testing.T) *httpFixture {
	h := NewHTTPHandler(newTestServices(t), zaptest.NewLogger(t))
	return &httpFixture{t: t, router: h.Routes()}
}

func (f *httpFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func TestHTTP_Health(t *testing.T) {
	f := newHTTPFixture(t)
	rec := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHTTP_ReceiveAndPick(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(http.MethodPost, "/api/receive", ReceiveRequest{SKU: "A", Quantity: 5, Actor: "dock", RequestID: "po-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ev := decodeBody[EventJSON](t, rec)
	assert.Equal(t, "receive", ev.Type)
	assert.Equal(t, int64(5), ev.Delta)

	rec = f.do(http.MethodPost, "/api/pick", PickRequest{Payload: "A", Quantity: 3, Actor: "floor", RequestID: "ord-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pick := decodeBody[PickResponse](t, rec)
	assert.Equal(t, "resolved", pick.Resolution.Result)
	require.NotNil(t, pick.Event)
	assert.Equal(t, int64(-3), pick.Event.Delta)
	assert.Equal(t, "bin:R1", pick.Event.Reference)

	rec = f.do(http.MethodGet, "/api/items/A/quantity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, QuantityResponse{SKU: "A", Quantity: 12}, decodeBody[QuantityResponse](t, rec))
}

func TestHTTP_ErrorStatuses(t *testing.T) {
	f := newHTTPFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		label  string
	}{
		{"unknown item", http.MethodGet, "/api/items/NOPE", nil, http.StatusNotFound, "not_found"},
		{"quantity of unknown item", http.MethodGet, "/api/items/NOPE/quantity", nil, http.StatusNotFound, "not_found"},
		{"receive unknown sku", http.MethodPost, "/api/receive", ReceiveRequest{SKU: "NOPE", Quantity: 1, Actor: "dock"}, http.StatusNotFound, "not_found"},
		{"pick beyond stock", http.MethodPost, "/api/pick", PickRequest{Payload: "B", Quantity: 6, Actor: "floor"}, http.StatusConflict, "insufficient_stock"},
		{"non-positive receive", http.MethodPost, "/api/receive", ReceiveRequest{SKU: "A", Quantity: -1, Actor: "dock"}, http.StatusUnprocessableEntity, "invalid"},
		{"malformed label", http.MethodPost, "/api/pick", PickRequest{Payload: "A@", Quantity: 1, Actor: "floor"}, http.StatusUnprocessableEntity, "invalid"},
		{"duplicate item", http.MethodPost, "/api/items", ItemJSON{SKU: "A"}, http.StatusConflict, "conflict"},
		{"bad json", http.MethodPost, "/api/pick", "{", http.StatusBadRequest, "bad_request"},
		{"bad since", http.MethodGet, "/api/items/A/history?since=-4", nil, http.StatusBadRequest, "bad_request"},
		{"no audit running", http.MethodGet, "/api/audits/current", nil, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.label, decodeBody[ErrorResponse](t, rec).Error)
		})
	}

	rec := f.do(http.MethodGet, "/api/items/B/quantity", nil)
	assert.Equal(t, int64(5), decodeBody[QuantityResponse](t, rec).Quantity, "rejected writes change nothing")
}

func TestHTTP_ItemsAndHistory(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(http.MethodPost, "/api/items", ItemJSON{SKU: "C", Description: "Oil filter", Make: "Bosch"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[ItemJSON](t, rec)
	assert.Equal(t, "each", created.UnitOfMeasure)
	assert.Equal(t, "code128", created.CodeType)

	rec = f.do(http.MethodPatch, "/api/items/C", `{"bin_location":"R9"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "R9", decodeBody[ItemJSON](t, rec).BinLocation)

	rec = f.do(http.MethodGet, "/api/items?make=bosch", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody[[]ItemJSON](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "C", items[0].SKU)

	f.do(http.MethodPost, "/api/pick", PickRequest{Payload: "A", Quantity: 1, Actor: "floor"})
	f.do(http.MethodPost, "/api/pick", PickRequest{Payload: "A", Quantity: 2, Actor: "floor"})

	rec = f.do(http.MethodGet, "/api/items/A/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]EventJSON](t, rec)
	require.Len(t, history, 3)
	assert.Equal(t, []int64{10, -1, -2}, []int64{history[0].Delta, history[1].Delta, history[2].Delta})

	rec = f.do(http.MethodGet, "/api/items/A/history?since="+jsonNumber(history[1].ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history = decodeBody[[]EventJSON](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, int64(-2), history[0].Delta)

	rec = f.do(http.MethodGet, "/api/reorder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sku":"A"`)

	rec = f.do(http.MethodGet, "/api/labels?sku=A&sku=C", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"location":"R9"`)
}

func TestHTTP_AuditCommitPartial(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(http.MethodPost, "/api/audits", ActorRequest{Actor: "auditor"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decodeBody[SessionJSON](t, rec)
	assert.Equal(t, "open", session.State)
	base := "/api/audits/" + session.ID

	rec = f.do(http.MethodPost, base+"/scans", ScanRequest{Payload: "A"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decodeBody[ScanResponse](t, rec).Count)

	rec = f.do(http.MethodPost, base+"/scans", ScanRequest{Payload: "GHOST"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPut, base+"/counts/A", CountRequest{Count: 10})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, base+"/close", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decodeBody[CloseAuditResponse](t, rec)
	assert.Equal(t, []DiscrepancyJSON{{SKU: "B", Recorded: 5, Counted: 0, Delta: -5}}, closed.Discrepancies)

	// B moves after review, so its adjustment can no longer apply.
	rec = f.do(http.MethodPost, "/api/pick", PickRequest{Payload: "B", Quantity: 2, Actor: "floor"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, base+"/commit", ActorRequest{Actor: "supervisor"})
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	applied := decodeBody[ApplyResponse](t, rec)
	assert.Empty(t, applied.Committed)
	require.Len(t, applied.Failed, 1)
	assert.Equal(t, "B", applied.Failed[0].SKU)

	rec = f.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closing", decodeBody[SessionJSON](t, rec).State)

	rec = f.do(http.MethodPost, base+"/discard", ActorRequest{Actor: "supervisor"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	discarded := decodeBody[SessionJSON](t, rec)
	assert.Equal(t, "closed", discarded.State)
	assert.Equal(t, "discarded", discarded.Outcome)
}

func TestHTTP_ImportExport(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(http.MethodPost, "/api/import", "sku,delta,event_type,reference\nA,1,receive,\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "actor is required")

	rec = f.do(http.MethodPost, "/api/import?actor=clerk", "sku,delta,event_type,reference\nA,4,receive,po-9\nB,-9,pick,\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[ImportResponse](t, rec)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 2)
	assert.NotEmpty(t, report.Results[1].Error)

	rec = f.do(http.MethodPost, "/api/import?actor=clerk", "sku,qty\n")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodGet, "/api/export/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"A", "widget", "14"}, rows[1][:3])
	assert.Equal(t, []string{"B", "gadget", "5"}, rows[2][:3])

	rec = f.do(http.MethodGet, "/api/export/history?sku=A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[2], "po-9")
}

func TestHTTP_ImportItems(t *testing.T) {
	f := newHTTPFixture(t)

	body := "make,model,bin_location,quantity,sku\nBosch,CP-200,R2,6,PUMP-1\nDenso,,R3,1,\n"
	rec := f.do(http.MethodPost, "/api/import/items?actor=clerk", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[ImportResponse](t, rec)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "PUMP-1", report.Results[0].SKU)

	rec = f.do(http.MethodGet, "/api/items/PUMP-1/quantity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(6), decodeBody[QuantityResponse](t, rec).Quantity)

	rec = f.do(http.MethodPost, "/api/import/items?actor=clerk", "sku,delta\n")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHTTP_ExportAudit(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(http.MethodGet, "/api/audits/missing/export", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/audits", ActorRequest{Actor: "auditor"})
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decodeBody[SessionJSON](t, rec)
	rec = f.do(http.MethodPost, "/api/audits/"+session.ID+"/scans", ScanRequest{Payload: "B"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/audits/"+session.ID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"A", "", "false"}, []string{rows[1][0], rows[1][5], rows[1][6]})
	assert.Equal(t, []string{"B", "1", "true"}, []string{rows[2][0], rows[2][5], rows[2][6]})
}

func TestHTTP_StockAndReplay(t *testing.T) {
	f := newHTTPFixture(t)

	type stockJSON struct {
		Quantities map[string]int64 `json:"quantities"`
		Watermark  int64            `json:"watermark"`
	}

	rec := f.do(http.MethodGet, "/api/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stock := decodeBody[stockJSON](t, rec)
	assert.Equal(t, map[string]int64{"A": 10, "B": 5}, stock.Quantities)
	assert.Equal(t, int64(2), stock.Watermark)

	rec = f.do(http.MethodPost, "/api/stock/replay", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stock, decodeBody[stockJSON](t, rec))

	rec = f.do(http.MethodPost, "/api/stock/invalidate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/stock/invalidate?sku=A", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/items/A/quantity", nil)
	assert.Equal(t, int64(10), decodeBody[QuantityResponse](t, rec).Quantity, "invalidated entries fold again")
}

func jsonNumber(n int64) string {
	raw, _ := json.Marshal(n)
	return string(raw)
}
