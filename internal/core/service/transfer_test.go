package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

func TestImportCSV(t *testing.T) {
	env := newTestEnv(t)
	env.addItem(t, domain.Item{SKU: "A"})
	env.addItem(t, domain.Item{SKU: "B"})
	importer := NewImporter(env.ledger, env.catalog, nil)

	input := strings.Join([]string{
		"sku,delta,event_type,reference",
		"A,10,receive,po-1",
		"B,five,receive,",
		"B,3,Receive,",
		"A,-4,pick,",
		"A,-20,pick,",
		"GHOST,1,receive,",
		"A,1,transfer,",
	}, "\n")

	report, err := importer.ImportCSV(context.Background(), strings.NewReader(input), "importer")
	require.NoError(t, err)

	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 4, report.Failed)
	require.Len(t, report.Results, 7)

	byLine := make(map[int]domain.ImportResult)
	for i, r := range report.Results {
		assert.Equal(t, i+2, r.Line, "results are in file order")
		byLine[r.Line] = r
	}
	assert.NoError(t, byLine[2].Err)
	assert.NotZero(t, byLine[2].EventID)
	assert.ErrorIs(t, byLine[3].Err, domain.ErrInvalidEvent)
	assert.NoError(t, byLine[4].Err)
	assert.NoError(t, byLine[5].Err)
	assert.ErrorIs(t, byLine[6].Err, domain.ErrInsufficientStock)
	assert.ErrorIs(t, byLine[7].Err, domain.ErrUnknownSKU)
	assert.ErrorIs(t, byLine[8].Err, domain.ErrInvalidEvent)

	assert.Equal(t, int64(6), env.quantity(t, "A"))
	assert.Equal(t, int64(3), env.quantity(t, "B"))

	var refs []string
	for ev, err := range env.ledger.History(context.Background(), "A", 0) {
		require.NoError(t, err)
		refs = append(refs, ev.Reference)
		assert.Equal(t, "importer", ev.Actor)
	}
	assert.Equal(t, []string{"po-1", ""}, refs)
}

func TestImportCSV_BadHeader(t *testing.T) {
	env := newTestEnv(t)
	importer := NewImporter(env.ledger, env.catalog, nil)

	_, err := importer.ImportCSV(context.Background(), strings.NewReader("sku,delta\nA,1\n"), "importer")
	assert.ErrorIs(t, err, ErrInvalidImport)

	_, err = importer.ImportCSV(context.Background(), strings.NewReader(""), "importer")
	assert.ErrorIs(t, err, ErrInvalidImport)
}

func TestImportItemsCSV(t *testing.T) {
	env := newTestEnv(t)
	env.addItem(t, domain.Item{SKU: "TAKEN"})
	importer := NewImporter(env.ledger, env.catalog, nil)
	ctx := context.Background()

	input := strings.Join([]string{
		"make,model,part_number,serial_number,quantity,bin_location,notes,sku",
		"Bosch,CP-200,P-1,S-1,4,R2,spare,PUMP-1",
		"Denso,FP-9,,,,R3,,",
		"Acme,X1,,,0,R4,,BARE-1",
		"Acme,,,,2,R5,,",
		"Acme,X2,,,-3,R6,,",
		"Acme,X3,,,1,R7,,TAKEN",
	}, "\n")

	report, err := importer.ImportItemsCSV(ctx, strings.NewReader(input), "importer")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 3, report.Failed)
	require.Len(t, report.Results, 6)

	pump, err := env.catalog.Get(ctx, "PUMP-1")
	require.NoError(t, err)
	assert.Equal(t, "Bosch", pump.Make)
	assert.Equal(t, "P-1", pump.PartNumber)
	assert.Equal(t, "spare", pump.Notes)
	assert.Equal(t, domain.CodeTypeCode128, pump.CodeType)
	assert.NotZero(t, report.Results[0].EventID)
	assert.Equal(t, int64(4), env.quantity(t, "PUMP-1"))

	generated := report.Results[1]
	require.NoError(t, generated.Err)
	assert.True(t, domain.ValidSKU(generated.SKU))
	assert.Equal(t, int64(1), env.quantity(t, generated.SKU), "quantity defaults to one")

	assert.NoError(t, report.Results[2].Err)
	assert.Zero(t, report.Results[2].EventID)
	_, err = env.catalog.Get(ctx, "BARE-1")
	assert.NoError(t, err, "zero quantity still creates the item")

	assert.ErrorIs(t, report.Results[3].Err, domain.ErrInvalidItem)
	assert.ErrorIs(t, report.Results[4].Err, domain.ErrInvalidItem)
	assert.ErrorIs(t, report.Results[5].Err, domain.ErrItemExists)

	for ev, err := range env.ledger.History(ctx, "PUMP-1", 0) {
		require.NoError(t, err)
		assert.Equal(t, domain.EventReceive, ev.Type)
		assert.Equal(t, "importer", ev.Actor)
	}

	_, err = importer.ImportItemsCSV(ctx, strings.NewReader("make,model\nA,B\n"), "importer")
	assert.ErrorIs(t, err, ErrInvalidImport)
}

func TestExporter_AuditCSV(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addItem(t, domain.Item{SKU: "A", Make: "Bosch", Model: "CP-200", BinLocation: "R1"})
	env.addItem(t, domain.Item{SKU: "B", Make: "Denso", Model: "FP-9", BinLocation: "R2"})
	env.receive(t, "A", 3)

	session, err := env.audit.Open(ctx, "auditor")
	require.NoError(t, err)
	_, err = env.audit.Scan(ctx, session.ID, "A@R9")
	require.NoError(t, err)
	_, err = env.audit.Scan(ctx, session.ID, "A")
	require.NoError(t, err)

	exporter := NewExporter(env.ledger, env.catalog, env.audit)
	exporter.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	var out bytes.Buffer
	n, err := exporter.WriteAuditCSV(ctx, &out, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"sku", "make", "model", "bin_location", "quantity", "counted", "verified", "timestamp"},
		{"A", "Bosch", "CP-200", "R1", "3", "2", "true", "2024-05-01T12:00:00Z"},
		{"B", "Denso", "FP-9", "R2", "0", "", "false", "2024-05-01T12:00:00Z"},
	}, rows)

	_, err = exporter.WriteAuditCSV(ctx, &out, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestExporter(t *testing.T) {
	env := newTestEnv(t)
	env.addItem(t, domain.Item{SKU: "A", Description: "widget", BinLocation: "R1", ReorderThreshold: 2})
	env.addItem(t, domain.Item{SKU: "B", Description: "gadget, large"})
	env.receive(t, "A", 5)
	env.receive(t, "B", 1)
	_, err := env.ledger.Append(context.Background(), domain.LedgerEvent{
		SKU: "A", Type: domain.EventPick, Delta: -2, Actor: "floor", Reference: "order-9",
	})
	require.NoError(t, err)

	exporter := NewExporter(env.ledger, env.catalog, env.audit)

	var history bytes.Buffer
	n, err := exporter.WriteHistoryCSV(context.Background(), &history, "A", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&history).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"event_id", "sku", "event_type", "delta", "timestamp", "actor", "reference"}, rows[0])
	assert.Equal(t, []string{"1", "A", "receive", "5"}, rows[1][:4])
	assert.Equal(t, []string{"3", "A", "pick", "-2"}, rows[2][:4])
	assert.Equal(t, "order-9", rows[2][6])

	var stock bytes.Buffer
	n, err = exporter.WriteStockCSV(context.Background(), &stock)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err = csv.NewReader(&stock).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"sku", "description", "quantity", "unit_of_measure", "bin_location", "reorder_threshold"},
		{"A", "widget", "3", "each", "R1", "2"},
		{"B", "gadget, large", "1", "each", "", "0"},
	}, rows)
}

func TestCatalogSearchAndLabels(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addItem(t, domain.Item{SKU: "PUMP-1", Description: "Coolant pump", Make: "Bosch", Model: "CP-200", BinLocation: "R2"})
	env.addItem(t, domain.Item{SKU: "PUMP-2", Description: "Fuel pump", Make: "Denso"})
	env.addItem(t, domain.Item{SKU: "FILTER-1", Description: "Oil filter", Make: "Bosch", CodeType: domain.CodeTypeQR})

	items, err := env.catalog.Search(ctx, domain.ItemQuery{Text: "pump"})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = env.catalog.Search(ctx, domain.ItemQuery{Make: "bosch", Text: "filter"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "FILTER-1", items[0].SKU)

	labels, err := env.catalog.Labels(ctx, []string{"PUMP-1", "FILTER-1"})
	require.NoError(t, err)
	assert.Equal(t, []domain.LabelRecord{
		{SKU: "PUMP-1", Description: "Coolant pump", Location: "R2", CodeType: domain.CodeTypeCode128},
		{SKU: "FILTER-1", Description: "Oil filter", CodeType: domain.CodeTypeQR},
	}, labels)

	_, err = env.catalog.Labels(ctx, []string{"NOPE"})
	assert.ErrorIs(t, err, domain.ErrUnknownSKU)

	_, err = env.catalog.Create(ctx, domain.Item{SKU: "PUMP-1"})
	assert.ErrorIs(t, err, domain.ErrItemExists)
	_, err = env.catalog.Create(ctx, domain.Item{SKU: "bad sku"})
	assert.ErrorIs(t, err, domain.ErrInvalidItem)

	bin := "R5"
	updated, err := env.catalog.Update(ctx, "PUMP-2", domain.ItemPatch{BinLocation: &bin})
	require.NoError(t, err)
	assert.Equal(t, "R5", updated.BinLocation)
	assert.Equal(t, "Fuel pump", updated.Description)
}
