package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

var ErrInvalidImport = errors.New("invalid import file")

var (
	importRequiredColumns     = []string{"sku", "delta", "event_type"}
	itemImportRequiredColumns = []string{"make", "model", "bin_location"}
)

// csvTable is a CSV stream whose first row names the columns.
type csvTable struct {
	reader *csv.Reader
	cols   map[string]int
}

func openCSV(r io.Reader, required []string) (*csvTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrInvalidImport, err)
	}
	cols := make(map[string]int, len(header))
	for idx, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidImport, name)
		}
	}
	return &csvTable{reader: reader, cols: cols}, nil
}

func (t *csvTable) field(record []string, name string) string {
	idx, ok := t.cols[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// Importer feeds bulk rows through LedgerService.Append one at a time, so an
// imported row is validated exactly like any other event. Catalog rows go
// through CatalogService.Create first.
type Importer struct {
	ledger  *LedgerService
	catalog *CatalogService
	logger  *zap.Logger
}

func NewImporter(ledger *LedgerService, catalog *CatalogService, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{ledger: ledger, catalog: catalog, logger: logger}
}

// ImportCSV reads a header row naming at least sku, delta and event_type
// (reference is optional). Bad rows are reported in the result; only an
// unreadable file or header fails the whole import.
func (i *Importer) ImportCSV(ctx context.Context, r io.Reader, actor string) (domain.ImportReport, error) {
	if strings.TrimSpace(actor) == "" {
		return domain.ImportReport{}, fmt.Errorf("%w: actor is required", ErrInvalidImport)
	}
	table, err := openCSV(r, importRequiredColumns)
	if err != nil {
		return domain.ImportReport{}, err
	}
	field := table.field

	var (
		rows   []domain.ImportRow
		report domain.ImportReport
	)
	for line := 2; ; line++ {
		record, err := table.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.ImportReport{}, fmt.Errorf("%w: line %d: %v", ErrInvalidImport, line, err)
		}

		row := domain.ImportRow{Line: line, SKU: field(record, "sku"), Reference: field(record, "reference")}
		if row.Delta, err = strconv.ParseInt(field(record, "delta"), 10, 64); err != nil {
			report.Results = append(report.Results, domain.ImportResult{
				Line: line, SKU: row.SKU,
				Err: fmt.Errorf("%w: delta %q is not an integer", domain.ErrInvalidEvent, field(record, "delta")),
			})
			report.Failed++
			continue
		}
		if row.Type, err = domain.ParseEventType(field(record, "event_type")); err != nil {
			report.Results = append(report.Results, domain.ImportResult{Line: line, SKU: row.SKU, Err: err})
			report.Failed++
			continue
		}
		rows = append(rows, row)
	}

	applied := i.ImportRows(ctx, rows, actor)
	report.Results = append(report.Results, applied.Results...)
	report.Imported += applied.Imported
	report.Failed += applied.Failed
	sort.SliceStable(report.Results, func(a, b int) bool {
		return report.Results[a].Line < report.Results[b].Line
	})
	return report, nil
}

// ImportRows appends rows in order and keeps going past failed rows.
func (i *Importer) ImportRows(ctx context.Context, rows []domain.ImportRow, actor string) domain.ImportReport {
	var report domain.ImportReport
	for _, row := range rows {
		result := domain.ImportResult{Line: row.Line, SKU: row.SKU}

		ev, err := i.ledger.Append(ctx, domain.LedgerEvent{
			SKU:       row.SKU,
			Type:      row.Type,
			Delta:     row.Delta,
			Actor:     actor,
			Reference: row.Reference,
		})
		if err != nil {
			result.Err = err
			report.Failed++
		} else {
			result.EventID = ev.ID
			report.Imported++
		}
		report.Results = append(report.Results, result)
	}

	i.logger.Info("import finished",
		zap.Int("rows", len(rows)),
		zap.Int("imported", report.Imported),
		zap.Int("failed", report.Failed),
	)
	return report
}

// ImportItemsCSV creates one catalog item per row and books its opening
// quantity as a receive. Columns make, model and bin_location are required
// and must be non-blank; sku is generated when absent and quantity defaults
// to 1. A row whose receive fails keeps its new item and reports the error.
func (i *Importer) ImportItemsCSV(ctx context.Context, r io.Reader, actor string) (domain.ImportReport, error) {
	if strings.TrimSpace(actor) == "" {
		return domain.ImportReport{}, fmt.Errorf("%w: actor is required", ErrInvalidImport)
	}
	table, err := openCSV(r, itemImportRequiredColumns)
	if err != nil {
		return domain.ImportReport{}, err
	}

	var report domain.ImportReport
	for line := 2; ; line++ {
		record, err := table.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.ImportReport{}, fmt.Errorf("%w: line %d: %v", ErrInvalidImport, line, err)
		}

		item := domain.Item{
			SKU:          table.field(record, "sku"),
			Description:  table.field(record, "description"),
			Make:         table.field(record, "make"),
			Model:        table.field(record, "model"),
			PartNumber:   table.field(record, "part_number"),
			SerialNumber: table.field(record, "serial_number"),
			BinLocation:  table.field(record, "bin_location"),
			Notes:        table.field(record, "notes"),
		}
		result := i.importItem(ctx, line, item, table.field(record, "quantity"), actor)
		if result.Err != nil {
			report.Failed++
		} else {
			report.Imported++
		}
		report.Results = append(report.Results, result)
	}

	i.logger.Info("catalog import finished",
		zap.Int("imported", report.Imported),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (i *Importer) importItem(ctx context.Context, line int, item domain.Item, quantity, actor string) domain.ImportResult {
	result := domain.ImportResult{Line: line, SKU: item.SKU}
	if item.Make == "" || item.Model == "" || item.BinLocation == "" {
		result.Err = fmt.Errorf("%w: make, model and bin_location must not be blank", domain.ErrInvalidItem)
		return result
	}

	qty := int64(1)
	if quantity != "" {
		q, err := strconv.ParseInt(quantity, 10, 64)
		if err != nil || q < 0 {
			result.Err = fmt.Errorf("%w: quantity %q is not a non-negative integer", domain.ErrInvalidItem, quantity)
			return result
		}
		qty = q
	}

	if item.SKU == "" {
		item.SKU = generateSKU()
	}
	created, err := i.catalog.Create(ctx, item)
	if err != nil {
		result.Err = err
		return result
	}
	result.SKU = created.SKU
	if qty == 0 {
		return result
	}

	ev, err := i.ledger.Append(ctx, domain.LedgerEvent{
		SKU:       created.SKU,
		Type:      domain.EventReceive,
		Delta:     qty,
		Actor:     actor,
		Reference: "catalog-import",
	})
	if err != nil {
		result.Err = err
		return result
	}
	result.EventID = ev.ID
	return result
}

type Exporter struct {
	ledger  *LedgerService
	catalog *CatalogService
	audit   *AuditService
	now     func() time.Time
}

func NewExporter(ledger *LedgerService, catalog *CatalogService, audit *AuditService) *Exporter {
	return &Exporter{ledger: ledger, catalog: catalog, audit: audit, now: time.Now}
}

// WriteHistoryCSV streams events after sinceID. An empty sku exports the whole log.
func (e *Exporter) WriteHistoryCSV(ctx context.Context, w io.Writer, sku string, sinceID int64) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"event_id", "sku", "event_type", "delta", "timestamp", "actor", "reference"}); err != nil {
		return 0, err
	}

	n := 0
	for ev, err := range e.ledger.History(ctx, sku, sinceID) {
		if err != nil {
			cw.Flush()
			return n, err
		}
		err = cw.Write([]string{
			strconv.FormatInt(ev.ID, 10),
			ev.SKU,
			string(ev.Type),
			strconv.FormatInt(ev.Delta, 10),
			ev.Timestamp.UTC().Format(time.RFC3339Nano),
			ev.Actor,
			ev.Reference,
		})
		if err != nil {
			return n, err
		}
		n++
	}

	cw.Flush()
	return n, cw.Error()
}

// WriteStockCSV writes one row per catalog item with its folded quantity.
func (e *Exporter) WriteStockCSV(ctx context.Context, w io.Writer) (int, error) {
	snap, err := e.ledger.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	items, err := e.catalog.List(ctx)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"sku", "description", "quantity", "unit_of_measure", "bin_location", "reorder_threshold"}); err != nil {
		return 0, err
	}
	for _, item := range items {
		err := cw.Write([]string{
			item.SKU,
			item.Description,
			strconv.FormatInt(snap.Quantity(item.SKU), 10),
			item.UnitOfMeasure,
			item.BinLocation,
			strconv.FormatInt(item.ReorderThreshold, 10),
		})
		if err != nil {
			return 0, err
		}
	}

	cw.Flush()
	return len(items), cw.Error()
}

// WriteAuditCSV writes one row per catalog item with whether the session
// counted it. counted is blank for items the session never saw, and the bin
// is the one last scanned when there is one.
func (e *Exporter) WriteAuditCSV(ctx context.Context, w io.Writer, sessionID string) (int, error) {
	session, err := e.audit.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	snap, err := e.ledger.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	items, err := e.catalog.List(ctx)
	if err != nil {
		return 0, err
	}

	exportedAt := e.now().UTC().Format(time.RFC3339)
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"sku", "make", "model", "bin_location", "quantity", "counted", "verified", "timestamp"}); err != nil {
		return 0, err
	}
	for _, item := range items {
		count, verified := session.Counts[item.SKU]
		counted := ""
		if verified {
			counted = strconv.FormatInt(count, 10)
		}
		bin := item.BinLocation
		if loc, ok := session.Locations[item.SKU]; ok {
			bin = loc
		}
		err := cw.Write([]string{
			item.SKU,
			item.Make,
			item.Model,
			bin,
			strconv.FormatInt(snap.Quantity(item.SKU), 10),
			counted,
			strconv.FormatBool(verified),
			exportedAt,
		})
		if err != nil {
			return 0, err
		}
	}

	cw.Flush()
	return len(items), cw.Error()
}
