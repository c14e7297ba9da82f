package service

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
	"github.com/rl1809/warehouse-ledger/internal/platform/metrics"
)

const maxLocationLength = 64

// ScanResolver turns raw label payloads into catalog SKUs. Accepted forms:
//
//	SKU              plain Code128 body
//	SKU@BIN          located label
//	sku=SKU;bin=BIN  QR key-value body, keys in any order, bin optional
type ScanResolver struct {
	catalog *CatalogService
	metrics *metrics.Metrics
}

func NewScanResolver(catalog *CatalogService, m *metrics.Metrics) *ScanResolver {
	return &ScanResolver{catalog: catalog, metrics: m}
}

// Resolve never reports a bad or unknown payload as an error; those come back
// as Malformed or Unknown resolutions. The error is for catalog failures.
func (r *ScanResolver) Resolve(ctx context.Context, payload string) (domain.Resolution, error) {
	ctx, span := tracer.Start(ctx, "scan.resolve")
	defer span.End()

	res := ParsePayload(payload)
	if res.Kind == domain.Resolved {
		item, err := r.catalog.Get(ctx, res.SKU)
		switch {
		case errors.Is(err, domain.ErrUnknownSKU):
			res.Kind = domain.Unknown
			res.Reason = "sku is not in the catalog"
		case err != nil:
			span.RecordError(err)
			return domain.Resolution{}, err
		case res.Location == "":
			res.Location = item.BinLocation
		}
	}

	span.SetAttributes(
		attribute.String("scan.result", res.Kind.String()),
		attribute.String("sku", res.SKU),
	)
	r.metrics.ObserveScan(res.Kind.String())
	return res, nil
}

// ParsePayload decodes a payload without consulting the catalog. The result
// is either Resolved or Malformed.
func ParsePayload(payload string) domain.Resolution {
	res := domain.Resolution{Payload: payload}
	malformed := func(reason string) domain.Resolution {
		res.Kind = domain.Malformed
		res.Reason = reason
		return res
	}

	body := strings.TrimSpace(payload)
	if body == "" {
		return malformed("empty payload")
	}
	if strings.IndexFunc(body, unicode.IsControl) >= 0 {
		return malformed("payload contains control characters")
	}

	var sku, location string
	switch {
	case strings.Contains(body, "="):
		var reason string
		sku, location, reason = parseKeyValue(body)
		if reason != "" {
			return malformed(reason)
		}
	case strings.Contains(body, "@"):
		parts := strings.Split(body, "@")
		if len(parts) != 2 {
			return malformed("more than one location separator")
		}
		sku, location = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if location == "" {
			return malformed("empty location after separator")
		}
	default:
		sku = body
	}

	if !domain.ValidSKU(sku) {
		return malformed("invalid sku syntax")
	}
	if len(location) > maxLocationLength {
		return malformed("location too long")
	}

	res.Kind = domain.Resolved
	res.SKU = sku
	res.Location = location
	return res
}

func parseKeyValue(body string) (sku, location, reason string) {
	seen := make(map[string]bool)
	for _, field := range strings.Split(body, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return "", "", "field without value"
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if seen[key] {
			return "", "", "duplicate key " + key
		}
		seen[key] = true

		switch key {
		case "sku":
			sku = value
		case "bin", "loc", "location":
			if value == "" {
				return "", "", "empty location"
			}
			location = value
		default:
			return "", "", "unknown key " + key
		}
	}
	if sku == "" {
		return "", "", "missing sku"
	}
	return sku, location, ""
}
