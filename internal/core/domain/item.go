package domain

import (
	"regexp"
	"time"
)

type CodeType string

const (
	CodeTypeCode128 CodeType = "code128"
	CodeTypeQR      CodeType = "qr"
)

const DefaultUnitOfMeasure = "each"

var skuPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidSKU reports whether sku is usable as a catalog key and scan payload.
func ValidSKU(sku string) bool {
	return skuPattern.MatchString(sku)
}

// Item is the canonical catalog record for one SKU. SKU and UnitOfMeasure are
// fixed once ledger events reference the item; the rest is descriptive.
type Item struct {
	SKU              string
	Description      string
	UnitOfMeasure    string
	ReorderThreshold int64
	Make             string
	Model            string
	PartNumber       string
	SerialNumber     string
	BinLocation      string
	Notes            string
	CodeType         CodeType
	Stub             bool // auto-created on first receive of an unknown SKU
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ItemPatch carries the descriptive fields an operator may edit. Nil fields are left unchanged.
type ItemPatch struct {
	Description      *string
	ReorderThreshold *int64
	Make             *string
	Model            *string
	PartNumber       *string
	SerialNumber     *string
	BinLocation      *string
	Notes            *string
	CodeType         *CodeType
}

// Apply returns a copy of item with the patch applied. Editing any field clears Stub.
func (p ItemPatch) Apply(item Item) Item {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&item.Description, p.Description)
	set(&item.Make, p.Make)
	set(&item.Model, p.Model)
	set(&item.PartNumber, p.PartNumber)
	set(&item.SerialNumber, p.SerialNumber)
	set(&item.BinLocation, p.BinLocation)
	set(&item.Notes, p.Notes)
	if p.ReorderThreshold != nil {
		item.ReorderThreshold = *p.ReorderThreshold
	}
	if p.CodeType != nil {
		item.CodeType = *p.CodeType
	}
	item.Stub = false
	return item
}

// ItemQuery filters catalog searches. Text matches any descriptive field
// case-insensitively; the remaining fields narrow by substring.
type ItemQuery struct {
	Text       string
	Make       string
	Model      string
	PartNumber string
}

// LabelRecord is the read-only projection consumed by label printing.
type LabelRecord struct {
	SKU         string
	Description string
	Location    string
	CodeType    CodeType
}

// ReorderLine reports an item whose quantity on hand reached its reorder threshold.
type ReorderLine struct {
	SKU              string
	Description      string
	Quantity         int64
	ReorderThreshold int64
}
