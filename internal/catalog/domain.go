package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable SKU. Products sharing a non-nil PhysicalGroupID are
// fungible for warehouse stock purposes: they draw from one physical pool.
type Product struct {
	SKU             string
	Title           string
	Cost            decimal.Decimal
	PhysicalGroupID *string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Grouped reports whether the product belongs to a shared-inventory group.
func (p Product) Grouped() bool {
	return p.PhysicalGroupID != nil && *p.PhysicalGroupID != ""
}

// ChannelMapping links a seller-facing channel SKU to the internal master SKU.
type ChannelMapping struct {
	SellerSKU string
	MasterSKU string
	Channel   string
	CreatedAt time.Time
}

var (
	// ErrProductNotFound indicates an unknown SKU.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("catalog: invalid input")
)
