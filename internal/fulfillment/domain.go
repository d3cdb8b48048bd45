package fulfillment

import "errors"

// Shipment is one outbound shipment reported by the external fulfillment
// network. Whether it was already processed is never stored here; that fact
// lives in the deduction ledger alone.
type Shipment struct {
	Ref           string
	PlanID        string
	WarehouseCode string
	Lines         []ShipmentLine
}

// ShipmentLine is one shipped seller SKU with its quantity.
type ShipmentLine struct {
	SellerSKU string
	Quantity  int64
}

// PlanLine is the fate of one shipment line inside a deduction plan.
type PlanLine struct {
	SellerSKU       string `json:"seller_sku"`
	MasterSKU       string `json:"master_sku,omitempty"`
	Found           bool   `json:"found"`
	AlreadyDeducted bool   `json:"already_deducted"`
	Quantity        int64  `json:"quantity"`
	Before          int64  `json:"before"`
	After           int64  `json:"after"`
	Oversold        bool   `json:"oversold"`
}

// DeductionPlan is the full outcome of previewing or applying one shipment.
type DeductionPlan struct {
	ShipmentRef string     `json:"shipment_ref"`
	WarehouseID int64      `json:"warehouse_id"`
	DryRun      bool       `json:"dry_run"`
	Lines       []PlanLine `json:"lines"`
	Applied     int        `json:"applied"`
	Skipped     int        `json:"skipped"`
	Warnings    []string   `json:"warnings,omitempty"`
}

var (
	// ErrShipmentNotFound indicates the fulfillment network knows no such ref.
	ErrShipmentNotFound = errors.New("fulfillment: shipment not found")
	// ErrWarehouseNotFound indicates the target warehouse id is unknown or inactive.
	ErrWarehouseNotFound = errors.New("fulfillment: warehouse not found")
)
