package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/stocklane/stocklane/internal/shared"
)

// ShipmentSource fetches shipment and stock data from the external
// fulfillment network.
type ShipmentSource interface {
	GetShipment(ctx context.Context, ref string) (Shipment, error)
	GetPlanShipments(ctx context.Context, planID string) ([]Shipment, error)
	FetchStock(ctx context.Context, warehouseCode string) ([]RemoteStock, error)
}

// RemoteStock is one stock observation reported by the network.
type RemoteStock struct {
	SellerSKU string `json:"seller_sku"`
	Available int64  `json:"available"`
}

// Client talks to the fulfillment network's HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient constructs a Client. The timeout bounds each individual call;
// callers still pass a context for cancellation.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type shipmentPayload struct {
	Ref           string `json:"ref"`
	PlanID        string `json:"plan_id"`
	WarehouseCode string `json:"warehouse_code"`
	Lines         []struct {
		SellerSKU string `json:"seller_sku"`
		Quantity  int64  `json:"quantity"`
	} `json:"lines"`
}

func (p shipmentPayload) toShipment() Shipment {
	s := Shipment{Ref: p.Ref, PlanID: p.PlanID, WarehouseCode: p.WarehouseCode}
	for _, line := range p.Lines {
		s.Lines = append(s.Lines, ShipmentLine{SellerSKU: line.SellerSKU, Quantity: line.Quantity})
	}
	return s
}

// GetShipment fetches one shipment by external reference.
func (c *Client) GetShipment(ctx context.Context, ref string) (Shipment, error) {
	var payload shipmentPayload
	err := c.getJSON(ctx, "/shipments/"+url.PathEscape(ref), &payload)
	if err != nil {
		return Shipment{}, err
	}
	return payload.toShipment(), nil
}

// GetPlanShipments fetches every shipment of one inbound plan.
func (c *Client) GetPlanShipments(ctx context.Context, planID string) ([]Shipment, error) {
	var payloads []shipmentPayload
	if err := c.getJSON(ctx, "/plans/"+url.PathEscape(planID)+"/shipments", &payloads); err != nil {
		return nil, err
	}
	shipments := make([]Shipment, 0, len(payloads))
	for _, p := range payloads {
		shipments = append(shipments, p.toShipment())
	}
	return shipments, nil
}

// FetchStock fetches the network's current stock for one warehouse.
func (c *Client) FetchStock(ctx context.Context, warehouseCode string) ([]RemoteStock, error) {
	var stock []RemoteStock
	if err := c.getJSON(ctx, "/stock?warehouse="+url.QueryEscape(warehouseCode), &stock); err != nil {
		return nil, err
	}
	return stock, nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrShipmentNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: fulfillment api returned %d", shared.ErrUpstream, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%w: decoding response: %v", shared.ErrUpstream, err)
	}
	return nil
}
