package dto

import (
	"time"

	"github.com/Additional-Code/caravel/internal/entity"
)

// ShipmentResponse represents a carrier shipment as exposed over HTTP.
type ShipmentResponse struct {
	ID                int64         `json:"id"`
	OrderID           int64         `json:"order_id"`
	ProviderID        string        `json:"provider_id"`
	TrackingID        string        `json:"tracking_id"`
	ProviderOrderID   string        `json:"provider_order_id,omitempty"`
	CarrierStatus     string        `json:"carrier_status,omitempty"`
	NormalizedStatus  entity.Status `json:"normalized_status"`
	DeliveryCharge    int64         `json:"delivery_charge,omitempty"`
	EstimatedDelivery *time.Time    `json:"estimated_delivery,omitempty"`
	LastUpdate        time.Time     `json:"last_update"`
	CreatedAt         time.Time     `json:"created_at"`
}
