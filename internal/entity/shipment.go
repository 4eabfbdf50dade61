package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Shipment is the carrier-side handle for an order, one per order-provider
// pair. Updates merge through a timestamp guard: an event older than
// LastUpdate never overwrites stored state.
type Shipment struct {
	bun.BaseModel `bun:"table:shipments"`

	ID                int64      `bun:",pk,autoincrement"`
	OrderID           int64      `bun:"order_id"`
	ProviderID        string     `bun:"provider_id"`
	TrackingID        string     `bun:"tracking_id"`
	ProviderOrderID   string     `bun:"provider_order_id,nullzero"`
	CarrierStatus     string     `bun:"carrier_status"`
	NormalizedStatus  Status     `bun:"normalized_status"`
	DeliveryCharge    int64      `bun:"delivery_charge"`
	EstimatedDelivery *time.Time `bun:"estimated_delivery"`
	LastUpdate        time.Time  `bun:"last_update,nullzero"`
	LastMessage       string     `bun:"last_message,nullzero"`
	CreatedAt         time.Time  `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time  `bun:"updated_at,nullzero"`
}
