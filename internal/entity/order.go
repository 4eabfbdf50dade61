package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// Status is the internal order lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus mirrors the payment gateway's last reported state. It is an
// opaque input here; fulfillment never drives payment transitions.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusShipped: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// CanTransition reports whether to is a legal next state from from.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

// Shippable reports whether an order in this status may be handed to a carrier.
func (s Status) Shippable() bool {
	return s == StatusPending || s == StatusProcessing
}

// Order represents a purchase order stored in the relational database.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID            int64         `bun:",pk,autoincrement"`
	Number        string        `bun:"number"`
	Status        Status        `bun:"status"`
	PaymentStatus PaymentStatus `bun:"payment_status"`
	CustomerID    int64         `bun:"customer_id"`
	UserID        *int64        `bun:"user_id"` // nil for guest orders
	CourierName   string        `bun:"courier_name,nullzero"`
	TrackingID    string        `bun:"tracking_id,nullzero"`
	TotalAmount   int64         `bun:"total_amount"` // minor currency units
	Fake          bool          `bun:"fake"`
	DeletedAt     *time.Time    `bun:"deleted_at"`
	CreatedAt     time.Time     `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time     `bun:"updated_at,nullzero"`

	Items []*OrderItem `bun:"rel:has-many,join:id=order_id"`
}

// SoftDeleted reports whether the order is hidden behind a soft delete.
func (o *Order) SoftDeleted() bool {
	return o.DeletedAt != nil
}

// OrderItem is a line item with a price snapshot taken at order time.
// The snapshot is immutable; it never re-reads the current product price.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID        int64 `bun:",pk,autoincrement"`
	OrderID   int64 `bun:"order_id"`
	ProductID int64 `bun:"product_id"`
	Quantity  int64 `bun:"quantity"`
	UnitPrice int64 `bun:"unit_price"`
}
