package dto

import (
	"time"

	"github.com/Additional-Code/caravel/internal/entity"
)

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID            int64               `json:"id"`
	Number        string              `json:"number"`
	Status        entity.Status       `json:"status"`
	PaymentStatus entity.PaymentStatus `json:"payment_status"`
	CustomerID    int64               `json:"customer_id"`
	CourierName   string              `json:"courier_name,omitempty"`
	TrackingID    string              `json:"tracking_id,omitempty"`
	TotalAmount   int64               `json:"total_amount"`
	Fake          bool                `json:"fake"`
	Deleted       bool                `json:"deleted"`
	Items         []OrderItemResponse `json:"items,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// OrderItemResponse is one line item with its price snapshot.
type OrderItemResponse struct {
	ID        int64 `json:"id"`
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
