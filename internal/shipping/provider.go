package shipping

import (
	"context"
	"errors"
	"time"

	"github.com/Additional-Code/caravel/internal/entity"
)

// Sentinel errors adapters wrap so callers can classify carrier failures
// without knowing the carrier.
var (
	// ErrUnavailable covers timeouts and 5xx responses; the carrier-side
	// outcome is unknown and the caller may retry.
	ErrUnavailable = errors.New("shipping provider unavailable")
	// ErrRejected is a definitive business refusal (bad address, duplicate
	// invoice). Retrying the same request will not help.
	ErrRejected = errors.New("shipping provider rejected request")
)

// PickupPoint is the warehouse contact a shipment is collected from. It comes
// from configuration via the Registry, never from the caller.
type PickupPoint struct {
	Name    string
	Phone   string
	Address string
	City    string
}

// ShipmentRequest is the carrier-agnostic create-shipment input.
type ShipmentRequest struct {
	OrderNumber      string
	RecipientName    string
	RecipientPhone   string
	RecipientAddress string
	RecipientCity    string
	CODAmount        int64
	ItemCount        int64
	ItemSummary      string
	Note             string
	Pickup           PickupPoint
}

// ShipmentResult is the carrier-agnostic create-shipment output.
type ShipmentResult struct {
	TrackingID        string
	ProviderOrderID   string
	CarrierStatus     string
	NormalizedStatus  entity.Status
	DeliveryCharge    int64
	TrackingURL       string
	EstimatedDelivery *time.Time
}

// StatusResult is a point-in-time carrier status for a tracked shipment.
type StatusResult struct {
	CarrierStatus    string
	NormalizedStatus entity.Status
	Message          string
	UpdatedAt        time.Time
}

// CancelResult reports the outcome of a carrier-side cancellation attempt.
// A refusal ("already delivered") is Success=false, not an error.
type CancelResult struct {
	Success bool
	Message string
}

// WebhookEvent is a carrier webhook payload normalized into internal
// vocabulary. Either TrackingID or Invoice identifies the order; carriers
// differ in which one they echo back.
type WebhookEvent struct {
	TrackingID       string
	Invoice          string
	CarrierStatus    string
	NormalizedStatus entity.Status
	Timestamp        time.Time
	Message          string
	CODAmount        int64
	DeliveryCharge   int64
}

// FraudScore summarizes a carrier's pre-shipment risk check for a recipient.
type FraudScore struct {
	TotalParcels int64
	Delivered    int64
	Cancelled    int64
	SuccessRatio float64
	Message      string
}

// Provider is the contract every carrier adapter implements. Parsing of
// carrier-specific payloads and status vocabulary stays inside the adapter.
type Provider interface {
	ID() string
	CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error)
	GetStatus(ctx context.Context, trackingID string) (*StatusResult, error)
	CancelShipment(ctx context.Context, trackingID string) (CancelResult, error)
	// VerifyWebhookSignature checks the carrier's HMAC scheme over the raw
	// payload using a constant-time comparison.
	VerifyWebhookSignature(payload []byte, signature, secret string) bool
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)
}

// FraudChecker is implemented by carriers that offer a pre-shipment
// recipient risk check.
type FraudChecker interface {
	CheckFraud(ctx context.Context, phone string) (*FraudScore, error)
}
