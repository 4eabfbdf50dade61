package steadfast

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/entity"
	"github.com/Additional-Code/caravel/internal/shipping"
)

// ProviderID identifies this carrier in the registry and webhook routes.
const ProviderID = "steadfast"

// statusMap translates steadfast delivery statuses into internal order
// statuses. Unknown values fall through to shipped; the carrier adds status
// strings without notice and a novel value must not wedge the pipeline.
var statusMap = map[string]entity.Status{
	"delivered":         entity.StatusDelivered,
	"partial_delivered": entity.StatusDelivered,
	"cancelled":         entity.StatusCancelled,
	"returned":          entity.StatusCancelled,
	"pending":           entity.StatusProcessing,
	"in_review":         entity.StatusProcessing,
}

// MapStatus normalizes a raw steadfast status string.
func MapStatus(raw string) entity.Status {
	if mapped, ok := statusMap[raw]; ok {
		return mapped
	}
	return entity.StatusShipped
}

// Adapter talks to the steadfast courier API.
type Adapter struct {
	baseURL   string
	apiKey    string
	secretKey string
	client    *http.Client
	logger    *zap.Logger
}

// New constructs a steadfast adapter with a bounded-timeout HTTP client.
func New(baseURL, apiKey, secretKey string, timeout time.Duration, logger *zap.Logger) *Adapter {
	return &Adapter{
		baseURL:   baseURL,
		apiKey:    apiKey,
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// ID implements shipping.Provider.
func (a *Adapter) ID() string { return ProviderID }

type createOrderRequest struct {
	Invoice          string `json:"invoice"`
	RecipientName    string `json:"recipient_name"`
	RecipientPhone   string `json:"recipient_phone"`
	RecipientAddress string `json:"recipient_address"`
	CODAmount        int64  `json:"cod_amount"`
	Note             string `json:"note,omitempty"`
}

type createOrderResponse struct {
	Status      int    `json:"status"`
	Message     string `json:"message"`
	Consignment struct {
		ConsignmentID  int64  `json:"consignment_id"`
		Invoice        string `json:"invoice"`
		TrackingCode   string `json:"tracking_code"`
		Status         string `json:"status"`
		DeliveryCharge int64  `json:"delivery_charge"`
	} `json:"consignment"`
}

// CreateShipment places a consignment with steadfast.
func (a *Adapter) CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (*shipping.ShipmentResult, error) {
	payload := createOrderRequest{
		Invoice:          req.OrderNumber,
		RecipientName:    req.RecipientName,
		RecipientPhone:   req.RecipientPhone,
		RecipientAddress: req.RecipientAddress,
		CODAmount:        req.CODAmount,
		Note:             req.Note,
	}

	var resp createOrderResponse
	if err := a.do(ctx, http.MethodPost, "/create_order", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", shipping.ErrRejected, resp.Message)
	}

	return &shipping.ShipmentResult{
		TrackingID:       resp.Consignment.TrackingCode,
		ProviderOrderID:  strconv.FormatInt(resp.Consignment.ConsignmentID, 10),
		CarrierStatus:    resp.Consignment.Status,
		NormalizedStatus: MapStatus(resp.Consignment.Status),
		DeliveryCharge:   resp.Consignment.DeliveryCharge,
		TrackingURL:      "https://steadfast.com.bd/t/" + resp.Consignment.TrackingCode,
	}, nil
}

type statusResponse struct {
	Status         int    `json:"status"`
	DeliveryStatus string `json:"delivery_status"`
	Message        string `json:"message"`
}

// GetStatus queries the current delivery status by tracking code.
func (a *Adapter) GetStatus(ctx context.Context, trackingID string) (*shipping.StatusResult, error) {
	var resp statusResponse
	if err := a.do(ctx, http.MethodGet, "/status_by_trackingcode/"+trackingID, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", shipping.ErrRejected, resp.Message)
	}

	return &shipping.StatusResult{
		CarrierStatus:    resp.DeliveryStatus,
		NormalizedStatus: MapStatus(resp.DeliveryStatus),
		Message:          resp.Message,
		UpdatedAt:        time.Now().UTC(),
	}, nil
}

// CancelShipment reports that steadfast offers no remote cancellation. This
// is a normal refusal, not an error; the internal cancellation proceeds.
func (a *Adapter) CancelShipment(ctx context.Context, trackingID string) (shipping.CancelResult, error) {
	return shipping.CancelResult{
		Success: false,
		Message: "steadfast does not support remote cancellation; contact carrier support",
	}, nil
}

// VerifyWebhookSignature checks the hex-encoded HMAC-SHA256 digest steadfast
// sends over the raw payload.
func (a *Adapter) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(sig, mac.Sum(nil))
}

type webhookPayload struct {
	NotificationType string `json:"notification_type"`
	ConsignmentID    int64  `json:"consignment_id"`
	Invoice          string `json:"invoice"`
	TrackingCode     string `json:"tracking_code"`
	Status           string `json:"status"`
	CODAmount        int64  `json:"cod_amount"`
	DeliveryCharge   int64  `json:"delivery_charge"`
	Note             string `json:"note"`
	UpdatedAt        string `json:"updated_at"`
}

// ParseWebhookEvent decodes a steadfast delivery-status notification.
func (a *Adapter) ParseWebhookEvent(payload []byte) (*shipping.WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode steadfast webhook: %w", err)
	}
	if p.TrackingCode == "" && p.Invoice == "" {
		return nil, fmt.Errorf("steadfast webhook missing tracking_code and invoice")
	}

	ts := time.Now().UTC()
	if p.UpdatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse steadfast webhook timestamp: %w", err)
		}
		ts = parsed
	}

	return &shipping.WebhookEvent{
		TrackingID:       p.TrackingCode,
		Invoice:          p.Invoice,
		CarrierStatus:    p.Status,
		NormalizedStatus: MapStatus(p.Status),
		Timestamp:        ts,
		Message:          p.Note,
		CODAmount:        p.CODAmount,
		DeliveryCharge:   p.DeliveryCharge,
	}, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", a.apiKey)
	req.Header.Set("Secret-Key", a.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shipping.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: steadfast returned %d", shipping.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: steadfast returned %d: %s", shipping.ErrRejected, resp.StatusCode, raw)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode steadfast response: %w", err)
	}
	return nil
}
