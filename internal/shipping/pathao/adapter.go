package pathao

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/entity"
	"github.com/Additional-Code/caravel/internal/shipping"
)

// ProviderID identifies this carrier in the registry and webhook routes.
const ProviderID = "pathao"

var statusMap = map[string]entity.Status{
	"delivered":           entity.StatusDelivered,
	"partial_delivery":    entity.StatusDelivered,
	"cancelled":           entity.StatusCancelled,
	"return":              entity.StatusCancelled,
	"pickup_cancelled":    entity.StatusCancelled,
	"pending":             entity.StatusProcessing,
	"pickup_requested":    entity.StatusProcessing,
	"assigned_for_pickup": entity.StatusProcessing,
}

// MapStatus normalizes a pathao order status slug. Unknown slugs map to
// shipped so novel carrier vocabulary never blocks reconciliation.
func MapStatus(slug string) entity.Status {
	if mapped, ok := statusMap[slug]; ok {
		return mapped
	}
	return entity.StatusShipped
}

// Adapter talks to the pathao courier (aladdin) API. Access tokens are
// issued lazily and refreshed ahead of expiry.
type Adapter struct {
	baseURL      string
	clientID     string
	clientSecret string
	username     string
	password     string
	storeID      string
	client       *http.Client
	logger       *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New constructs a pathao adapter with a bounded-timeout HTTP client.
func New(baseURL, clientID, clientSecret, username, password, storeID string, timeout time.Duration, logger *zap.Logger) *Adapter {
	return &Adapter{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		username:     username,
		password:     password,
		storeID:      storeID,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// ID implements shipping.Provider.
func (a *Adapter) ID() string { return ProviderID }

type issueTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *Adapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpiry.Add(-time.Minute)) {
		return a.accessToken, nil
	}

	payload := map[string]string{
		"client_id":     a.clientID,
		"client_secret": a.clientSecret,
		"username":      a.username,
		"password":      a.password,
		"grant_type":    "password",
	}

	var resp issueTokenResponse
	if err := a.do(ctx, http.MethodPost, "/aladdin/api/v1/issue-token", "", payload, &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: pathao issued empty token", shipping.ErrRejected)
	}

	a.accessToken = resp.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return a.accessToken, nil
}

type createOrderRequest struct {
	StoreID          string `json:"store_id"`
	MerchantOrderID  string `json:"merchant_order_id"`
	RecipientName    string `json:"recipient_name"`
	RecipientPhone   string `json:"recipient_phone"`
	RecipientAddress string `json:"recipient_address"`
	RecipientCity    string `json:"recipient_city"`
	DeliveryType     int    `json:"delivery_type"`
	ItemType         int    `json:"item_type"`
	ItemQuantity     int64  `json:"item_quantity"`
	ItemDescription  string `json:"item_description"`
	AmountToCollect  int64  `json:"amount_to_collect"`
}

type apiEnvelope struct {
	Type    string          `json:"type"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type createOrderData struct {
	ConsignmentID   string `json:"consignment_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	OrderStatus     string `json:"order_status"`
	OrderStatusSlug string `json:"order_status_slug"`
	DeliveryFee     int64  `json:"delivery_fee"`
}

// CreateShipment places an order with pathao. The 48-hour normal delivery
// type and parcel item type cover the platform's catalog.
func (a *Adapter) CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (*shipping.ShipmentResult, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	payload := createOrderRequest{
		StoreID:          a.storeID,
		MerchantOrderID:  req.OrderNumber,
		RecipientName:    req.RecipientName,
		RecipientPhone:   req.RecipientPhone,
		RecipientAddress: req.RecipientAddress,
		RecipientCity:    req.RecipientCity,
		DeliveryType:     48,
		ItemType:         2,
		ItemQuantity:     req.ItemCount,
		ItemDescription:  req.ItemSummary,
		AmountToCollect:  req.CODAmount,
	}

	var env apiEnvelope
	if err := a.do(ctx, http.MethodPost, "/aladdin/api/v1/orders", token, payload, &env); err != nil {
		return nil, err
	}
	if env.Type != "success" {
		return nil, fmt.Errorf("%w: %s", shipping.ErrRejected, env.Message)
	}

	var data createOrderData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode pathao order data: %w", err)
	}

	slug := data.OrderStatusSlug
	if slug == "" {
		slug = "pending"
	}

	return &shipping.ShipmentResult{
		TrackingID:       data.ConsignmentID,
		ProviderOrderID:  data.ConsignmentID,
		CarrierStatus:    slug,
		NormalizedStatus: MapStatus(slug),
		DeliveryCharge:   data.DeliveryFee,
	}, nil
}

type orderInfoData struct {
	ConsignmentID   string `json:"consignment_id"`
	OrderStatus     string `json:"order_status"`
	OrderStatusSlug string `json:"order_status_slug"`
	UpdatedAt       string `json:"updated_at"`
}

// GetStatus fetches current order info for a consignment.
func (a *Adapter) GetStatus(ctx context.Context, trackingID string) (*shipping.StatusResult, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	var env apiEnvelope
	if err := a.do(ctx, http.MethodGet, "/aladdin/api/v1/orders/"+trackingID+"/info", token, nil, &env); err != nil {
		return nil, err
	}
	if env.Type != "success" {
		return nil, fmt.Errorf("%w: %s", shipping.ErrRejected, env.Message)
	}

	var data orderInfoData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode pathao order info: %w", err)
	}

	updated := time.Now().UTC()
	if data.UpdatedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, data.UpdatedAt); err == nil {
			updated = parsed
		}
	}

	return &shipping.StatusResult{
		CarrierStatus:    data.OrderStatusSlug,
		NormalizedStatus: MapStatus(data.OrderStatusSlug),
		Message:          data.OrderStatus,
		UpdatedAt:        updated,
	}, nil
}

// CancelShipment asks pathao to cancel a consignment. A business refusal
// (already out for delivery, already delivered) comes back as Success=false.
func (a *Adapter) CancelShipment(ctx context.Context, trackingID string) (shipping.CancelResult, error) {
	token, err := a.token(ctx)
	if err != nil {
		return shipping.CancelResult{}, err
	}

	var env apiEnvelope
	err = a.do(ctx, http.MethodPost, "/aladdin/api/v1/orders/"+trackingID+"/cancel", token, map[string]string{}, &env)
	if err != nil {
		// A definitive refusal is a normal outcome for cancellation.
		if isRejected(err) {
			return shipping.CancelResult{Success: false, Message: err.Error()}, nil
		}
		return shipping.CancelResult{}, err
	}

	return shipping.CancelResult{Success: env.Type == "success", Message: env.Message}, nil
}

// VerifyWebhookSignature checks the base64-encoded HMAC-SHA256 digest pathao
// sends over the raw payload.
func (a *Adapter) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(sig, mac.Sum(nil))
}

type webhookPayload struct {
	ConsignmentID   string `json:"consignment_id"`
	MerchantOrderID string `json:"merchant_order_id"`
	OrderStatus     string `json:"order_status"`
	OrderStatusSlug string `json:"order_status_slug"`
	UpdatedAt       string `json:"updated_at"`
	CollectedAmount int64  `json:"collected_amount"`
	DeliveryFee     int64  `json:"delivery_fee"`
	Reason          string `json:"reason"`
}

// ParseWebhookEvent decodes a pathao order-status webhook.
func (a *Adapter) ParseWebhookEvent(payload []byte) (*shipping.WebhookEvent, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode pathao webhook: %w", err)
	}
	if p.ConsignmentID == "" && p.MerchantOrderID == "" {
		return nil, fmt.Errorf("pathao webhook missing consignment_id and merchant_order_id")
	}

	ts := time.Now().UTC()
	if p.UpdatedAt != "" {
		parsed, err := time.Parse(time.RFC3339, p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse pathao webhook timestamp: %w", err)
		}
		ts = parsed
	}

	slug := p.OrderStatusSlug
	message := p.OrderStatus
	if p.Reason != "" {
		message = p.Reason
	}

	return &shipping.WebhookEvent{
		TrackingID:       p.ConsignmentID,
		Invoice:          p.MerchantOrderID,
		CarrierStatus:    slug,
		NormalizedStatus: MapStatus(slug),
		Timestamp:        ts,
		Message:          message,
		CODAmount:        p.CollectedAmount,
		DeliveryCharge:   p.DeliveryFee,
	}, nil
}

type courierScoreData struct {
	TotalParcels int64  `json:"total_parcels"`
	Delivered    int64  `json:"delivered"`
	Cancelled    int64  `json:"cancelled"`
	Message      string `json:"message"`
}

// CheckFraud queries pathao's recipient courier score before shipping.
func (a *Adapter) CheckFraud(ctx context.Context, phone string) (*shipping.FraudScore, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	var env apiEnvelope
	if err := a.do(ctx, http.MethodPost, "/aladdin/api/v1/courier-score", token, map[string]string{"phone": phone}, &env); err != nil {
		return nil, err
	}
	if env.Type != "success" {
		return nil, fmt.Errorf("%w: %s", shipping.ErrRejected, env.Message)
	}

	var data courierScoreData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode pathao courier score: %w", err)
	}

	score := &shipping.FraudScore{
		TotalParcels: data.TotalParcels,
		Delivered:    data.Delivered,
		Cancelled:    data.Cancelled,
		Message:      data.Message,
	}
	if data.TotalParcels > 0 {
		score.SuccessRatio = float64(data.Delivered) / float64(data.TotalParcels)
	}
	return score, nil
}

func (a *Adapter) do(ctx context.Context, method, path, token string, body, out any) error {
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
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shipping.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: pathao returned %d", shipping.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: pathao returned %d: %s", shipping.ErrRejected, resp.StatusCode, raw)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode pathao response: %w", err)
	}
	return nil
}

func isRejected(err error) bool {
	return errors.Is(err, shipping.ErrRejected)
}
