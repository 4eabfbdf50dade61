package steadfast

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/entity"
	"github.com/Additional-Code/caravel/internal/shipping"
)

func TestMapStatus(t *testing.T) {
	assert.Equal(t, entity.StatusDelivered, MapStatus("delivered"))
	assert.Equal(t, entity.StatusDelivered, MapStatus("partial_delivered"))
	assert.Equal(t, entity.StatusCancelled, MapStatus("cancelled"))
	assert.Equal(t, entity.StatusCancelled, MapStatus("returned"))
	assert.Equal(t, entity.StatusProcessing, MapStatus("pending"))
	assert.Equal(t, entity.StatusProcessing, MapStatus("in_review"))

	// Novel carrier vocabulary keeps the order in flight instead of failing.
	assert.Equal(t, entity.StatusShipped, MapStatus("hub_transfer"))
	assert.Equal(t, entity.StatusShipped, MapStatus(""))
}

func signHex(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestAdapter_VerifyWebhookSignature(t *testing.T) {
	a := New("http://example.invalid", "key", "secret-key", time.Second, zap.NewNop())
	payload := []byte(`{"tracking_code":"TRK-1","status":"delivered"}`)
	secret := "webhook-secret"

	assert.True(t, a.VerifyWebhookSignature(payload, signHex(secret, payload), secret))
	assert.False(t, a.VerifyWebhookSignature(payload, signHex("wrong", payload), secret))
	assert.False(t, a.VerifyWebhookSignature(payload, "not-hex", secret))
	assert.False(t, a.VerifyWebhookSignature(payload, "", secret))
	assert.False(t, a.VerifyWebhookSignature(payload, signHex(secret, payload), ""))
}

func TestAdapter_ParseWebhookEvent(t *testing.T) {
	a := New("http://example.invalid", "key", "secret-key", time.Second, zap.NewNop())

	event, err := a.ParseWebhookEvent([]byte(`{
		"notification_type": "delivery_status",
		"consignment_id": 42,
		"invoice": "CRV-1001",
		"tracking_code": "TRK-1",
		"status": "delivered",
		"cod_amount": 3000,
		"delivery_charge": 60,
		"note": "handed to recipient",
		"updated_at": "2026-01-02T10:30:00Z"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "TRK-1", event.TrackingID)
	assert.Equal(t, "CRV-1001", event.Invoice)
	assert.Equal(t, "delivered", event.CarrierStatus)
	assert.Equal(t, entity.StatusDelivered, event.NormalizedStatus)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC), event.Timestamp)
	assert.Equal(t, int64(3000), event.CODAmount)
	assert.Equal(t, int64(60), event.DeliveryCharge)

	_, err = a.ParseWebhookEvent([]byte(`{"status":"delivered"}`))
	require.Error(t, err)

	_, err = a.ParseWebhookEvent([]byte(`{"tracking_code":"TRK-1","updated_at":"yesterday"}`))
	require.Error(t, err)
}

func TestAdapter_CreateShipment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/create_order", r.URL.Path)
		assert.Equal(t, "api-key", r.Header.Get("Api-Key"))
		assert.Equal(t, "secret-key", r.Header.Get("Secret-Key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": 200,
			"message": "Consignment created",
			"consignment": {
				"consignment_id": 1424107,
				"invoice": "CRV-1001",
				"tracking_code": "15BAEB8A",
				"status": "in_review",
				"delivery_charge": 60
			}
		}`))
	}))
	defer server.Close()

	a := New(server.URL, "api-key", "secret-key", time.Second, zap.NewNop())
	result, err := a.CreateShipment(context.Background(), shipping.ShipmentRequest{
		OrderNumber:      "CRV-1001",
		RecipientName:    "A Customer",
		RecipientPhone:   "01700000001",
		RecipientAddress: "2 Somewhere St",
		CODAmount:        3000,
	})
	require.NoError(t, err)

	assert.Equal(t, "15BAEB8A", result.TrackingID)
	assert.Equal(t, "1424107", result.ProviderOrderID)
	assert.Equal(t, entity.StatusProcessing, result.NormalizedStatus)
	assert.Equal(t, int64(60), result.DeliveryCharge)
}

func TestAdapter_CreateShipment_ServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	a := New(server.URL, "api-key", "secret-key", time.Second, zap.NewNop())
	_, err := a.CreateShipment(context.Background(), shipping.ShipmentRequest{OrderNumber: "CRV-1001"})
	assert.ErrorIs(t, err, shipping.ErrUnavailable)
}

func TestAdapter_CreateShipment_ClientErrorIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid phone"}`))
	}))
	defer server.Close()

	a := New(server.URL, "api-key", "secret-key", time.Second, zap.NewNop())
	_, err := a.CreateShipment(context.Background(), shipping.ShipmentRequest{OrderNumber: "CRV-1001"})
	assert.ErrorIs(t, err, shipping.ErrRejected)
}

func TestAdapter_GetStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status_by_trackingcode/TRK-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": 200, "delivery_status": "delivered"}`))
	}))
	defer server.Close()

	a := New(server.URL, "api-key", "secret-key", time.Second, zap.NewNop())
	status, err := a.GetStatus(context.Background(), "TRK-1")
	require.NoError(t, err)
	assert.Equal(t, "delivered", status.CarrierStatus)
	assert.Equal(t, entity.StatusDelivered, status.NormalizedStatus)
}

func TestAdapter_CancelShipment_AlwaysRefuses(t *testing.T) {
	a := New("http://example.invalid", "api-key", "secret-key", time.Second, zap.NewNop())
	result, err := a.CancelShipment(context.Background(), "TRK-1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Message)
}
