package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/entity"
	orderrepo "github.com/Additional-Code/caravel/internal/repository/order"
	shipmentrepo "github.com/Additional-Code/caravel/internal/repository/shipment"
	"github.com/Additional-Code/caravel/internal/shipping"
	"github.com/Additional-Code/caravel/pkg/errorbank"
)

type stubProvider struct {
	id        string
	signature string // accepted signature; anything else fails verification
	parseErr  error
}

func (s *stubProvider) ID() string { return s.id }

func (s *stubProvider) CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (*shipping.ShipmentResult, error) {
	return nil, shipping.ErrUnavailable
}

func (s *stubProvider) GetStatus(ctx context.Context, trackingID string) (*shipping.StatusResult, error) {
	return nil, shipping.ErrUnavailable
}

func (s *stubProvider) CancelShipment(ctx context.Context, trackingID string) (shipping.CancelResult, error) {
	return shipping.CancelResult{}, nil
}

func (s *stubProvider) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return signature == s.signature
}

func (s *stubProvider) ParseWebhookEvent(payload []byte) (*shipping.WebhookEvent, error) {
	if s.parseErr != nil {
		return nil, s.parseErr
	}
	var event shipping.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

type stubRegistry struct {
	provider *stubProvider
	secret   string
}

func (s *stubRegistry) Resolve(id string) (shipping.Provider, error) {
	if s.provider == nil || id != s.provider.id {
		return nil, shipping.ErrUnknownProvider
	}
	return s.provider, nil
}

func (s *stubRegistry) WebhookSecret(id string) (string, error) {
	if _, err := s.Resolve(id); err != nil {
		return "", err
	}
	return s.secret, nil
}

type stubShipments struct {
	shipment *entity.Shipment
}

func (s *stubShipments) GetByTrackingID(ctx context.Context, trackingID string) (*entity.Shipment, error) {
	if s.shipment != nil && s.shipment.TrackingID == trackingID {
		clone := *s.shipment
		return &clone, nil
	}
	return nil, shipmentrepo.ErrNotFound
}

func (s *stubShipments) GetByOrderID(ctx context.Context, orderID int64) (*entity.Shipment, error) {
	if s.shipment != nil && s.shipment.OrderID == orderID {
		clone := *s.shipment
		return &clone, nil
	}
	return nil, shipmentrepo.ErrNotFound
}

func (s *stubShipments) ApplyEvent(ctx context.Context, shipmentID int64, carrierStatus string, normalized entity.Status, message string, deliveryCharge int64, eventTime time.Time) (bool, error) {
	if s.shipment == nil || s.shipment.ID != shipmentID {
		return false, shipmentrepo.ErrNotFound
	}
	if !s.shipment.LastUpdate.Before(eventTime) {
		return false, nil
	}
	s.shipment.CarrierStatus = carrierStatus
	s.shipment.NormalizedStatus = normalized
	s.shipment.LastUpdate = eventTime
	return true, nil
}

type stubOrders struct {
	order *entity.Order
}

func (s *stubOrders) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	if s.order != nil && s.order.ID == id {
		return s.order, nil
	}
	return nil, orderrepo.ErrNotFound
}

func (s *stubOrders) GetByNumber(ctx context.Context, number string) (*entity.Order, error) {
	if s.order != nil && s.order.Number == number {
		return s.order, nil
	}
	return nil, orderrepo.ErrNotFound
}

type stubOrchestrator struct {
	applyErr error
	applied  []entity.Status
}

func (s *stubOrchestrator) ApplyCarrierStatus(ctx context.Context, order *entity.Order, target entity.Status, via string, actorID int64) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	s.applied = append(s.applied, target)
	return nil
}

type reconcilerFixture struct {
	reconciler *Reconciler
	provider   *stubProvider
	shipments  *stubShipments
	orders     *stubOrders
	orch       *stubOrchestrator
}

func newReconcilerFixture() *reconcilerFixture {
	provider := &stubProvider{id: "steadfast", signature: "good-sig"}
	shipments := &stubShipments{
		shipment: &entity.Shipment{
			ID:         1,
			OrderID:    1,
			ProviderID: "steadfast",
			TrackingID: "TRK-1",
			LastUpdate: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	orders := &stubOrders{
		order: &entity.Order{ID: 1, Number: "CRV-1001", Status: entity.StatusShipped},
	}
	orch := &stubOrchestrator{}

	reconciler := NewReconcilerWith(
		&stubRegistry{provider: provider, secret: "secret"},
		shipments,
		orders,
		orch,
		zap.NewNop(),
	)
	return &reconcilerFixture{reconciler: reconciler, provider: provider, shipments: shipments, orders: orders, orch: orch}
}

func eventPayload(t *testing.T, event shipping.WebhookEvent) []byte {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return payload
}

func TestReconciler_Process_Applied(t *testing.T) {
	f := newReconcilerFixture()
	payload := eventPayload(t, shipping.WebhookEvent{
		TrackingID:       "TRK-1",
		CarrierStatus:    "delivered",
		NormalizedStatus: entity.StatusDelivered,
		Timestamp:        time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC),
	})

	err := f.reconciler.Process(context.Background(), "steadfast", payload, "good-sig")
	require.NoError(t, err)
	assert.Equal(t, []entity.Status{entity.StatusDelivered}, f.orch.applied)
	assert.Equal(t, "delivered", f.shipments.shipment.CarrierStatus)
}

func TestReconciler_Process_BadSignature(t *testing.T) {
	f := newReconcilerFixture()
	payload := eventPayload(t, shipping.WebhookEvent{TrackingID: "TRK-1"})

	err := f.reconciler.Process(context.Background(), "steadfast", payload, "forged")
	require.Error(t, err)
	assert.Equal(t, errorbank.KindUnauthorized, errorbank.From(err).Kind())
	assert.Empty(t, f.orch.applied)
}

func TestReconciler_Process_UnknownProvider(t *testing.T) {
	f := newReconcilerFixture()

	err := f.reconciler.Process(context.Background(), "bogus", []byte("{}"), "good-sig")
	require.Error(t, err)
	assert.Equal(t, errorbank.KindUnauthorized, errorbank.From(err).Kind())
}

func TestReconciler_Process_UnparseablePayload(t *testing.T) {
	f := newReconcilerFixture()
	f.provider.parseErr = errors.New("bad json")

	err := f.reconciler.Process(context.Background(), "steadfast", []byte("not json"), "good-sig")
	require.Error(t, err)
	assert.Equal(t, errorbank.KindBadRequest, errorbank.From(err).Kind())
}

func TestReconciler_Process_StaleEventIsNoop(t *testing.T) {
	f := newReconcilerFixture()
	payload := eventPayload(t, shipping.WebhookEvent{
		TrackingID:       "TRK-1",
		CarrierStatus:    "pending",
		NormalizedStatus: entity.StatusProcessing,
		Timestamp:        time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), // before LastUpdate
	})

	err := f.reconciler.Process(context.Background(), "steadfast", payload, "good-sig")
	require.NoError(t, err)
	assert.Empty(t, f.orch.applied)
	assert.Empty(t, f.shipments.shipment.CarrierStatus)
}

func TestReconciler_Process_DuplicateReplayIsNoop(t *testing.T) {
	f := newReconcilerFixture()
	payload := eventPayload(t, shipping.WebhookEvent{
		TrackingID:       "TRK-1",
		CarrierStatus:    "delivered",
		NormalizedStatus: entity.StatusDelivered,
		Timestamp:        time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC),
	})

	require.NoError(t, f.reconciler.Process(context.Background(), "steadfast", payload, "good-sig"))
	require.NoError(t, f.reconciler.Process(context.Background(), "steadfast", payload, "good-sig"))

	// The second identical delivery changed nothing.
	assert.Len(t, f.orch.applied, 1)
}

func TestReconciler_Process_IllegalTransitionAccepted(t *testing.T) {
	f := newReconcilerFixture()
	f.orch.applyErr = errorbank.Conflict("no transition from shipped to processing")
	payload := eventPayload(t, shipping.WebhookEvent{
		TrackingID:       "TRK-1",
		CarrierStatus:    "pending",
		NormalizedStatus: entity.StatusProcessing,
		Timestamp:        time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC),
	})

	// The delivery is acknowledged even though the order stands still.
	err := f.reconciler.Process(context.Background(), "steadfast", payload, "good-sig")
	require.NoError(t, err)
}

func TestReconciler_Process_RetryAfterTransitionFailureReapplies(t *testing.T) {
	f := newReconcilerFixture()
	f.orch.applyErr = errorbank.Internal("order store unavailable")
	payload := eventPayload(t, shipping.WebhookEvent{
		TrackingID:       "TRK-1",
		CarrierStatus:    "delivered",
		NormalizedStatus: entity.StatusDelivered,
		Timestamp:        time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC),
	})

	err := f.reconciler.Process(context.Background(), "steadfast", payload, "good-sig")
	require.Error(t, err)
	// The failed transition must not consume the event on the shipment
	// record, otherwise the carrier's retry would read as stale.
	assert.Empty(t, f.shipments.shipment.CarrierStatus)

	f.orch.applyErr = nil
	err = f.reconciler.Process(context.Background(), "steadfast", payload, "good-sig")
	require.NoError(t, err)
	assert.Equal(t, []entity.Status{entity.StatusDelivered}, f.orch.applied)
	assert.Equal(t, "delivered", f.shipments.shipment.CarrierStatus)
}

func TestReconciler_Process_UnmatchedEventAccepted(t *testing.T) {
	f := newReconcilerFixture()
	payload := eventPayload(t, shipping.WebhookEvent{
		TrackingID:       "TRK-unknown",
		CarrierStatus:    "delivered",
		NormalizedStatus: entity.StatusDelivered,
		Timestamp:        time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC),
	})

	err := f.reconciler.Process(context.Background(), "steadfast", payload, "good-sig")
	require.NoError(t, err)
	assert.Empty(t, f.orch.applied)
}

func TestReconciler_Process_InvoiceFallback(t *testing.T) {
	f := newReconcilerFixture()
	payload := eventPayload(t, shipping.WebhookEvent{
		Invoice:          "CRV-1001",
		CarrierStatus:    "delivered",
		NormalizedStatus: entity.StatusDelivered,
		Timestamp:        time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC),
	})

	err := f.reconciler.Process(context.Background(), "steadfast", payload, "good-sig")
	require.NoError(t, err)
	assert.Equal(t, []entity.Status{entity.StatusDelivered}, f.orch.applied)
}
