package shipping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/config"
)

type staticProvider struct {
	id string
}

func (s staticProvider) ID() string { return s.id }

func (s staticProvider) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	return &ShipmentResult{}, nil
}

func (s staticProvider) GetStatus(ctx context.Context, trackingID string) (*StatusResult, error) {
	return &StatusResult{}, nil
}

func (s staticProvider) CancelShipment(ctx context.Context, trackingID string) (CancelResult, error) {
	return CancelResult{}, nil
}

func (s staticProvider) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	return false
}

func (s staticProvider) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	return nil, nil
}

func newTestRegistry(t *testing.T, defaultID string, regs ...Registration) *Registry {
	t.Helper()
	cfg := config.Config{}
	cfg.Shipping.DefaultProvider = defaultID
	cfg.Shipping.Pickup.Name = "Warehouse"
	cfg.Shipping.Pickup.City = "Dhaka"

	registry, err := NewRegistry(Params{
		Config:        cfg,
		Logger:        zap.NewNop(),
		Registrations: regs,
	})
	require.NoError(t, err)
	return registry
}

func TestRegistry_Resolve(t *testing.T) {
	registry := newTestRegistry(t, "alpha",
		Registration{Provider: staticProvider{id: "alpha"}, Enabled: true, WebhookSecret: "s1"},
		Registration{Provider: staticProvider{id: "beta"}, Enabled: false, WebhookSecret: "s2"},
	)

	provider, err := registry.Resolve("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", provider.ID())

	// Empty id falls back to the configured default.
	provider, err = registry.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "alpha", provider.ID())

	_, err = registry.Resolve("beta")
	assert.ErrorIs(t, err, ErrProviderInactive)

	_, err = registry.Resolve("gamma")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistry_WebhookSecret(t *testing.T) {
	registry := newTestRegistry(t, "alpha",
		Registration{Provider: staticProvider{id: "alpha"}, Enabled: true, WebhookSecret: "s1"},
		Registration{Provider: staticProvider{id: "beta"}, Enabled: false, WebhookSecret: "s2"},
	)

	secret, err := registry.WebhookSecret("alpha")
	require.NoError(t, err)
	assert.Equal(t, "s1", secret)

	_, err = registry.WebhookSecret("beta")
	assert.ErrorIs(t, err, ErrProviderInactive)
}

func TestRegistry_RejectsDuplicateProviders(t *testing.T) {
	_, err := NewRegistry(Params{
		Config: config.Config{},
		Logger: zap.NewNop(),
		Registrations: []Registration{
			{Provider: staticProvider{id: "alpha"}, Enabled: true},
			{Provider: staticProvider{id: "alpha"}, Enabled: true},
		},
	})
	require.Error(t, err)
}

func TestRegistry_ListAndPickup(t *testing.T) {
	registry := newTestRegistry(t, "alpha",
		Registration{Provider: staticProvider{id: "beta"}, Enabled: false},
		Registration{Provider: staticProvider{id: "alpha"}, Enabled: true},
	)

	infos := registry.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].ID)
	assert.True(t, infos[0].Enabled)
	assert.Equal(t, "beta", infos[1].ID)
	assert.False(t, infos[1].Enabled)

	pickup := registry.Pickup()
	assert.Equal(t, "Warehouse", pickup.Name)
	assert.Equal(t, "Dhaka", pickup.City)
}
