package shipping

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/config"
)

// Registry errors.
var (
	ErrUnknownProvider  = errors.New("unknown shipping provider")
	ErrProviderInactive = errors.New("shipping provider inactive")
)

// ProviderInfo describes a configured carrier for operational listings.
type ProviderInfo struct {
	ID      string
	Enabled bool
}

// Registry holds the configured carrier adapters and their credentials. It is
// built once at startup from configuration and read-only afterwards; adapters
// never read configuration themselves.
type Registry struct {
	providers map[string]Provider
	enabled   map[string]bool
	secrets   map[string]string
	pickup    PickupPoint
	defaultID string
}

// Registration pairs an adapter with its registry bookkeeping.
type Registration struct {
	Provider      Provider
	Enabled       bool
	WebhookSecret string
}

// Params collects registry dependencies via Fx.
type Params struct {
	fx.In

	Config        config.Config
	Logger        *zap.Logger
	Registrations []Registration `group:"shipping.providers"`
}

// Module wires the registry into the Fx graph.
var Module = fx.Provide(NewRegistry)

// NewRegistry assembles the registry from adapter registrations.
func NewRegistry(p Params) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider, len(p.Registrations)),
		enabled:   make(map[string]bool, len(p.Registrations)),
		secrets:   make(map[string]string, len(p.Registrations)),
		pickup: PickupPoint{
			Name:    p.Config.Shipping.Pickup.Name,
			Phone:   p.Config.Shipping.Pickup.Phone,
			Address: p.Config.Shipping.Pickup.Address,
			City:    p.Config.Shipping.Pickup.City,
		},
		defaultID: p.Config.Shipping.DefaultProvider,
	}

	for _, reg := range p.Registrations {
		if reg.Provider == nil {
			continue
		}
		id := reg.Provider.ID()
		if _, dup := r.providers[id]; dup {
			return nil, fmt.Errorf("duplicate shipping provider: %s", id)
		}
		r.providers[id] = reg.Provider
		r.enabled[id] = reg.Enabled
		r.secrets[id] = reg.WebhookSecret
		p.Logger.Info("shipping provider registered",
			zap.String("provider", id),
			zap.Bool("enabled", reg.Enabled),
		)
	}

	return r, nil
}

// Resolve returns the adapter for id, rejecting unknown or inactive carriers.
func (r *Registry) Resolve(id string) (Provider, error) {
	if id == "" {
		id = r.defaultID
	}
	provider, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	if !r.enabled[id] {
		return nil, fmt.Errorf("%w: %s", ErrProviderInactive, id)
	}
	return provider, nil
}

// WebhookSecret returns the shared secret for a carrier's webhook channel.
// Inactive carriers have no usable channel.
func (r *Registry) WebhookSecret(id string) (string, error) {
	if _, err := r.Resolve(id); err != nil {
		return "", err
	}
	return r.secrets[id], nil
}

// Pickup returns the configured warehouse pickup contact.
func (r *Registry) Pickup() PickupPoint {
	return r.pickup
}

// List enumerates configured carriers, sorted by id.
func (r *Registry) List() []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(r.providers))
	for id := range r.providers {
		infos = append(infos, ProviderInfo{ID: id, Enabled: r.enabled[id]})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
