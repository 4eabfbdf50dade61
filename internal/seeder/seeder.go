package seeder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/database"
	"github.com/Additional-Code/caravel/internal/entity"
)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// Module provides the seeder to Fx.
var Module = fx.Provide(New)

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

// All seeds users, inventory, and a demo order if they are missing.
func (s *Seeder) All(ctx context.Context) error {
	if err := s.Users(ctx); err != nil {
		return err
	}
	if err := s.Inventory(ctx); err != nil {
		return err
	}
	return s.Orders(ctx)
}

// Users seeds one staff and one customer account.
func (s *Seeder) Users(ctx context.Context) error {
	samples := []entity.User{
		{Email: "admin@caravel.local", Role: "admin"},
		{Email: "customer@caravel.local", Role: "customer"},
	}

	for _, sample := range samples {
		user := sample
		_, err := s.db.NewInsert().Model(&user).
			On("CONFLICT (email) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded users", zap.Int("count", len(samples)))
	}
	return nil
}

// Inventory seeds stock positions for a handful of demo products.
func (s *Seeder) Inventory(ctx context.Context) error {
	samples := []entity.InventoryRecord{
		{ProductID: 1, Stock: 100},
		{ProductID: 2, Stock: 25},
		{ProductID: 3, Stock: 0},
	}

	for _, sample := range samples {
		record := sample
		_, err := s.db.NewInsert().Model(&record).
			On("CONFLICT (product_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
	}

	if s.logger != nil {
		s.logger.Info("seeded inventory", zap.Int("count", len(samples)))
	}
	return nil
}

// Orders seeds a pending demo order with two line items.
func (s *Seeder) Orders(ctx context.Context) error {
	now := time.Now().UTC()
	order := entity.Order{
		Number:        "CRV-" + uuid.NewString()[:8],
		Status:        entity.StatusPending,
		PaymentStatus: entity.PaymentPending,
		CustomerID:    1,
		TotalAmount:   4500,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&order).Exec(ctx); err != nil {
			return err
		}

		items := []entity.OrderItem{
			{OrderID: order.ID, ProductID: 1, Quantity: 2, UnitPrice: 1500},
			{OrderID: order.ID, ProductID: 2, Quantity: 1, UnitPrice: 1500},
		}
		for _, sample := range items {
			item := sample
			if _, err := tx.NewInsert().Model(&item).Exec(ctx); err != nil {
				return err
			}
		}

		if s.logger != nil {
			s.logger.Info("seeded demo order", zap.String("number", order.Number))
		}
		return nil
	})
}
