package inventory

import (
	"context"
	"errors"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/audit"
	"github.com/Additional-Code/caravel/internal/entity"
	repo "github.com/Additional-Code/caravel/internal/repository/inventory"
	"github.com/Additional-Code/caravel/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/caravel/service/inventory")

// maxAdjustAttempts bounds the automatic retry on a version conflict.
// Conflicts are pure re-read-and-reapply, so a short server-side loop is
// safe; anything longer surfaces to the caller.
const maxAdjustAttempts = 3

// Ledger is the persistence contract the service drives.
type Ledger interface {
	GetByProductID(ctx context.Context, productID int64) (*entity.InventoryRecord, error)
	Reserve(ctx context.Context, productID, quantity int64, reason string, actorID int64) error
	Release(ctx context.Context, productID, quantity int64, reason string, actorID int64) error
	Adjust(ctx context.Context, productID, quantity int64, op entity.StockOperation, reason string, actorID int64) (*repo.AdjustResult, error)
}

// AdjustItem is one requested stock adjustment.
type AdjustItem struct {
	ProductID int64
	Quantity  int64
	Operation entity.StockOperation
	Reason    string
}

// AdjustOutcome is the per-item result of an adjustment. Bulk calls return
// one outcome per item; unrelated products never block each other.
type AdjustOutcome struct {
	ProductID     int64
	Success       bool
	ErrorKind     string
	Message       string
	PreviousStock int64
	NewStock      int64
}

// Service exposes the inventory ledger operations.
type Service struct {
	ledger  Ledger
	auditor *audit.Recorder
	logger  *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Auditor    *audit.Recorder
	Logger     *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		ledger:  p.Repository,
		auditor: p.Auditor,
		logger:  p.Logger,
	}
}

// NewServiceWith builds a Service over an explicit ledger; used by tests and
// by the orchestrator wiring.
func NewServiceWith(ledger Ledger, auditor *audit.Recorder, logger *zap.Logger) *Service {
	return &Service{ledger: ledger, auditor: auditor, logger: logger}
}

// Get returns the inventory record for a product.
func (s *Service) Get(ctx context.Context, productID int64) (*entity.InventoryRecord, error) {
	record, err := s.ledger.GetByProductID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound("inventory record not found")
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load inventory record", errorbank.WithCause(err))
	}
	return record, nil
}

// Reserve places a hold against available stock.
func (s *Service) Reserve(ctx context.Context, productID, quantity int64, reason string, actorID int64) error {
	ctx, span := serviceTracer.Start(ctx, "InventoryService.Reserve", trace.WithAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int64("quantity", quantity),
	))
	defer span.End()

	err := s.ledger.Reserve(ctx, productID, quantity, reason, actorID)
	if err != nil {
		span.SetStatus(codes.Error, "reserve failed")
	}
	return err
}

// Release returns a hold, floored at zero.
func (s *Service) Release(ctx context.Context, productID, quantity int64, reason string, actorID int64) error {
	ctx, span := serviceTracer.Start(ctx, "InventoryService.Release", trace.WithAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int64("quantity", quantity),
	))
	defer span.End()

	err := s.ledger.Release(ctx, productID, quantity, reason, actorID)
	if err != nil {
		span.SetStatus(codes.Error, "release failed")
	}
	return err
}

// Adjust changes the raw stock figure, retrying version conflicts a bounded
// number of times. Every attempt that lands writes one stock change log row.
func (s *Service) Adjust(ctx context.Context, item AdjustItem, actorID int64) (*repo.AdjustResult, error) {
	ctx, span := serviceTracer.Start(ctx, "InventoryService.Adjust", trace.WithAttributes(
		attribute.Int64("product.id", item.ProductID),
		attribute.String("operation", string(item.Operation)),
	))
	defer span.End()

	switch item.Operation {
	case entity.StockOpIncrement, entity.StockOpDecrement, entity.StockOpSet:
	default:
		return nil, errorbank.BadRequest("unsupported stock operation: " + string(item.Operation))
	}
	if item.Quantity < 0 {
		return nil, errorbank.BadRequest("quantity must not be negative")
	}

	var (
		result *repo.AdjustResult
		err    error
	)
	for attempt := 0; attempt < maxAdjustAttempts; attempt++ {
		result, err = s.ledger.Adjust(ctx, item.ProductID, item.Quantity, item.Operation, item.Reason, actorID)
		if !errors.Is(err, repo.ErrConflict) {
			break
		}
	}

	if errors.Is(err, repo.ErrNotFound) {
		return nil, errorbank.NotFound("inventory record not found")
	}
	if errors.Is(err, repo.ErrConflict) {
		return nil, errorbank.Conflict("inventory record is changing concurrently; retry")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "adjust failed")
		return nil, errorbank.Internal("failed to adjust stock", errorbank.WithCause(err))
	}

	s.auditor.Record(ctx, "inventory", strconv.FormatInt(item.ProductID, 10), actorID, entity.AuditUpdate,
		map[string]int64{"stock": result.PreviousStock},
		map[string]any{
			"operation": item.Operation,
			"requested": item.Quantity,
			"new_stock": result.NewStock,
			"reason":    item.Reason,
		},
	)
	return result, nil
}

// BulkAdjust applies each adjustment independently and reports a per-item
// outcome; one bad item never rolls back its siblings.
func (s *Service) BulkAdjust(ctx context.Context, items []AdjustItem, actorID int64) []AdjustOutcome {
	ctx, span := serviceTracer.Start(ctx, "InventoryService.BulkAdjust", trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()

	outcomes := make([]AdjustOutcome, 0, len(items))
	for _, item := range items {
		result, err := s.Adjust(ctx, item, actorID)
		if err != nil {
			appErr := errorbank.From(err)
			outcomes = append(outcomes, AdjustOutcome{
				ProductID: item.ProductID,
				Success:   false,
				ErrorKind: string(appErr.Kind()),
				Message:   appErr.Message(),
			})
			continue
		}
		outcomes = append(outcomes, AdjustOutcome{
			ProductID:     item.ProductID,
			Success:       true,
			PreviousStock: result.PreviousStock,
			NewStock:      result.NewStock,
		})
	}
	return outcomes
}
