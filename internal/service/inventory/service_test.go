package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/audit"
	"github.com/Additional-Code/caravel/internal/entity"
	repo "github.com/Additional-Code/caravel/internal/repository/inventory"
	"github.com/Additional-Code/caravel/pkg/errorbank"
)

type fakeLedger struct {
	records      map[int64]*entity.InventoryRecord
	reserveErr   error
	adjustErrs   []error // consumed one per Adjust call
	adjustCalls  int
	releaseCalls int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[int64]*entity.InventoryRecord{}}
}

func (f *fakeLedger) GetByProductID(ctx context.Context, productID int64) (*entity.InventoryRecord, error) {
	record, ok := f.records[productID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return record, nil
}

func (f *fakeLedger) Reserve(ctx context.Context, productID, quantity int64, reason string, actorID int64) error {
	if f.reserveErr != nil {
		return f.reserveErr
	}
	record, ok := f.records[productID]
	if !ok {
		return repo.ErrNotFound
	}
	if record.Stock-record.Reserved < quantity {
		return repo.ErrInsufficientStock
	}
	record.Reserved += quantity
	return nil
}

func (f *fakeLedger) Release(ctx context.Context, productID, quantity int64, reason string, actorID int64) error {
	f.releaseCalls++
	record, ok := f.records[productID]
	if !ok {
		return repo.ErrNotFound
	}
	record.Reserved -= quantity
	if record.Reserved < 0 {
		record.Reserved = 0
	}
	return nil
}

func (f *fakeLedger) Adjust(ctx context.Context, productID, quantity int64, op entity.StockOperation, reason string, actorID int64) (*repo.AdjustResult, error) {
	f.adjustCalls++
	if len(f.adjustErrs) > 0 {
		err := f.adjustErrs[0]
		f.adjustErrs = f.adjustErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	record, ok := f.records[productID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	prev := record.Stock
	switch op {
	case entity.StockOpIncrement:
		record.Stock += quantity
	case entity.StockOpDecrement:
		record.Stock -= quantity
	case entity.StockOpSet:
		record.Stock = quantity
	}
	if record.Stock < record.Reserved {
		record.Stock = record.Reserved
	}
	record.Version++
	return &repo.AdjustResult{ProductID: productID, PreviousStock: prev, NewStock: record.Stock, Requested: quantity}, nil
}

type nopAuditStore struct{}

func (nopAuditStore) Insert(ctx context.Context, entry *entity.AuditLog) error { return nil }

func newTestService(ledger Ledger) *Service {
	logger := zap.NewNop()
	return NewServiceWith(ledger, audit.NewRecorder(nopAuditStore{}, logger), logger)
}

func TestService_Reserve_InsufficientStock(t *testing.T) {
	ledger := newFakeLedger()
	ledger.records[1] = &entity.InventoryRecord{ProductID: 1, Stock: 5, Reserved: 4}
	svc := newTestService(ledger)

	err := svc.Reserve(context.Background(), 1, 2, "test", 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repo.ErrInsufficientStock))
	assert.Equal(t, int64(4), ledger.records[1].Reserved)
}

func TestService_ReserveRelease_RoundTrip(t *testing.T) {
	ledger := newFakeLedger()
	ledger.records[1] = &entity.InventoryRecord{ProductID: 1, Stock: 10}
	svc := newTestService(ledger)
	ctx := context.Background()

	require.NoError(t, svc.Reserve(ctx, 1, 3, "test", 7))
	assert.Equal(t, int64(3), ledger.records[1].Reserved)
	assert.Equal(t, int64(7), ledger.records[1].Available())

	require.NoError(t, svc.Release(ctx, 1, 3, "test", 7))
	assert.Equal(t, int64(0), ledger.records[1].Reserved)

	// Releasing again floors at zero instead of going negative.
	require.NoError(t, svc.Release(ctx, 1, 3, "test", 7))
	assert.Equal(t, int64(0), ledger.records[1].Reserved)
}

func TestService_Adjust_RetriesVersionConflict(t *testing.T) {
	ledger := newFakeLedger()
	ledger.records[1] = &entity.InventoryRecord{ProductID: 1, Stock: 10}
	ledger.adjustErrs = []error{repo.ErrConflict, repo.ErrConflict}
	svc := newTestService(ledger)

	result, err := svc.Adjust(context.Background(), AdjustItem{
		ProductID: 1,
		Quantity:  5,
		Operation: entity.StockOpIncrement,
		Reason:    "restock",
	}, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, ledger.adjustCalls)
	assert.Equal(t, int64(10), result.PreviousStock)
	assert.Equal(t, int64(15), result.NewStock)
}

func TestService_Adjust_GivesUpAfterBoundedRetries(t *testing.T) {
	ledger := newFakeLedger()
	ledger.records[1] = &entity.InventoryRecord{ProductID: 1, Stock: 10}
	ledger.adjustErrs = []error{repo.ErrConflict, repo.ErrConflict, repo.ErrConflict}
	svc := newTestService(ledger)

	_, err := svc.Adjust(context.Background(), AdjustItem{
		ProductID: 1,
		Quantity:  5,
		Operation: entity.StockOpIncrement,
	}, 7)
	require.Error(t, err)
	assert.Equal(t, errorbank.KindConflict, errorbank.From(err).Kind())
	assert.Equal(t, 3, ledger.adjustCalls)
}

func TestService_Adjust_RejectsBadInput(t *testing.T) {
	svc := newTestService(newFakeLedger())
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustItem{ProductID: 1, Quantity: 1, Operation: "reserve"}, 7)
	require.Error(t, err)
	assert.Equal(t, errorbank.KindBadRequest, errorbank.From(err).Kind())

	_, err = svc.Adjust(ctx, AdjustItem{ProductID: 1, Quantity: -1, Operation: entity.StockOpSet}, 7)
	require.Error(t, err)
	assert.Equal(t, errorbank.KindBadRequest, errorbank.From(err).Kind())
}

func TestService_BulkAdjust_MixedOutcomes(t *testing.T) {
	ledger := newFakeLedger()
	ledger.records[1] = &entity.InventoryRecord{ProductID: 1, Stock: 10}
	ledger.records[3] = &entity.InventoryRecord{ProductID: 3, Stock: 2}
	svc := newTestService(ledger)

	outcomes := svc.BulkAdjust(context.Background(), []AdjustItem{
		{ProductID: 1, Quantity: 5, Operation: entity.StockOpIncrement},
		{ProductID: 2, Quantity: 1, Operation: entity.StockOpIncrement}, // no record
		{ProductID: 3, Quantity: 7, Operation: entity.StockOpSet},
	}, 7)

	require.Len(t, outcomes, 3)

	assert.True(t, outcomes[0].Success)
	assert.Equal(t, int64(15), outcomes[0].NewStock)

	assert.False(t, outcomes[1].Success)
	assert.Equal(t, string(errorbank.KindNotFound), outcomes[1].ErrorKind)

	// One failed sibling never blocks the rest.
	assert.True(t, outcomes[2].Success)
	assert.Equal(t, int64(7), outcomes[2].NewStock)
}
