package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusShipped, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusDelivered, false},
		{StatusProcessing, StatusShipped, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusPending, false},
		{StatusProcessing, StatusDelivered, false},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusCancelled, true},
		{StatusShipped, StatusPending, false},
		{StatusShipped, StatusProcessing, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusDelivered, StatusShipped, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusShipped, false},
		{StatusPending, StatusPending, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusShipped.Terminal())
}

func TestStatus_Shippable(t *testing.T) {
	assert.True(t, StatusPending.Shippable())
	assert.True(t, StatusProcessing.Shippable())
	assert.False(t, StatusShipped.Shippable())
	assert.False(t, StatusDelivered.Shippable())
	assert.False(t, StatusCancelled.Shippable())
}

func TestOrder_SoftDeleted(t *testing.T) {
	order := &Order{}
	assert.False(t, order.SoftDeleted())

	now := order.CreatedAt
	order.DeletedAt = &now
	assert.True(t, order.SoftDeleted())
}

func TestInventoryRecord_Available(t *testing.T) {
	record := &InventoryRecord{Stock: 10, Reserved: 3}
	assert.Equal(t, int64(7), record.Available())

	record = &InventoryRecord{Stock: 5, Reserved: 5}
	assert.Equal(t, int64(0), record.Available())
}
