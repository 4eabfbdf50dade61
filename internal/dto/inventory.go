package dto

import "time"

// InventoryResponse represents one product's stock position.
type InventoryResponse struct {
	ProductID int64     `json:"product_id"`
	Stock     int64     `json:"stock"`
	Reserved  int64     `json:"reserved"`
	Available int64     `json:"available"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AdjustOutcomeResponse is the per-item result of a stock adjustment.
type AdjustOutcomeResponse struct {
	ProductID     int64  `json:"product_id"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
	PreviousStock int64  `json:"previous_stock,omitempty"`
	NewStock      int64  `json:"new_stock,omitempty"`
}
