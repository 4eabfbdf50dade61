package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// User is the slice of the account record fulfillment cares about: the
// fraud-signal flag set when an owned order is soft-deleted or marked fake.
// Account issuance and authentication live elsewhere.
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID        int64      `bun:",pk,autoincrement"`
	Email     string     `bun:"email"`
	Role      string     `bun:"role"`
	Flagged   bool       `bun:"flagged"`
	FlaggedAt *time.Time `bun:"flagged_at"`
	CreatedAt time.Time  `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero"`
}
