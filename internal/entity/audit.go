package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// AuditAction enumerates audit log actions.
type AuditAction string

const (
	AuditCreate AuditAction = "create"
	AuditUpdate AuditAction = "update"
	AuditDelete AuditAction = "delete"
	AuditCustom AuditAction = "custom"
)

// AuditLog is an append-only record of a state-changing operation.
type AuditLog struct {
	bun.BaseModel `bun:"table:audit_logs"`

	ID        int64       `bun:",pk,autoincrement"`
	ModelName string      `bun:"model_name"`
	RecordID  string      `bun:"record_id"`
	ActorID   int64       `bun:"actor_id"`
	Action    AuditAction `bun:"action"`
	OldValue  []byte      `bun:"old_value,nullzero,type:jsonb"`
	Details   []byte      `bun:"details,nullzero,type:jsonb"`
	CreatedAt time.Time   `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
