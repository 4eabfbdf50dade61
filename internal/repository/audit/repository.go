package audit

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/Additional-Code/caravel/internal/database"
	"github.com/Additional-Code/caravel/internal/entity"
)

// Module provides the audit repository to Fx.
var Module = fx.Provide(NewRepository)

// Repository is the append-only audit log store. There is exactly one
// operation; entries are never updated or deleted.
type Repository struct {
	writer *bun.DB
}

// NewRepository wires a repository backed by the primary connection.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer}
}

// Insert appends one audit log entry.
func (r *Repository) Insert(ctx context.Context, entry *entity.AuditLog) error {
	if entry == nil {
		return errors.New("nil audit entry")
	}
	_, err := r.writer.NewInsert().Model(entry).Exec(ctx)
	return err
}
