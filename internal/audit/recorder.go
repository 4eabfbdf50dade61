package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/entity"
	auditrepo "github.com/Additional-Code/caravel/internal/repository/audit"
)

var writeFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "caravel_audit_write_failures_total",
	Help: "Audit log writes that failed after the primary mutation succeeded.",
})

// Store is the audit persistence the recorder writes through.
type Store interface {
	Insert(ctx context.Context, entry *entity.AuditLog) error
}

// Recorder appends audit entries for every state-changing operation. Writes
// are best-effort: a failure after a successful mutation must not roll the
// mutation back, but it is surfaced as an error log and a metric rather than
// swallowed.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// Module provides the recorder to Fx, backed by the audit repository.
var Module = fx.Provide(func(repo *auditrepo.Repository, logger *zap.Logger) *Recorder {
	return NewRecorder(repo, logger)
})

// NewRecorder wires a Recorder over an audit store.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record appends one audit entry. oldValue and details are marshalled to
// JSON; either may be nil.
func (r *Recorder) Record(ctx context.Context, modelName, recordID string, actorID int64, action entity.AuditAction, oldValue, details any) {
	entry := &entity.AuditLog{
		ModelName: modelName,
		RecordID:  recordID,
		ActorID:   actorID,
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}

	if oldValue != nil {
		raw, err := json.Marshal(oldValue)
		if err != nil {
			r.fail(modelName, recordID, err)
			return
		}
		entry.OldValue = raw
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			r.fail(modelName, recordID, err)
			return
		}
		entry.Details = raw
	}

	if err := r.store.Insert(ctx, entry); err != nil {
		r.fail(modelName, recordID, err)
	}
}

func (r *Recorder) fail(modelName, recordID string, err error) {
	writeFailures.Inc()
	if r.logger != nil {
		r.logger.Error("audit write failed",
			zap.String("model", modelName),
			zap.String("record", recordID),
			zap.Error(err),
		)
	}
}
