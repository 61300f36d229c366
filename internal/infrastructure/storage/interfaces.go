package storage

import (
	"context"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/audit"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/workflow"
)

// AuditStore is append-only durable persistence for the audit coordinator.
// Reads are keyed lookups only; no query contract beyond by-id.
type AuditStore interface {
	SaveEvent(ctx context.Context, event *audit.Event) error
	SaveTrail(ctx context.Context, trail *audit.Trail) error
	SaveSession(ctx context.Context, session *audit.Session) error
	SaveReport(ctx context.Context, report *audit.Report) error

	GetEvent(ctx context.Context, eventID string) (*audit.Event, error)
	GetTrail(ctx context.Context, trailID string) (*audit.Trail, error)
	GetSession(ctx context.Context, sessionID string) (*audit.Session, error)
}

// ExecutionStore is append-only durable persistence for the orchestrator.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, execution *workflow.Execution) error
	SaveTrailSnapshot(ctx context.Context, snapshot *workflow.TrailSnapshot) error
	SaveReport(ctx context.Context, report *workflow.Report) error

	GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error)
}

// ErrNotFound is returned by keyed lookups when no row exists.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e ErrNotFound) Error() string {
	return e.Kind + " not found: " + e.ID
}
