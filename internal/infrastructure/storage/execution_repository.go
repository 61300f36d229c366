package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/workflow"
)

// ExecutionRepository persists workflow execution records as JSONB rows.
type ExecutionRepository struct {
	db *pgxpool.Pool
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *pgxpool.Pool) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// SaveExecution upserts the execution row; running executions are persisted
// mid-flight and finalized on completion.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *workflow.Execution) error {
	body, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	query := `
		INSERT INTO compliance_executions (id, workflow_id, status, started_at, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    body = EXCLUDED.body`

	_, err = r.db.Exec(ctx, query,
		execution.ExecutionID, execution.WorkflowID, string(execution.Status),
		execution.StartedAt, body)
	return err
}

// SaveTrailSnapshot appends an execution trail snapshot row
func (r *ExecutionRepository) SaveTrailSnapshot(ctx context.Context, snapshot *workflow.TrailSnapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal trail snapshot: %w", err)
	}

	query := `
		INSERT INTO execution_trail_snapshots (id, execution_id, checksum, created_at, body)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.Exec(ctx, query,
		snapshot.SnapshotID, snapshot.ExecutionID, snapshot.Checksum,
		snapshot.CreatedAt, body)
	return err
}

// SaveReport appends a compliance report row
func (r *ExecutionRepository) SaveReport(ctx context.Context, report *workflow.Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal compliance report: %w", err)
	}

	query := `
		INSERT INTO compliance_reports (id, execution_id, generated_at, body)
		VALUES ($1, $2, $3, $4)`

	_, err = r.db.Exec(ctx, query,
		report.ReportID, report.ExecutionID, report.GeneratedAt, body)
	return err
}

// GetExecution looks up one execution by id
func (r *ExecutionRepository) GetExecution(ctx context.Context, executionID string) (*workflow.Execution, error) {
	return getByID[workflow.Execution](ctx, r.db,
		`SELECT body FROM compliance_executions WHERE id = $1`, executionID, "compliance execution")
}
