package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulatory"
)

// GrantRepository persists milestone progress snapshots and serves the KPI
// aggregates the grant rules evaluate.
type GrantRepository struct {
	db *pgxpool.Pool
}

// NewGrantRepository creates a new grant repository
func NewGrantRepository(db *pgxpool.Pool) *GrantRepository {
	return &GrantRepository{db: db}
}

// RecordMilestoneProgress appends one assessment snapshot
func (r *GrantRepository) RecordMilestoneProgress(ctx context.Context, record *regulatory.MilestoneProgressRecord) error {
	body, err := json.Marshal(record.Status)
	if err != nil {
		return fmt.Errorf("failed to marshal milestone status: %w", err)
	}

	query := `
		INSERT INTO grant_milestone_progress (organization_id, milestone, progress, recorded_at, body)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.Exec(ctx, query,
		record.OrganizationID, record.Status.Milestone,
		record.Status.ProgressPercentage, record.RecordedAt, body)
	return err
}

// GetMilestoneHistory returns the recorded snapshots for one milestone,
// oldest first.
func (r *GrantRepository) GetMilestoneHistory(ctx context.Context, organizationID string, milestone int) ([]*regulatory.MilestoneProgressRecord, error) {
	query := `
		SELECT organization_id, recorded_at, body
		FROM grant_milestone_progress
		WHERE organization_id = $1 AND milestone = $2
		ORDER BY recorded_at`

	rows, err := r.db.Query(ctx, query, organizationID, milestone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*regulatory.MilestoneProgressRecord
	for rows.Next() {
		var record regulatory.MilestoneProgressRecord
		var body []byte
		if err := rows.Scan(&record.OrganizationID, &record.RecordedAt, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &record.Status); err != nil {
			return nil, fmt.Errorf("failed to unmarshal milestone status: %w", err)
		}
		out = append(out, &record)
	}
	return out, rows.Err()
}

// CalculateFIRSGrantKPIs aggregates the taxpayer metrics the grant rules key
// off. The taxpayer_metrics view is maintained by the onboarding pipeline;
// missing rows read as zero so a fresh organization scores not_started rather
// than erroring.
func (r *GrantRepository) CalculateFIRSGrantKPIs(ctx context.Context, organizationID string) (map[string]float64, error) {
	query := `
		SELECT metric, value
		FROM taxpayer_metrics
		WHERE organization_id = $1`

	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query taxpayer metrics: %w", err)
	}
	defer rows.Close()

	kpis := make(map[string]float64)
	for rows.Next() {
		var metric string
		var value float64
		if err := rows.Scan(&metric, &value); err != nil {
			return nil, err
		}
		kpis[metric] = value
	}
	return kpis, rows.Err()
}
