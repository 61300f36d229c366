package regulatory

import (
	"context"
	"sync"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulatory"
)

// KPICalculator is the external collaborator supplying the KPI snapshot the
// grant rules are evaluated against.
type KPICalculator interface {
	CalculateFIRSGrantKPIs(ctx context.Context, organizationID string) (map[string]float64, error)
}

// KPICalculatorFunc adapts a function to the KPICalculator interface.
type KPICalculatorFunc func(ctx context.Context, organizationID string) (map[string]float64, error)

func (f KPICalculatorFunc) CalculateFIRSGrantKPIs(ctx context.Context, organizationID string) (map[string]float64, error) {
	return f(ctx, organizationID)
}

// GrantRepository persists milestone progress snapshots per monitoring pass.
type GrantRepository interface {
	RecordMilestoneProgress(ctx context.Context, record *regulatory.MilestoneProgressRecord) error
	GetMilestoneHistory(ctx context.Context, organizationID string, milestone int) ([]*regulatory.MilestoneProgressRecord, error)
}

// MemoryGrantRepository is an in-memory GrantRepository used in tests and
// single-node development runs.
type MemoryGrantRepository struct {
	mu      sync.Mutex
	records []*regulatory.MilestoneProgressRecord
}

// NewMemoryGrantRepository creates an empty in-memory grant repository
func NewMemoryGrantRepository() *MemoryGrantRepository {
	return &MemoryGrantRepository{}
}

func (r *MemoryGrantRepository) RecordMilestoneProgress(_ context.Context, record *regulatory.MilestoneProgressRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *MemoryGrantRepository) GetMilestoneHistory(_ context.Context, organizationID string, milestone int) ([]*regulatory.MilestoneProgressRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*regulatory.MilestoneProgressRecord
	for _, rec := range r.records {
		if rec.OrganizationID == organizationID && rec.Status.Milestone == milestone {
			out = append(out, rec)
		}
	}
	return out, nil
}
