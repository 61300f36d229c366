// Package fixtures provides canonical domain payloads shared across service
// tests.
package fixtures

import (
	"strings"
	"time"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulatory"
)

// HandoffData returns an SI→APP handoff payload that satisfies the default
// handoff and certificate rules: required fields present, SI total matching
// the recomputed total, and a plausible certificate blob.
func HandoffData() map[string]interface{} {
	return map[string]interface{}{
		"si_data": map[string]interface{}{
			"invoice_number": "INV-2026-0001",
			"irn":            "IRN-94000021",
		},
		"validation_results": map[string]interface{}{
			"schema_valid":     true,
			"calculated_total": 100.0,
		},
		"si_data.total_amount": 100.0,
		"certificate":          strings.Repeat("A", 64),
	}
}

// RegulatoryChange returns a FIRS technical-specification change affecting
// both service sides, with a deadline at the end of June 2026.
func RegulatoryChange(id string) *regulatory.Change {
	deadline := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	return &regulatory.Change{
		ChangeID:           id,
		Source:             regulatory.SourceFIRS,
		ChangeType:         regulatory.ChangeTechnicalSpecification,
		Title:              "UBL 3.0 schema migration",
		ImpactLevel:        regulatory.ImpactHigh,
		Status:             regulatory.ChangeAnnounced,
		AffectedServices:   []string{"si_services", "app_services"},
		ComplianceDeadline: &deadline,
		EffectiveDate:      time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		PublishedDate:      time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	}
}

// GrantKPIs returns a KPI snapshot with milestones 1-3 fully met, milestone 4
// half met, and milestone 5 untouched.
func GrantKPIs() map[string]float64 {
	return map[string]float64{
		"total_taxpayers_onboarded":     65,
		"active_transmission_rate":      0.75,
		"large_taxpayer_count":          6,
		"sector_diversity_score":        0.65,
		"sme_taxpayer_count":            10,
		"comprehensive_validation_rate": 0.9,
	}
}
