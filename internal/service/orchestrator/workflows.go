package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/workflow"
)

// Workflow ids for the seeded standard workflows.
const (
	WorkflowFullComplianceCheck = "full_compliance_check"
	WorkflowCrossRoleValidation = "cross_role_validation"
	WorkflowEmergencyCompliance = "emergency_compliance"
)

// seedWorkflows registers the three standard workflow definitions.
func (o *Orchestrator) seedWorkflows() {
	full := &workflow.Definition{
		WorkflowID:  WorkflowFullComplianceCheck,
		Name:        "Full Compliance Check",
		Description: "Complete compliance sweep across all phases",
		Phases: []workflow.Phase{
			workflow.PhasePreparation,
			workflow.PhaseRegulationEnforcement,
			workflow.PhaseCrossRoleValidation,
			workflow.PhaseAuditTrailGeneration,
			workflow.PhaseReporting,
			workflow.PhaseRemediation,
		},
		RegulationTypes: []regulation.RegulationType{
			regulation.RegulationFIRSEInvoice,
			regulation.RegulationVATCompliance,
			regulation.RegulationDataProtection,
		},
		ValidationPhases: []validation.Phase{
			validation.PhaseHandoff,
			validation.PhaseTransmission,
		},
		Priority:    workflow.PriorityNormal,
		Timeout:     10 * time.Minute,
		RetryPolicy: workflow.RetryPolicy{MaxRetries: 1, StopOnFailure: false},
	}

	crossRole := &workflow.Definition{
		WorkflowID:  WorkflowCrossRoleValidation,
		Name:        "Cross-Role Validation",
		Description: "Focused validation of an SI/APP handoff",
		Phases: []workflow.Phase{
			workflow.PhasePreparation,
			workflow.PhaseCrossRoleValidation,
			workflow.PhaseReporting,
		},
		ValidationPhases: []validation.Phase{
			validation.PhaseHandoff,
		},
		Priority:    workflow.PriorityHigh,
		Timeout:     5 * time.Minute,
		RetryPolicy: workflow.RetryPolicy{MaxRetries: 0, StopOnFailure: false},
	}

	emergency := &workflow.Definition{
		WorkflowID:  WorkflowEmergencyCompliance,
		Name:        "Emergency Compliance",
		Description: "Incident-driven compliance check, fails fast",
		Phases: []workflow.Phase{
			workflow.PhaseRegulationEnforcement,
			workflow.PhaseCrossRoleValidation,
			workflow.PhaseAuditTrailGeneration,
			workflow.PhaseReporting,
		},
		RegulationTypes: []regulation.RegulationType{
			regulation.RegulationSecurityStandard,
			regulation.RegulationDataProtection,
		},
		ValidationPhases: []validation.Phase{
			validation.PhaseTransmission,
		},
		Priority:    workflow.PriorityEmergency,
		Timeout:     2 * time.Minute,
		RetryPolicy: workflow.RetryPolicy{MaxRetries: 0, StopOnFailure: true},
	}

	// Seeding happens inside the constructor; these cannot collide.
	for _, def := range []*workflow.Definition{full, crossRole, emergency} {
		if err := o.RegisterWorkflow(def); err != nil {
			o.logger.Error("failed to seed workflow",
				zap.String("workflow_id", def.WorkflowID), zap.Error(err))
		}
	}
}
